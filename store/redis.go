package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	executor "github.com/Nanguage/executor-engine"
)

// Redis key naming: all keys are prefixed with "executor:" to avoid
// collisions. Each record lives at executor:job:{id}; the Set
// executor:job_ids tracks IDs for enumeration.
const (
	redisKeyPrefix = "executor:"
	redisIDsKey    = redisKeyPrefix + "job_ids"
)

func redisJobKey(jobID string) string { return redisKeyPrefix + "job:" + jobID }

var _ Snapshotter = (*Redis)(nil)

// Redis persists job records in a Redis instance. The caller owns the
// client lifecycle unless the snapshotter was built with NewRedisAddr.
type Redis struct {
	client    redis.Cmdable
	ownClient *redis.Client
}

// NewRedis creates a Redis snapshotter over an existing client.
func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client}
}

// NewRedisAddr creates a client for addr and returns a snapshotter that
// owns it. The client connects on first use.
func NewRedisAddr(addr string) *Redis {
	client := redis.NewClient(&redis.Options{Addr: addr})
	return &Redis{client: client, ownClient: client}
}

// Save implements Snapshotter.
func (r *Redis) Save(ctx context.Context, rec *Record) error {
	data, err := rec.Encode()
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, redisJobKey(rec.ID), data, 0)
	pipe.SAdd(ctx, redisIDsKey, rec.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: redis save %s: %w", rec.ID, err)
	}
	return nil
}

// Load implements Snapshotter.
func (r *Redis) Load(ctx context.Context, jobID string) (*Record, error) {
	data, err := r.client.Get(ctx, redisJobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, executor.ErrJobNotFound
		}
		return nil, fmt.Errorf("store: redis load %s: %w", jobID, err)
	}
	return DecodeRecord(data)
}

// Delete implements Snapshotter.
func (r *Redis) Delete(ctx context.Context, jobID string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, redisJobKey(jobID))
	pipe.SRem(ctx, redisIDsKey, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: redis delete %s: %w", jobID, err)
	}
	return nil
}

// List implements Snapshotter.
func (r *Redis) List(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, redisIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("store: redis list: %w", err)
	}
	return ids, nil
}

// Close implements Snapshotter.
func (r *Redis) Close() error {
	if r.ownClient != nil {
		return r.ownClient.Close()
	}
	return nil
}
