package extend

import (
	"context"
	"errors"
	"time"

	"github.com/Nanguage/executor-engine/condition"
	"github.com/Nanguage/executor-engine/job"
	"github.com/Nanguage/executor-engine/scope"
)

// ErrNoEngine indicates a sentinel ran outside an engine-scoped
// context (sentinels must run as thread jobs on an engine).
var ErrNoEngine = errors.New("extend: sentinel requires an engine-scoped context")

// SentinelOptions configures sentinel and cron jobs.
type SentinelOptions struct {
	// Interval paces the condition checks.
	Interval time.Duration

	// Job options forwarded to the sentinel job itself.
	Job []job.Option
}

// SentinelOption configures NewSentinelJob and NewCronJob.
type SentinelOption func(*SentinelOptions)

// WithInterval sets the condition check interval.
func WithInterval(d time.Duration) SentinelOption {
	return func(o *SentinelOptions) { o.Interval = d }
}

// WithSentinelJobOptions forwards options to the sentinel job.
func WithSentinelJobOptions(opts ...job.Option) SentinelOption {
	return func(o *SentinelOptions) { o.Job = append(o.Job, opts...) }
}

// NewSentinelJob creates a long-running thread-kind job that watches a
// condition and submits a fresh job from factory each time it fires.
// The sentinel submits to the engine running it (scoped into the
// callable's context) and runs until cancelled.
func NewSentinelJob(name string, factory func() *job.Job, cond job.Condition, opts ...SentinelOption) *job.Job {
	o := SentinelOptions{Interval: 100 * time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}

	fn := func(ctx context.Context, _ ...any) (any, error) {
		eng, ok := scope.EngineFrom(ctx)
		if !ok {
			return nil, ErrNoEngine
		}
		view, _ := scope.ViewFrom(ctx)

		ticker := time.NewTicker(o.Interval)
		defer ticker.Stop()

		fired := 0
		for {
			select {
			case <-ctx.Done():
				return fired, nil
			case <-ticker.C:
			}

			if !cond.Satisfy(view) {
				continue
			}
			child := factory()
			if err := eng.Submit(ctx, child); err != nil {
				return fired, err
			}
			fired++
		}
	}

	jobOpts := append([]job.Option{job.WithKind(job.KindThread)}, o.Job...)
	return job.New(name, fn, jobOpts...)
}

// NewCronJob creates a sentinel gated on a time condition: submit a
// fresh job from factory every period.
//
//	extend.NewCronJob("report", factory, condition.Every(time.Hour))
//
// Cron-expression schedules work too:
//
//	extend.NewCronJob("nightly", factory, condition.MustSchedule("0 3 * * *"))
func NewCronJob(name string, factory func() *job.Job, timeCond job.Condition, opts ...SentinelOption) *job.Job {
	return NewSentinelJob(name, factory, timeCond, opts...)
}

// Every re-exports the period condition for cron construction.
func Every(period time.Duration) *condition.EveryPeriod {
	return condition.Every(period)
}
