// Package store holds the engine's job collection, partitioned into one
// insertion-ordered bucket per lifecycle status, plus the Snapshotter
// contract for persisting job records. Backends: disk (msgpack files)
// and Redis.
package store

import (
	"sync"

	executor "github.com/Nanguage/executor-engine"
	"github.com/Nanguage/executor-engine/id"
	"github.com/Nanguage/executor-engine/job"
)

// Statuses are the store's bucket keys, in iteration order.
var Statuses = []job.Status{
	job.StatusPending,
	job.StatusRunning,
	job.StatusDone,
	job.StatusFailed,
	job.StatusCancelled,
}

// bucket is an insertion-ordered set of jobs.
type bucket struct {
	order []string
	items map[string]*job.Job
}

func newBucket() *bucket {
	return &bucket{items: make(map[string]*job.Job)}
}

func (b *bucket) add(j *job.Job) {
	key := j.ID().String()
	if _, exists := b.items[key]; exists {
		return
	}
	b.items[key] = j
	b.order = append(b.order, key)
}

func (b *bucket) remove(key string) (*job.Job, bool) {
	j, ok := b.items[key]
	if !ok {
		return nil, false
	}
	delete(b.items, key)
	for i, k := range b.order {
		if k == key {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return j, true
}

func (b *bucket) jobs() []*job.Job {
	out := make([]*job.Job, 0, len(b.order))
	for _, key := range b.order {
		out = append(out, b.items[key])
	}
	return out
}

// Store is the engine's job collection. All mutations happen on the
// scheduler goroutine; the mutex exists so status queries from user
// goroutines see a consistent view.
type Store struct {
	mu      sync.RWMutex
	buckets map[job.Status]*bucket
}

// New creates an empty store.
func New() *Store {
	s := &Store{buckets: make(map[job.Status]*bucket, len(Statuses))}
	for _, status := range Statuses {
		s.buckets[status] = newBucket()
	}
	return s
}

// Add inserts a job into the bucket matching its current status.
func (s *Store) Add(j *job.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[j.Status()].add(j)
}

// Move relocates a job between buckets. The job must currently be in
// the from bucket.
func (s *Store) Move(j *job.Job, from, to job.Status) error {
	if from == to {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	moved, ok := s.buckets[from].remove(j.ID().String())
	if !ok {
		return executor.ErrJobNotFound
	}
	s.buckets[to].add(moved)
	return nil
}

// Remove deletes a job from whichever bucket holds it.
func (s *Store) Remove(jobID id.JobID) {
	key := jobID.String()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.buckets {
		if _, ok := b.remove(key); ok {
			return
		}
	}
}

// GetByID searches all buckets for the job.
func (s *Store) GetByID(jobID id.JobID) (*job.Job, bool) {
	key := jobID.String()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, status := range Statuses {
		if j, ok := s.buckets[status].items[key]; ok {
			return j, true
		}
	}
	return nil, false
}

// JobStatus implements job.ConditionView.
func (s *Store) JobStatus(jobID id.JobID) (job.Status, bool) {
	j, ok := s.GetByID(jobID)
	if !ok {
		return "", false
	}
	return j.Status(), true
}

// ByStatus returns the bucket's jobs in insertion order.
func (s *Store) ByStatus(status job.Status) []*job.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[status]
	if !ok {
		return nil
	}
	return b.jobs()
}

// Count returns the number of jobs in the given bucket.
func (s *Store) Count(status job.Status) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buckets[status]
	if !ok {
		return 0
	}
	return len(b.items)
}

// All returns every job across all buckets.
func (s *Store) All() []*job.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*job.Job
	for _, status := range Statuses {
		out = append(out, s.buckets[status].jobs()...)
	}
	return out
}

// Clear empties the given buckets (all of them when none given).
func (s *Store) Clear(statuses ...job.Status) {
	if len(statuses) == 0 {
		statuses = Statuses
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, status := range statuses {
		s.buckets[status] = newBucket()
	}
}

// ClearNonActive empties the terminal buckets.
func (s *Store) ClearNonActive() {
	s.Clear(job.StatusDone, job.StatusFailed, job.StatusCancelled)
}
