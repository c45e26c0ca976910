package job

import (
	"context"
	"sync"

	executor "github.com/Nanguage/executor-engine"
	"github.com/Nanguage/executor-engine/id"
)

// Future is a handle on a job's eventual result. It may be passed as an
// argument to another job, in which case the engine treats it as a
// dependency edge: the consumer runs only after the producer is done,
// and receives the producer's result value in place of the Future.
type Future struct {
	job *Job

	mu        sync.Mutex
	done      chan struct{}
	completed bool
	result    any
	err       error
	stream    *Stream

	doneCallbacks []func(any)
	errCallbacks  []func(error)
}

func newFuture(j *Job) *Future {
	return &Future{job: j, done: make(chan struct{})}
}

// JobID returns the identifier of the producing job.
func (f *Future) JobID() id.JobID { return f.job.ID() }

// Job returns the producing job.
func (f *Future) Job() *Job { return f.job }

// Done reports whether the producing job has terminated.
func (f *Future) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

// DoneChan returns a channel closed when the producing job terminates.
// A retry or rerun replaces the channel; callers should re-fetch it
// after observing completion.
func (f *Future) DoneChan() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// Result blocks until the producing job terminates and returns its
// result, the stored error if it failed, or executor.ErrCancelled.
func (f *Future) Result(ctx context.Context) (any, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err
}

// Err blocks until the producing job terminates and returns the stored
// error, or nil on success.
func (f *Future) Err(ctx context.Context) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// TryResult returns the stored result and error without blocking. The
// third return is false while the producing job is still active.
func (f *Future) TryResult() (any, error, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.err, f.completed
}

// Stream returns the lazy-sequence handle for a streaming job, or false
// for ordinary jobs.
func (f *Future) Stream() (*Stream, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stream, f.stream != nil
}

// OnDone registers an observer invoked with the result when the
// producing job completes successfully. If the job already completed
// the observer fires immediately.
func (f *Future) OnDone(fn func(any)) {
	f.mu.Lock()
	if f.completed && f.err == nil {
		res := f.result
		f.mu.Unlock()
		fn(res)
		return
	}
	f.doneCallbacks = append(f.doneCallbacks, fn)
	f.mu.Unlock()
}

// OnError registers an observer invoked with the stored error when the
// producing job fails or is cancelled.
func (f *Future) OnError(fn func(error)) {
	f.mu.Lock()
	if f.completed && f.err != nil {
		err := f.err
		f.mu.Unlock()
		fn(err)
		return
	}
	f.errCallbacks = append(f.errCallbacks, fn)
	f.mu.Unlock()
}

func (f *Future) wait(ctx context.Context) error {
	for {
		f.mu.Lock()
		if f.completed {
			f.mu.Unlock()
			return nil
		}
		ch := f.done
		f.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return executor.ErrTimeout
			}
			return ctx.Err()
		}
	}
}

func (f *Future) resolve(result any) {
	f.mu.Lock()
	f.result = result
	f.err = nil
	if s, ok := result.(*Stream); ok {
		f.stream = s
	}
	cbs := f.doneCallbacks
	f.complete()
	f.mu.Unlock()

	for _, cb := range cbs {
		cb(result)
	}
}

func (f *Future) reject(err error) {
	f.mu.Lock()
	f.result = nil
	f.err = err
	cbs := f.errCallbacks
	f.complete()
	f.mu.Unlock()

	for _, cb := range cbs {
		cb(err)
	}
}

// SetStream publishes the stream handle while the job stays running.
// The future itself completes only when the stream is exhausted.
// Called only by the engine's scheduler.
func (f *Future) SetStream(s *Stream) {
	f.mu.Lock()
	f.stream = s
	f.result = s
	f.mu.Unlock()
}

// complete closes the done channel. Caller holds f.mu.
func (f *Future) complete() {
	if !f.completed {
		f.completed = true
		close(f.done)
	}
}

// reset returns the future to the incomplete state for retry or rerun.
func (f *Future) reset() {
	f.mu.Lock()
	if f.completed {
		f.done = make(chan struct{})
		f.completed = false
	}
	f.result = nil
	f.err = nil
	f.stream = nil
	f.mu.Unlock()
}
