// Package backend abstracts how a job's callable actually runs. The
// scheduler hands a Task to the backend selected by the job's kind and
// observes completion through the task's Done callback — never by
// polling. Variants: Local (inline), Thread (goroutine pool), Process
// (child processes, see procpool), Distributed (remote worker pool, see
// remote).
package backend

import (
	"context"
	"sync"
	"time"

	"github.com/Nanguage/executor-engine/job"
)

// Task is one dispatched execution: the resolved callable, its
// arguments (futures already substituted), and the completion callback.
type Task struct {
	// JobID identifies the job for logging and transport.
	JobID string

	// Name is the job's name, used by process and distributed backends
	// to resolve the callable from the worker-side registry.
	Name string

	// Fn is the callable. May be nil for backends that resolve by Name.
	Fn job.Callable

	// Args are the resolved arguments.
	Args []any

	// Timeout bounds one execution attempt. Zero means unlimited.
	Timeout time.Duration

	// Done receives the completion event exactly once. It must be
	// cheap and non-blocking: it runs on the backend's goroutine.
	Done func(result any, err error)
}

// Handle tracks one running execution.
type Handle interface {
	// Wait blocks until the execution terminates or ctx expires.
	Wait(ctx context.Context) error

	// Cancel requests cancellation. Idempotent. How hard the request
	// lands is backend-specific: cooperative for local and thread,
	// kill for process, remote cancel frame for distributed.
	Cancel()

	// Result returns the outcome. Defined only after termination.
	Result() (any, error)
}

// Backend starts callables for one job kind.
type Backend interface {
	// Kind returns the job kind this backend serves.
	Kind() job.Kind

	// Start begins executing the task and returns a handle. The task's
	// Done callback fires when execution terminates, whether or not
	// anyone holds the handle.
	Start(ctx context.Context, task *Task) (Handle, error)

	// Close releases backend resources. Running tasks are cancelled.
	Close(ctx context.Context) error
}

// RemoteHandle is the Handle implementation for backends that live
// outside this package (process, distributed). The owning backend
// completes it exactly once via Finish.
type RemoteHandle struct {
	handle
}

// NewRemoteHandle creates a handle whose Cancel invokes the given
// function once.
func NewRemoteHandle(cancel func()) *RemoteHandle {
	return &RemoteHandle{handle{done: make(chan struct{}), cancel: cancel}}
}

// Finish records the outcome and fires the task's Done callback.
// Subsequent calls are ignored.
func (h *RemoteHandle) Finish(task *Task, result any, err error) {
	h.finish(task, result, err)
}

// handle is the shared Handle implementation backends complete exactly
// once via finish.
type handle struct {
	mu       sync.Mutex
	done     chan struct{}
	finished bool
	result   any
	err      error
	cancel   func()

	cancelOnce sync.Once
}

func newHandle(cancel func()) *handle {
	return &handle{done: make(chan struct{}), cancel: cancel}
}

func (h *handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *handle) Cancel() {
	h.cancelOnce.Do(func() {
		if h.cancel != nil {
			h.cancel()
		}
	})
}

func (h *handle) Result() (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

// finish records the outcome and fires the task's Done callback.
// Subsequent calls are ignored.
func (h *handle) finish(task *Task, result any, err error) {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return
	}
	h.finished = true
	h.result = result
	h.err = err
	close(h.done)
	h.mu.Unlock()

	if task.Done != nil {
		task.Done(result, err)
	}
}
