package backend

import (
	"context"

	executor "github.com/Nanguage/executor-engine"
	"github.com/Nanguage/executor-engine/job"
)

// Local invokes the callable synchronously on the caller's goroutine —
// for the engine that is the scheduler itself, so local jobs must be
// trivially fast or return a Stream. The completion event fires before
// Start returns.
type Local struct{}

// NewLocal creates the inline backend.
func NewLocal() *Local { return &Local{} }

// Kind implements Backend.
func (b *Local) Kind() job.Kind { return job.KindLocal }

// Start implements Backend.
func (b *Local) Start(ctx context.Context, task *Task) (Handle, error) {
	if task.Fn == nil {
		return nil, &executor.BackendError{Kind: string(job.KindLocal), Err: executor.ErrJobNotFound}
	}

	runCtx := ctx
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	h := newHandle(nil)
	result, err := task.Fn(runCtx, task.Args...)
	h.finish(task, result, err)
	return h, nil
}

// Close implements Backend. No-op for the inline backend.
func (b *Local) Close(context.Context) error { return nil }
