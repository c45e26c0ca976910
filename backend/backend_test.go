package backend_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	executor "github.com/Nanguage/executor-engine"
	"github.com/Nanguage/executor-engine/backend"
	"github.com/Nanguage/executor-engine/job"
)

func TestLocalRunsInline(t *testing.T) {
	b := backend.NewLocal()

	var completed atomic.Bool
	task := &backend.Task{
		JobID: "job_test",
		Fn: func(_ context.Context, args ...any) (any, error) {
			return args[0].(int) + args[1].(int), nil
		},
		Args: []any{1, 2},
		Done: func(result any, err error) {
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if result != 3 {
				t.Errorf("result = %v, want 3", result)
			}
			completed.Store(true)
		},
	}

	h, err := b.Start(context.Background(), task)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Local completes before Start returns.
	if !completed.Load() {
		t.Error("Done should have fired before Start returned")
	}
	res, err := h.Result()
	if err != nil || res != 3 {
		t.Errorf("Result() = %v, %v; want 3, nil", res, err)
	}
}

func TestThreadPoolRunsTask(t *testing.T) {
	b := backend.NewThreadPool(backend.WithConcurrency(2))
	defer b.Close(context.Background())

	done := make(chan struct{})
	task := &backend.Task{
		JobID: "job_test",
		Fn: func(_ context.Context, args ...any) (any, error) {
			return args[0].(string) + "!", nil
		},
		Args: []any{"hey"},
		Done: func(result any, err error) {
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if result != "hey!" {
				t.Errorf("result = %v, want hey!", result)
			}
			close(done)
		},
	}

	if _, err := b.Start(context.Background(), task); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not complete")
	}
}

func TestThreadPoolError(t *testing.T) {
	b := backend.NewThreadPool()
	defer b.Close(context.Background())

	boom := errors.New("boom")
	errCh := make(chan error, 1)
	task := &backend.Task{
		JobID: "job_test",
		Fn:    func(_ context.Context, _ ...any) (any, error) { return nil, boom },
		Done:  func(_ any, err error) { errCh <- err },
	}

	if _, err := b.Start(context.Background(), task); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, boom) {
			t.Errorf("error = %v, want boom", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task did not complete")
	}
}

func TestThreadPoolCancel(t *testing.T) {
	b := backend.NewThreadPool()
	defer b.Close(context.Background())

	started := make(chan struct{})
	errCh := make(chan error, 1)
	task := &backend.Task{
		JobID: "job_test",
		Fn: func(ctx context.Context, _ ...any) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
		Done: func(_ any, err error) { errCh <- err },
	}

	h, err := b.Start(context.Background(), task)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	<-started
	h.Cancel()
	h.Cancel() // idempotent

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("expected a cancellation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled task did not complete")
	}
}

func TestThreadPoolTimeout(t *testing.T) {
	b := backend.NewThreadPool()
	defer b.Close(context.Background())

	errCh := make(chan error, 1)
	task := &backend.Task{
		JobID:   "job_test",
		Timeout: 20 * time.Millisecond,
		Fn: func(ctx context.Context, _ ...any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		Done: func(_ any, err error) { errCh <- err },
	}

	if _, err := b.Start(context.Background(), task); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("expected a timeout error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed-out task did not complete")
	}
}

func TestThreadPoolClosedRejects(t *testing.T) {
	b := backend.NewThreadPool()
	if err := b.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, err := b.Start(context.Background(), &backend.Task{
		Fn: func(_ context.Context, _ ...any) (any, error) { return nil, nil },
	})
	var bErr *executor.BackendError
	if !errors.As(err, &bErr) {
		t.Errorf("expected BackendError, got %v", err)
	}
	if bErr != nil && bErr.Kind != string(job.KindThread) {
		t.Errorf("Kind = %q, want thread", bErr.Kind)
	}
}

func TestHandleWaitRespectsContext(t *testing.T) {
	b := backend.NewThreadPool()
	defer b.Close(context.Background())

	block := make(chan struct{})
	defer close(block)
	task := &backend.Task{
		JobID: "job_test",
		Fn: func(_ context.Context, _ ...any) (any, error) {
			<-block
			return nil, nil
		},
		Done: func(any, error) {},
	}

	h, err := b.Start(context.Background(), task)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := h.Wait(ctx); err == nil {
		t.Error("expected Wait to fail while the task blocks")
	}
}
