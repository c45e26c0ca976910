package hook_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/Nanguage/executor-engine/hook"
	"github.com/Nanguage/executor-engine/job"
)

// recordingHook implements a subset of the lifecycle interfaces.
type recordingHook struct {
	name      string
	submitted int
	done      int
	cancelled int
	shutdown  int
	fail      bool
}

func (h *recordingHook) Name() string { return h.name }

func (h *recordingHook) OnJobSubmitted(_ context.Context, _ *job.Job) error {
	h.submitted++
	if h.fail {
		return errors.New("hook failure")
	}
	return nil
}

func (h *recordingHook) OnJobDone(_ context.Context, _ *job.Job, _ time.Duration) error {
	h.done++
	return nil
}

func (h *recordingHook) OnJobCancelled(_ context.Context, _ *job.Job) error {
	h.cancelled++
	return nil
}

func (h *recordingHook) OnShutdown(_ context.Context) { h.shutdown++ }

func testJob() *job.Job {
	return job.New("hook-test", func(_ context.Context, _ ...any) (any, error) {
		return nil, nil
	})
}

func TestRegistryDispatchesToImplementedHooks(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	h := &recordingHook{name: "recorder"}
	r.Register(h)

	ctx := context.Background()
	j := testJob()

	r.EmitJobSubmitted(ctx, j)
	r.EmitJobDone(ctx, j, time.Millisecond)
	r.EmitJobCancelled(ctx, j)
	r.EmitJobFailed(ctx, j, errors.New("x")) // recorder does not implement JobFailed
	r.EmitShutdown(ctx)

	if h.submitted != 1 || h.done != 1 || h.cancelled != 1 || h.shutdown != 1 {
		t.Errorf("counts = %+v, want one of each implemented event", h)
	}
}

func TestRegistryHookErrorDoesNotStopOthers(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	failing := &recordingHook{name: "failing", fail: true}
	second := &recordingHook{name: "second"}
	r.Register(failing)
	r.Register(second)

	r.EmitJobSubmitted(context.Background(), testJob())

	if failing.submitted != 1 || second.submitted != 1 {
		t.Errorf("both hooks should run; got %d and %d", failing.submitted, second.submitted)
	}
}

func TestMetricsHookImplementsEvents(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	r.Register(hook.NewMetricsHook())

	// No meter provider configured: instruments are noops, but the
	// emits must not panic.
	ctx := context.Background()
	j := testJob()
	r.EmitJobSubmitted(ctx, j)
	r.EmitJobDone(ctx, j, time.Millisecond)
	r.EmitJobFailed(ctx, j, errors.New("x"))
	r.EmitJobRetrying(ctx, j, 1, time.Now())
	r.EmitJobCancelled(ctx, j)
}
