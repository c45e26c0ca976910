package launcher_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Nanguage/executor-engine/engine"
	"github.com/Nanguage/executor-engine/extend"
	"github.com/Nanguage/executor-engine/job"
	"github.com/Nanguage/executor-engine/launcher"
	"github.com/Nanguage/executor-engine/scope"
)

func addFn(_ context.Context, args ...any) (any, error) {
	return args[0].(int) + args[1].(int), nil
}

func setupEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e := engine.New(engine.WithTick(5 * time.Millisecond))
	if err := e.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.Stop(ctx)
	})
	return e
}

func TestCallBlocksForResult(t *testing.T) {
	e := setupEngine(t)
	add := launcher.Func("add", addFn,
		launcher.WithEngine(e),
		launcher.WithJobOptions(job.WithWaitInterval(time.Millisecond)),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := add.Call(ctx, 1, 2)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result != 3 {
		t.Errorf("result = %v, want 3", result)
	}
}

func TestSubmitReturnsJob(t *testing.T) {
	e := setupEngine(t)
	add := launcher.Func("add", addFn,
		launcher.WithEngine(e),
		launcher.WithJobOptions(job.WithWaitInterval(time.Millisecond)),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	j, err := add.Submit(ctx, 10, 20)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if j.Kind() != job.KindThread {
		t.Errorf("kind = %v, want thread", j.Kind())
	}

	result, err := j.Future().Result(ctx)
	if err != nil || result != 30 {
		t.Errorf("result = %v, %v; want 30, nil", result, err)
	}
}

func TestScopedEngineFromContext(t *testing.T) {
	e := setupEngine(t)
	add := launcher.Func("add", addFn,
		launcher.WithJobOptions(job.WithWaitInterval(time.Millisecond)),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := add.Submit(ctx, 1, 2); !errors.Is(err, launcher.ErrNoEngine) {
		t.Fatalf("unscoped submit err = %v, want ErrNoEngine", err)
	}

	scoped := scope.WithEngine(ctx, e)
	result, err := add.Call(scoped, 1, 2)
	if err != nil || result != 3 {
		t.Errorf("scoped call = %v, %v; want 3, nil", result, err)
	}
}

func TestCommandLauncher(t *testing.T) {
	e := setupEngine(t)

	echo := launcher.Command("echo", func(args ...any) string {
		return fmt.Sprintf("echo %v", args[0])
	}, launcher.WithCommandEngine(e))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	j, err := echo.Submit(ctx, "hello")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := j.Join(ctx); err != nil {
		t.Fatalf("join: %v", err)
	}

	raw, err := j.Result()
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	out, ok := raw.(*extend.SubprocessResult)
	if !ok {
		t.Fatalf("result type = %T", raw)
	}
	if strings.TrimSpace(out.Stdout) != "hello" {
		t.Errorf("stdout = %q, want hello", out.Stdout)
	}
}
