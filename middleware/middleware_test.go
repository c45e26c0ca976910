package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/Nanguage/executor-engine/job"
	"github.com/Nanguage/executor-engine/middleware"
)

func testJob() *job.Job {
	return job.New("mw-test", func(_ context.Context, _ ...any) (any, error) {
		return nil, nil
	})
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) middleware.Middleware {
		return func(ctx context.Context, _ *job.Job, next middleware.Handler) (any, error) {
			order = append(order, name+":before")
			result, err := next(ctx)
			order = append(order, name+":after")
			return result, err
		}
	}

	chain := middleware.Chain(mw("outer"), mw("inner"))
	result, err := chain(context.Background(), testJob(), func(context.Context) (any, error) {
		order = append(order, "handler")
		return 42, nil
	})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if result != 42 {
		t.Errorf("result = %v, want 42", result)
	}

	want := []string{"outer:before", "inner:before", "handler", "inner:after", "outer:after"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestEmptyChainCallsHandler(t *testing.T) {
	chain := middleware.Chain()
	result, err := chain(context.Background(), testJob(), func(context.Context) (any, error) {
		return "ok", nil
	})
	if err != nil || result != "ok" {
		t.Errorf("chain = %v, %v; want ok, nil", result, err)
	}
}

func TestRecoverConvertsPanic(t *testing.T) {
	chain := middleware.Chain(middleware.Recover(slog.Default()))
	_, err := chain(context.Background(), testJob(), func(context.Context) (any, error) {
		panic("kaboom")
	})
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
}

func TestRecoverPassesThroughError(t *testing.T) {
	boom := errors.New("boom")
	chain := middleware.Chain(middleware.Recover(slog.Default()))
	_, err := chain(context.Background(), testJob(), func(context.Context) (any, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want boom", err)
	}
}

func TestLoggingPreservesResult(t *testing.T) {
	chain := middleware.Chain(middleware.Logging(slog.Default()))
	result, err := chain(context.Background(), testJob(), func(context.Context) (any, error) {
		return "value", nil
	})
	if err != nil || result != "value" {
		t.Errorf("chain = %v, %v; want value, nil", result, err)
	}
}

func TestMetricsPassesThrough(t *testing.T) {
	chain := middleware.Chain(middleware.Metrics())
	boom := errors.New("boom")
	_, err := chain(context.Background(), testJob(), func(context.Context) (any, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want boom", err)
	}
}
