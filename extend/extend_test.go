package extend_test

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Nanguage/executor-engine/condition"
	"github.com/Nanguage/executor-engine/engine"
	"github.com/Nanguage/executor-engine/extend"
	"github.com/Nanguage/executor-engine/job"
)

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

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSubprocessJob(t *testing.T) {
	e := setupEngine(t)
	ctx := testCtx(t)

	captureDir := t.TempDir()
	j := extend.NewSubprocessJob("echo hello executor",
		extend.WithCaptureDir(captureDir),
		extend.WithJobOptions(job.WithWaitInterval(time.Millisecond)),
	)

	if err := e.Submit(ctx, j); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := j.Join(ctx); err != nil {
		t.Fatalf("join: %v", err)
	}

	raw, err := j.Result()
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	out := raw.(*extend.SubprocessResult)
	if out.ExitCode != 0 {
		t.Errorf("exit = %d, want 0", out.ExitCode)
	}
	if strings.TrimSpace(out.Stdout) != "hello executor" {
		t.Errorf("stdout = %q", out.Stdout)
	}

	captured, err := os.ReadFile(filepath.Join(captureDir, "stdout.txt"))
	if err != nil {
		t.Fatalf("read capture: %v", err)
	}
	if strings.TrimSpace(string(captured)) != "hello executor" {
		t.Errorf("captured stdout = %q", captured)
	}
}

func TestSubprocessJobFailure(t *testing.T) {
	e := setupEngine(t)
	ctx := testCtx(t)

	j := extend.NewSubprocessJob("exit 3",
		extend.WithJobOptions(job.WithWaitInterval(time.Millisecond)),
	)
	if err := e.Submit(ctx, j); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := e.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if j.Status() != job.StatusFailed {
		t.Fatalf("status = %v, want failed", j.Status())
	}
}

func TestSentinelJobResubmits(t *testing.T) {
	e := setupEngine(t)
	ctx := testCtx(t)

	var fired atomic.Int64
	factory := func() *job.Job {
		return job.New("tick", func(_ context.Context, _ ...any) (any, error) {
			fired.Add(1)
			return nil, nil
		}, job.WithKind(job.KindThread), job.WithWaitInterval(time.Millisecond))
	}

	every := condition.Every(20 * time.Millisecond)
	sentinel := extend.NewSentinelJob("ticker", factory, every,
		extend.WithInterval(5*time.Millisecond),
		extend.WithSentinelJobOptions(job.WithWaitInterval(time.Millisecond)),
	)

	if err := e.Submit(ctx, sentinel); err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for fired.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("sentinel fired %d children, want >= 2", fired.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := sentinel.Cancel(ctx); err != nil {
		t.Fatalf("cancel sentinel: %v", err)
	}
	if _, err := sentinel.Join(ctx); err != nil {
		t.Fatalf("join sentinel: %v", err)
	}
}

func TestWebappJob(t *testing.T) {
	e := setupEngine(t)
	ctx := testCtx(t)

	// Pick a free port.
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := probe.Addr().(*net.TCPAddr).Port
	probe.Close()

	serve := func(ctx context.Context, ip string, port int) error {
		ln, err := net.Listen("tcp", net.JoinHostPort(ip, fmt.Sprint(port)))
		if err != nil {
			return err
		}
		defer ln.Close()
		go func() {
			for {
				conn, acceptErr := ln.Accept()
				if acceptErr != nil {
					return
				}
				conn.Close()
			}
		}()
		<-ctx.Done()
		return nil
	}

	j := extend.NewWebappJob("web", serve, port,
		extend.WithReadinessProbe(20, 50*time.Millisecond),
		extend.WithWebappJobOptions(job.WithWaitInterval(time.Millisecond)),
	)

	if err := e.Submit(ctx, j); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if status, err := j.Wait(ctx, job.StatusRunning); err != nil || status != job.StatusRunning {
		t.Fatalf("wait running: %v, %v", status, err)
	}

	// The server answers while the job runs.
	addr := net.JoinHostPort("127.0.0.1", fmt.Sprint(port))
	deadline := time.Now().Add(3 * time.Second)
	var conn net.Conn
	for {
		conn, err = net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial webapp: %v", err)
	}
	conn.Close()

	if err := j.Cancel(ctx); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := j.Join(ctx); err != nil {
		t.Fatalf("join: %v", err)
	}
	if j.Status() != job.StatusCancelled {
		t.Errorf("status = %v, want cancelled", j.Status())
	}
}
