package procpool

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	executor "github.com/Nanguage/executor-engine"
	"github.com/Nanguage/executor-engine/backend"
	"github.com/Nanguage/executor-engine/backend/remote"
	"github.com/Nanguage/executor-engine/job"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := taskFrame{JobID: "job_x", Name: "add", Args: []byte{1, 2, 3}, TimeoutMS: 500}

	if err := writeFrameTo(&buf, in); err != nil {
		t.Fatalf("write: %v", err)
	}

	var out taskFrame
	if err := readFrameFrom(&buf, &out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.JobID != in.JobID || out.Name != in.Name || out.TimeoutMS != in.TimeoutMS {
		t.Errorf("round-trip mismatch: %+v != %+v", out, in)
	}
	if !bytes.Equal(out.Args, in.Args) {
		t.Errorf("args mismatch: %v != %v", out.Args, in.Args)
	}
}

func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	if err := writeFrameTo(&buf, taskFrame{JobID: "job_x"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-1])

	var out taskFrame
	if err := readFrameFrom(truncated, &out); err == nil {
		t.Error("expected error reading truncated frame")
	}
}

func TestRunWorkerExecutesTask(t *testing.T) {
	job.Register("procpool_test_add", func(_ context.Context, args ...any) (any, error) {
		return args[0].(int) + args[1].(int), nil
	})

	args, err := remote.EncodeArgs([]any{1, 2})
	if err != nil {
		t.Fatalf("encode args: %v", err)
	}

	var in, out bytes.Buffer
	if err := writeFrameTo(&in, taskFrame{JobID: "job_x", Name: "procpool_test_add", Args: args}); err != nil {
		t.Fatalf("write task: %v", err)
	}

	if err := runWorker(&in, &out); err != nil {
		t.Fatalf("run worker: %v", err)
	}

	var resp resultFrame
	if err := readFrameFrom(&out, &resp); err != nil {
		t.Fatalf("read result: %v", err)
	}
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}

	result, err := remote.DecodeResult(resp.Result)
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result != 3 {
		t.Errorf("result = %v, want 3", result)
	}
}

func TestRunWorkerUnknownName(t *testing.T) {
	var in, out bytes.Buffer
	if err := writeFrameTo(&in, taskFrame{JobID: "job_x", Name: "procpool_test_missing"}); err != nil {
		t.Fatalf("write task: %v", err)
	}

	if err := runWorker(&in, &out); err != nil {
		t.Fatalf("run worker: %v", err)
	}

	var resp resultFrame
	if err := readFrameFrom(&out, &resp); err != nil {
		t.Fatalf("read result: %v", err)
	}
	if !strings.Contains(resp.Error, "no callable registered") {
		t.Errorf("error = %q, want registry miss", resp.Error)
	}
}

func TestRunWorkerReportsPanic(t *testing.T) {
	job.Register("procpool_test_panic", func(_ context.Context, _ ...any) (any, error) {
		panic("kaboom")
	})

	var in, out bytes.Buffer
	if err := writeFrameTo(&in, taskFrame{JobID: "job_x", Name: "procpool_test_panic"}); err != nil {
		t.Fatalf("write task: %v", err)
	}
	if err := runWorker(&in, &out); err != nil {
		t.Fatalf("run worker: %v", err)
	}

	var resp resultFrame
	if err := readFrameFrom(&out, &resp); err != nil {
		t.Fatalf("read result: %v", err)
	}
	if !strings.Contains(resp.Error, "kaboom") {
		t.Errorf("error = %q, want panic message", resp.Error)
	}
}

func TestStartRejectsUnregisteredName(t *testing.T) {
	p := NewPool()
	_, err := p.Start(context.Background(), &backend.Task{
		JobID: "job_x",
		Name:  "procpool_test_not_registered",
		Done:  func(any, error) {},
	})
	var bErr *executor.BackendError
	if !errors.As(err, &bErr) {
		t.Errorf("expected BackendError, got %v", err)
	}
}

func TestStartRejectsUnserializableArgs(t *testing.T) {
	job.Register("procpool_test_noop", func(_ context.Context, _ ...any) (any, error) {
		return nil, nil
	})

	p := NewPool()
	_, err := p.Start(context.Background(), &backend.Task{
		JobID: "job_x",
		Name:  "procpool_test_noop",
		Args:  []any{func() {}},
		Done:  func(any, error) {},
	})
	if err == nil {
		t.Error("expected error for closure argument")
	}
}
