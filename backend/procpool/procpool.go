// Package procpool implements the process backend: each task runs in a
// re-exec'd child of the current binary. Task arguments and results
// cross the process boundary as length-prefixed msgpack frames on the
// child's stdin/stdout, so they must be transport-serializable and the
// callable must be registered by name (package init registrations run
// in the child too). Cancellation terminates the child.
//
// Programs that submit process jobs must give the child its entry
// point before doing anything else:
//
//	func main() {
//	    if procpool.WorkerMain() {
//	        return
//	    }
//	    // normal program
//	}
package procpool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	executor "github.com/Nanguage/executor-engine"
	"github.com/Nanguage/executor-engine/backend"
	"github.com/Nanguage/executor-engine/backend/remote"
	"github.com/Nanguage/executor-engine/job"
)

// WorkerEnv marks a child process as a task worker.
const WorkerEnv = "EXECUTOR_PROCESS_WORKER"

// Pool is the child-process backend.
type Pool struct {
	registry *job.Registry
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]*exec.Cmd // job ID → child
	closed bool
}

var _ backend.Backend = (*Pool)(nil)

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithRegistry sets the registry names are resolved against. Defaults
// to job.DefaultRegistry, which is also what the child resolves
// against — a custom registry here must be mirrored in the child.
func WithRegistry(r *job.Registry) PoolOption {
	return func(p *Pool) { p.registry = r }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a process backend.
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		registry: job.DefaultRegistry,
		logger:   slog.Default(),
		active:   make(map[string]*exec.Cmd),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Kind implements backend.Backend.
func (p *Pool) Kind() job.Kind { return job.KindProcess }

// Start implements backend.Backend.
func (p *Pool) Start(_ context.Context, task *backend.Task) (backend.Handle, error) {
	// Fail fast on names the child will not resolve either.
	if _, ok := p.registry.Get(task.Name); !ok {
		return nil, &executor.BackendError{
			Kind: string(job.KindProcess),
			Err:  fmt.Errorf("no callable registered for %q", task.Name),
		}
	}

	args, err := remote.EncodeArgs(task.Args)
	if err != nil {
		return nil, &executor.BackendError{
			Kind: string(job.KindProcess),
			Err:  fmt.Errorf("unserializable args: %w", err),
		}
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, &executor.BackendError{Kind: string(job.KindProcess), Err: err}
	}

	cmd := exec.Command(exe)
	cmd.Env = append(os.Environ(), WorkerEnv+"=1")
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &executor.BackendError{Kind: string(job.KindProcess), Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &executor.BackendError{Kind: string(job.KindProcess), Err: err}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, &executor.BackendError{Kind: string(job.KindProcess), Err: executor.ErrEngineStopped}
	}
	if err := cmd.Start(); err != nil {
		p.mu.Unlock()
		return nil, &executor.BackendError{Kind: string(job.KindProcess), Err: err}
	}
	p.active[task.JobID] = cmd
	p.mu.Unlock()

	var killed sync.Once
	cancelled := make(chan struct{})
	kill := func() {
		killed.Do(func() {
			close(cancelled)
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		})
	}

	h := backend.NewRemoteHandle(kill)
	go p.runChild(task, args, h, cmd, stdin, stdout, cancelled)
	return h, nil
}

func (p *Pool) runChild(
	task *backend.Task,
	args []byte,
	h *backend.RemoteHandle,
	cmd *exec.Cmd,
	stdin io.WriteCloser,
	stdout io.ReadCloser,
	cancelled <-chan struct{},
) {
	defer func() {
		p.mu.Lock()
		delete(p.active, task.JobID)
		p.mu.Unlock()
	}()

	payload := taskFrame{
		JobID:     task.JobID,
		Name:      task.Name,
		Args:      args,
		TimeoutMS: task.Timeout.Milliseconds(),
	}

	err := writeFrameTo(stdin, payload)
	stdin.Close()
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		h.Finish(task, nil, &executor.BackendError{Kind: string(job.KindProcess), Err: err})
		return
	}

	var resp resultFrame
	readErr := readFrameFrom(stdout, &resp)
	waitErr := cmd.Wait()

	select {
	case <-cancelled:
		h.Finish(task, nil, executor.ErrCancelled)
		return
	default:
	}

	if readErr != nil {
		err := waitErr
		if err == nil {
			err = readErr
		}
		h.Finish(task, nil, &executor.BackendError{
			Kind: string(job.KindProcess),
			Err:  fmt.Errorf("worker died: %w", err),
		})
		return
	}

	if resp.Error != "" {
		h.Finish(task, nil, errors.New(resp.Error))
		return
	}

	result, decErr := remote.DecodeResult(resp.Result)
	if decErr != nil {
		h.Finish(task, nil, &executor.BackendError{Kind: string(job.KindProcess), Err: decErr})
		return
	}
	h.Finish(task, result, nil)
}

// Close implements backend.Backend. Running children are killed.
func (p *Pool) Close(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	for jobID, cmd := range p.active {
		p.logger.Warn("killing process worker", slog.String("job_id", jobID))
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
	return nil
}

// WorkerMain runs the worker loop when the process was spawned as a
// task child, and reports whether it did. Call it first thing in main;
// when it returns true the program must exit.
func WorkerMain() bool {
	if os.Getenv(WorkerEnv) == "" {
		return false
	}

	if err := runWorker(os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "procpool worker: %v\n", err)
		os.Exit(1)
	}
	return true
}

// runWorker executes one task read from r and writes the result to w.
func runWorker(r io.Reader, w io.Writer) error {
	var payload taskFrame
	if err := readFrameFrom(r, &payload); err != nil {
		return fmt.Errorf("read task: %w", err)
	}

	fn, ok := job.DefaultRegistry.Get(payload.Name)
	if !ok {
		return writeFrameTo(w, resultFrame{
			JobID: payload.JobID,
			Error: fmt.Sprintf("no callable registered for %q", payload.Name),
		})
	}

	args, err := remote.DecodeArgs(payload.Args)
	if err != nil {
		return writeFrameTo(w, resultFrame{JobID: payload.JobID, Error: "undecodable args: " + err.Error()})
	}

	ctx := context.Background()
	if payload.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(payload.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	resp := resultFrame{JobID: payload.JobID}
	value, runErr := runGuarded(ctx, fn, args)
	if runErr != nil {
		resp.Error = runErr.Error()
	} else if encoded, encErr := remote.EncodeResult(value); encErr != nil {
		resp.Error = "unserializable result: " + encErr.Error()
	} else {
		resp.Result = encoded
	}

	return writeFrameTo(w, resp)
}

// runGuarded invokes the callable, converting a panic into an error so
// the worker exits cleanly with a result frame.
func runGuarded(ctx context.Context, fn job.Callable, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("procpool: task panic: %v", r)
		}
	}()
	return fn(ctx, args...)
}
