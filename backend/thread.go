package backend

import (
	"context"
	"sync"

	executor "github.com/Nanguage/executor-engine"
	"github.com/Nanguage/executor-engine/job"
)

// ThreadPool runs callables on a bounded pool of goroutines.
// Cancellation is cooperative: the per-task context is cancelled and
// callables that watch it stop; ones that don't keep their pool goroutine
// until they return, and their outcome is then reported, with
// executor.ErrCancelled in place of a nil error.
type ThreadPool struct {
	concurrency int
	queue       chan *threadTask
	stopCh      chan struct{}
	wg          sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
}

type threadTask struct {
	task   *Task
	handle *handle
	ctx    context.Context
}

// ThreadPoolOption configures a ThreadPool.
type ThreadPoolOption func(*ThreadPool)

// WithConcurrency sets the number of pool goroutines.
func WithConcurrency(n int) ThreadPoolOption {
	return func(p *ThreadPool) { p.concurrency = n }
}

// NewThreadPool creates a goroutine-pool backend.
func NewThreadPool(opts ...ThreadPoolOption) *ThreadPool {
	p := &ThreadPool{
		concurrency: 10,
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = make(chan *threadTask, p.concurrency)
	return p
}

// Kind implements Backend.
func (p *ThreadPool) Kind() job.Kind { return job.KindThread }

// Start implements Backend. The pool goroutines are launched lazily on
// the first task.
func (p *ThreadPool) Start(ctx context.Context, task *Task) (Handle, error) {
	if task.Fn == nil {
		return nil, &executor.BackendError{Kind: string(job.KindThread), Err: executor.ErrJobNotFound}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, &executor.BackendError{Kind: string(job.KindThread), Err: executor.ErrEngineStopped}
	}
	if !p.started {
		p.started = true
		for range p.concurrency {
			p.wg.Add(1)
			go p.workerLoop()
		}
	}
	p.mu.Unlock()

	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := newHandle(cancel)
	tt := &threadTask{task: task, handle: h, ctx: taskCtx}

	select {
	case p.queue <- tt:
	case <-p.stopCh:
		cancel()
		return nil, &executor.BackendError{Kind: string(job.KindThread), Err: executor.ErrEngineStopped}
	default:
		// Queue full: hand off asynchronously so the scheduler never
		// blocks on a saturated pool.
		go func() {
			select {
			case p.queue <- tt:
			case <-p.stopCh:
				tt.handle.finish(tt.task, nil, executor.ErrCancelled)
			}
		}()
	}
	return h, nil
}

func (p *ThreadPool) workerLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case tt := <-p.queue:
			p.run(tt)
		}
	}
}

func (p *ThreadPool) run(tt *threadTask) {
	// Pre-cancelled tasks complete without executing.
	if err := tt.ctx.Err(); err != nil {
		tt.handle.finish(tt.task, nil, executor.ErrCancelled)
		return
	}

	runCtx := tt.ctx
	if tt.task.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, tt.task.Timeout)
		defer cancel()
	}

	result, err := tt.task.Fn(runCtx, tt.task.Args...)
	if tt.ctx.Err() != nil && err == nil {
		err = executor.ErrCancelled
	}
	tt.handle.finish(tt.task, result, err)
}

// Close implements Backend. Queued tasks are completed as cancelled.
// Running tasks' contexts are not cancelled by Close; it waits for them
// to return.
func (p *ThreadPool) Close(_ context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()

	// Drain anything still queued.
	for {
		select {
		case tt := <-p.queue:
			tt.handle.finish(tt.task, nil, executor.ErrCancelled)
		default:
			return nil
		}
	}
}
