package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	executor "github.com/Nanguage/executor-engine"
	"github.com/Nanguage/executor-engine/backend"
	"github.com/Nanguage/executor-engine/backoff"
	"github.com/Nanguage/executor-engine/capacity"
	"github.com/Nanguage/executor-engine/hook"
	"github.com/Nanguage/executor-engine/id"
	"github.com/Nanguage/executor-engine/job"
	"github.com/Nanguage/executor-engine/middleware"
	"github.com/Nanguage/executor-engine/store"
)

// waitPollInterval paces the status-polling waits (Wait, WaitStatus).
const waitPollInterval = 10 * time.Millisecond

// completion is a backend (or stream) outcome delivered to the
// scheduler's completion mailbox.
type completion struct {
	j         *job.Job
	result    any
	err       error
	streamEnd bool
}

// Engine is the public facade of the job execution engine. One
// cooperative scheduler goroutine per engine owns all scheduling state;
// every public method is safe to call from any goroutine.
type Engine struct {
	engineID id.EngineID
	settings executor.Settings
	logger   *slog.Logger

	jobs     *store.Store
	caps     *capacity.Manager
	backends map[job.Kind]backend.Backend
	hooks    *hook.Registry
	registry *job.Registry
	bo       backoff.Strategy
	snap     store.Snapshotter
	chain    middleware.Middleware

	submissions *mailbox[*job.Job]
	completions *mailbox[completion]
	commands    *mailbox[func()]

	// active counts jobs that Engine.Wait accounts for: queued
	// submissions plus pending and running jobs, streaming excluded.
	active atomic.Int64

	// Scheduler-owned maps, touched only on the scheduler goroutine.
	handles   map[string]backend.Handle
	streams   map[string]*job.Stream
	cancelled map[string]bool // cancel requested while running
	recovered map[string]bool // backend recovery spent

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// Option staging, consumed by New.
	mws             []middleware.Middleware
	pendingHooks    []hook.Hook
	kindConfigs     []capacity.Config
	backendRecovery bool
}

var _ job.Engine = (*Engine)(nil)

// New creates an engine. Local and thread backends are registered by
// default; process and distributed backends are added with
// WithBackend.
func New(opts ...Option) *Engine {
	e := &Engine{
		engineID:    id.NewEngineID(),
		settings:    executor.DefaultSettings(),
		logger:      slog.Default(),
		jobs:        store.New(),
		backends:    make(map[job.Kind]backend.Backend),
		registry:    job.DefaultRegistry,
		submissions: newMailbox[*job.Job](),
		completions: newMailbox[completion](),
		commands:    newMailbox[func()](),
		handles:     make(map[string]backend.Handle),
		streams:     make(map[string]*job.Stream),
		cancelled:   make(map[string]bool),
		recovered:   make(map[string]bool),
		doneCh:      make(chan struct{}),
	}
	close(e.doneCh) // not running yet

	e.backends[job.KindLocal] = backend.NewLocal()
	e.backends[job.KindThread] = backend.NewThreadPool()

	for _, opt := range opts {
		opt(e)
	}

	if e.bo == nil {
		e.bo = backoff.DefaultStrategy()
	}

	// Capacity: per-kind caps from settings, then explicit configs.
	configs := make([]capacity.Config, 0, len(e.settings.MaxJobsPerKind)+len(e.kindConfigs))
	for kind, maxJobs := range e.settings.MaxJobsPerKind {
		configs = append(configs, capacity.Config{Kind: kind, MaxJobs: maxJobs})
	}
	configs = append(configs, e.kindConfigs...)
	e.caps = capacity.NewManager(e.settings.MaxJobs, configs...)

	// Hooks.
	e.hooks = hook.NewRegistry(e.logger)
	for _, h := range e.pendingHooks {
		e.hooks.Register(h)
	}

	// Execution middleware for in-process kinds.
	mws := append([]middleware.Middleware{
		middleware.Recover(e.logger),
		middleware.Metrics(),
	}, e.mws...)
	e.chain = middleware.Chain(mws...)

	// Snapshotter from settings unless set explicitly.
	if e.snap == nil {
		switch e.settings.CacheType {
		case executor.CacheDisk:
			path := e.settings.CachePath
			if path == "" {
				path = ".executor/" + e.engineID.String()
			}
			disk, err := store.NewDisk(path)
			if err != nil {
				e.logger.Warn("disk snapshots disabled", slog.String("error", err.Error()))
			} else {
				e.snap = disk
			}
		case executor.CacheRedis:
			e.snap = store.NewRedisAddr(e.settings.RedisAddr)
		}
	}

	return e
}

// ID returns the engine's unique identifier.
func (e *Engine) ID() id.EngineID { return e.engineID }

// Jobs returns the engine's job store for status queries.
func (e *Engine) Jobs() *store.Store { return e.jobs }

// Hooks returns the lifecycle hook registry.
func (e *Engine) Hooks() *hook.Registry { return e.hooks }

// Logger returns the engine's logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// Settings returns a copy of the engine's settings.
func (e *Engine) Settings() executor.Settings { return e.settings }

// Start launches the scheduler goroutine. Idempotent.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})

	e.logger.Info("engine starting",
		slog.String("engine_id", e.engineID.String()),
		slog.Int("max_jobs", e.settings.MaxJobs),
	)

	go e.run()
	return nil
}

// Stop cancels all pending and running jobs, drains the mailboxes,
// terminates the scheduler, and closes the engine's backends.
// Idempotent.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	close(e.stopCh)
	doneCh := e.doneCh
	e.mu.Unlock()

	select {
	case <-doneCh:
	case <-ctx.Done():
		e.logger.Warn("engine stop timed out waiting for scheduler")
	}

	for kind, b := range e.backends {
		if err := b.Close(ctx); err != nil {
			e.logger.Error("backend close error",
				slog.String("kind", string(kind)),
				slog.String("error", err.Error()),
			)
		}
	}

	e.hooks.EmitShutdown(ctx)

	if e.snap != nil {
		if err := e.snap.Close(); err != nil {
			e.logger.Error("snapshotter close error", slog.String("error", err.Error()))
		}
	}

	e.logger.Info("engine stopped", slog.String("engine_id", e.engineID.String()))
	return nil
}

// Run is the scoped acquisition form: start, run fn, stop on every
// exit path.
func (e *Engine) Run(ctx context.Context, fn func(e *Engine) error) error {
	if err := e.Start(); err != nil {
		return err
	}
	defer func() {
		if stopErr := e.Stop(ctx); stopErr != nil {
			e.logger.Error("engine stop error", slog.String("error", stopErr.Error()))
		}
	}()
	return fn(e)
}

// Submit registers jobs with the engine and transitions them from
// created to pending. It does not block on execution; read results
// from the jobs' futures.
func (e *Engine) Submit(_ context.Context, jobs ...*job.Job) error {
	if !e.isRunning() {
		return executor.ErrEngineStopped
	}

	for _, j := range jobs {
		if j.Status() != job.StatusCreated {
			return executor.ErrInvalidTransition
		}
		j.Bind(e)
		if err := j.MarkPending(false); err != nil {
			return err
		}
		e.active.Add(1)
		e.submissions.put(j)
	}
	return nil
}

// Cancel requests cancellation of a job. Idempotent; valid from any
// non-terminal status.
func (e *Engine) Cancel(ctx context.Context, j *job.Job) error {
	return e.do(ctx, func() { e.cancelJob(ctx, j) })
}

// Rerun returns a terminal job to pending with a fresh attempt budget.
func (e *Engine) Rerun(ctx context.Context, j *job.Job) error {
	var rerunErr error
	err := e.do(ctx, func() { rerunErr = e.rerunJob(ctx, j) })
	if err != nil {
		return err
	}
	return rerunErr
}

// WaitStatus blocks until the job reaches the target status or any
// terminal status, returning the status reached. ctx bounds the wait;
// expiry returns executor.ErrTimeout without mutating job state.
func (e *Engine) WaitStatus(ctx context.Context, j *job.Job, target job.Status) (job.Status, error) {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		status := j.Status()
		if status == target || status.Terminal() {
			return status, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return j.Status(), executor.ErrTimeout
			}
			return j.Status(), ctx.Err()
		}
	}
}

// WaitJob blocks until the job terminates.
func (e *Engine) WaitJob(ctx context.Context, j *job.Job) (job.Status, error) {
	return e.WaitStatus(ctx, j, job.StatusDone)
}

// Wait blocks until no pending and no running jobs remain. Jobs that
// are running as stream producers are excluded once their handle is
// out; wait on their futures explicitly instead.
func (e *Engine) Wait(ctx context.Context) error {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		if e.active.Load() == 0 {
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return executor.ErrTimeout
			}
			return ctx.Err()
		}
	}
}

func (e *Engine) isRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// do runs fn on the scheduler goroutine and waits for it.
func (e *Engine) do(ctx context.Context, fn func()) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return executor.ErrEngineStopped
	}
	doneCh := e.doneCh
	e.mu.Unlock()

	executed := make(chan struct{})
	e.commands.put(func() {
		fn()
		close(executed)
	})

	select {
	case <-executed:
		return nil
	case <-doneCh:
		return executor.ErrEngineStopped
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return executor.ErrTimeout
		}
		return ctx.Err()
	}
}
