package engine

import (
	"log/slog"
	"time"

	executor "github.com/Nanguage/executor-engine"
	"github.com/Nanguage/executor-engine/backend"
	"github.com/Nanguage/executor-engine/backoff"
	"github.com/Nanguage/executor-engine/capacity"
	"github.com/Nanguage/executor-engine/hook"
	"github.com/Nanguage/executor-engine/job"
	"github.com/Nanguage/executor-engine/middleware"
	"github.com/Nanguage/executor-engine/store"
)

// Option configures an Engine.
type Option func(*Engine)

// WithSettings replaces the engine's settings wholesale.
func WithSettings(s executor.Settings) Option {
	return func(e *Engine) { e.settings = s }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMaxJobs caps concurrently running jobs across all kinds.
// capacity.Unlimited disables the cap.
func WithMaxJobs(n int) Option {
	return func(e *Engine) { e.settings.MaxJobs = n }
}

// WithMaxJobsPerKind caps concurrently running jobs for one kind.
func WithMaxJobsPerKind(kind job.Kind, n int) Option {
	return func(e *Engine) {
		if e.settings.MaxJobsPerKind == nil {
			e.settings.MaxJobsPerKind = make(map[string]int)
		}
		e.settings.MaxJobsPerKind[string(kind)] = n
	}
}

// WithKindConfig sets a full capacity configuration (cap + rate limit)
// for one kind. Overrides WithMaxJobsPerKind for that kind.
func WithKindConfig(cfg capacity.Config) Option {
	return func(e *Engine) { e.kindConfigs = append(e.kindConfigs, cfg) }
}

// WithBackend registers (or replaces) the backend for its kind. The
// engine owns registered backends and closes them on Stop.
func WithBackend(b backend.Backend) Option {
	return func(e *Engine) { e.backends[b.Kind()] = b }
}

// WithMiddleware appends middleware to the execution chain for
// in-process kinds (local, thread). The default chain is
// Recover → Metrics.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, mws...) }
}

// WithHook registers a lifecycle hook.
func WithHook(h hook.Hook) Option {
	return func(e *Engine) { e.pendingHooks = append(e.pendingHooks, h) }
}

// WithBackoff sets the retry delay strategy used by jobs without a
// fixed retry delay. Default: backoff.DefaultStrategy().
func WithBackoff(b backoff.Strategy) Option {
	return func(e *Engine) { e.bo = b }
}

// WithSnapshotter sets the job record snapshotter explicitly,
// overriding Settings.CacheType.
func WithSnapshotter(s store.Snapshotter) Option {
	return func(e *Engine) { e.snap = s }
}

// WithRegistry sets the registry that resolves nil-callable jobs.
// Default: job.DefaultRegistry.
func WithRegistry(r *job.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithTick sets the scheduler's idle wake interval.
func WithTick(d time.Duration) Option {
	return func(e *Engine) { e.settings.Tick = d }
}

// WithBackendRecovery gives each job one automatic requeue when its
// backend fails to start or loses it (child died, connection dropped),
// before the failure counts against the retry budget.
func WithBackendRecovery() Option {
	return func(e *Engine) { e.backendRecovery = true }
}
