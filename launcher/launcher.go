// Package launcher turns a function into a submit-site for a chosen
// backend kind. A Launcher builds the job, picks the engine (explicit,
// or the one scoped into the context), submits, and hands back the job
// or its result.
package launcher

import (
	"context"
	"errors"

	"github.com/Nanguage/executor-engine/job"
	"github.com/Nanguage/executor-engine/scope"
)

// ErrNoEngine indicates no engine was configured or scoped into the
// context at submit time.
var ErrNoEngine = errors.New("launcher: no engine available")

// Launcher wraps a callable with a target kind and per-job options.
type Launcher struct {
	name    string
	fn      job.Callable
	kind    job.Kind
	engine  job.Engine
	jobOpts []job.Option
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithEngine pins the launcher to an engine, taking precedence over
// any engine scoped into the submit context.
func WithEngine(e job.Engine) Option {
	return func(l *Launcher) { l.engine = e }
}

// WithKind selects the backend kind for submitted jobs. Default:
// thread.
func WithKind(k job.Kind) Option {
	return func(l *Launcher) { l.kind = k }
}

// WithJobOptions appends options applied to every job the launcher
// builds.
func WithJobOptions(opts ...job.Option) Option {
	return func(l *Launcher) { l.jobOpts = append(l.jobOpts, opts...) }
}

// New creates a launcher for fn. fn may be nil for registry-resolved
// names (process and distributed kinds).
func New(name string, fn job.Callable, opts ...Option) *Launcher {
	l := &Launcher{
		name: name,
		fn:   fn,
		kind: job.KindThread,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Func is the decorator form: launch fn as a thread job.
//
//	add := launcher.Func("add", addFn)
//	j, _ := add.Submit(ctx, 1, 2)
func Func(name string, fn job.Callable, opts ...Option) *Launcher {
	return New(name, fn, opts...)
}

// Job builds a job for the given arguments without submitting it.
func (l *Launcher) Job(args ...any) *job.Job {
	opts := append([]job.Option{job.WithKind(l.kind), job.WithArgs(args...)}, l.jobOpts...)
	return job.New(l.name, l.fn, opts...)
}

// Submit builds a job and submits it to the launcher's engine, or to
// the engine scoped into ctx. The returned job carries the future.
func (l *Launcher) Submit(ctx context.Context, args ...any) (*job.Job, error) {
	e := l.engine
	if e == nil {
		scoped, ok := scope.EngineFrom(ctx)
		if !ok {
			return nil, ErrNoEngine
		}
		e = scoped
	}

	j := l.Job(args...)
	if err := e.Submit(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// Call submits and blocks until the job terminates, returning its
// result. A cancelled job yields executor.ErrCancelled.
func (l *Launcher) Call(ctx context.Context, args ...any) (any, error) {
	j, err := l.Submit(ctx, args...)
	if err != nil {
		return nil, err
	}
	if _, err := j.Join(ctx); err != nil {
		return nil, err
	}
	return j.Result()
}
