package job

import (
	"context"
	"sync"
	"time"

	executor "github.com/Nanguage/executor-engine"
	"github.com/Nanguage/executor-engine/id"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusCreated means the job has been constructed but not submitted.
	StatusCreated Status = "created"
	// StatusPending means the job is waiting for its condition to hold.
	StatusPending Status = "pending"
	// StatusRunning means a backend is currently executing the job.
	StatusRunning Status = "running"
	// StatusDone means the job finished successfully.
	StatusDone Status = "done"
	// StatusFailed means the job failed and has no retries left.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was explicitly cancelled.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is one of done, failed, or cancelled.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// Kind selects the backend a job is dispatched to.
type Kind string

const (
	// KindLocal runs the callable inline on the scheduler goroutine.
	KindLocal Kind = "local"
	// KindThread runs the callable on the engine's goroutine pool.
	KindThread Kind = "thread"
	// KindProcess runs the callable in a child worker process.
	KindProcess Kind = "process"
	// KindDistributed runs the callable on a remote worker pool.
	KindDistributed Kind = "distributed"
)

// Callable is the unit of work a job executes. Args are the job's
// arguments with every *Future already substituted by its result value.
// A callable may return a *Stream to produce values lazily.
type Callable func(ctx context.Context, args ...any) (any, error)

// ConditionView is the read-only view of engine state a condition is
// evaluated against.
type ConditionView interface {
	// JobStatus returns the current status of the referenced job, or
	// false if no such job is known to the engine.
	JobStatus(jobID id.ID) (Status, bool)
}

// Condition gates a pending job's promotion to running. Satisfy must be
// side-effect-free with respect to engine state and cheap: it is polled
// on every scheduler tick per pending job.
type Condition interface {
	Satisfy(view ConditionView) bool
}

// Engine is the narrow view of the engine a job holds once submitted.
// The engine owns the job; the job keeps only this handle back.
type Engine interface {
	Submit(ctx context.Context, jobs ...*Job) error
	Cancel(ctx context.Context, j *Job) error
	Rerun(ctx context.Context, j *Job) error
	WaitStatus(ctx context.Context, j *Job, target Status) (Status, error)
}

// Job is one scheduled unit of work: a callable plus arguments, a gating
// condition, a retry budget, and the record of its lifecycle.
//
// Construction and the public operations (SubmitTo, Cancel, Rerun, Wait,
// Result) are safe to call from any goroutine. The Mark* transition
// methods drive the state machine and are reserved for the engine's
// scheduler.
type Job struct {
	jobID id.JobID
	name  string
	kind  Kind
	fn    Callable
	args  []any

	cond         Condition
	maxAttempts  int
	retryDelay   time.Duration
	waitInterval time.Duration
	timeout      time.Duration

	future *Future

	mu        sync.RWMutex
	status    Status
	attempts  int
	engine    Engine
	effective Condition
	createdAt time.Time
	startedAt time.Time
	stoppedAt time.Time
	lastEval  time.Time
}

// New constructs a job in the created state. fn may be nil, in which
// case the callable is resolved by name from the default registry at
// dispatch time (required for process and distributed kinds, whose
// callables must exist in the worker's registry).
func New(name string, fn Callable, opts ...Option) *Job {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	j := &Job{
		jobID:        id.NewJobID(),
		name:         name,
		kind:         o.Kind,
		fn:           fn,
		args:         o.Args,
		cond:         o.Condition,
		maxAttempts:  o.MaxAttempts,
		retryDelay:   o.RetryDelay,
		waitInterval: o.WaitInterval,
		timeout:      o.Timeout,
		status:       StatusCreated,
		createdAt:    time.Now().UTC(),
	}
	j.effective = j.cond
	j.future = newFuture(j)

	for _, cb := range o.OnDone {
		j.future.OnDone(cb)
	}
	for _, cb := range o.OnError {
		j.future.OnError(cb)
	}

	return j
}

// FromRegistry constructs a job whose callable is looked up by name in
// the default registry at dispatch time.
func FromRegistry(name string, opts ...Option) *Job {
	return New(name, nil, opts...)
}

// ID returns the job's unique identifier.
func (j *Job) ID() id.JobID { return j.jobID }

// Name returns the job's name.
func (j *Job) Name() string { return j.name }

// Kind returns the backend selector for this job.
func (j *Job) Kind() Kind { return j.kind }

// Fn returns the job's callable, or nil for registry-resolved jobs.
func (j *Job) Fn() Callable { return j.fn }

// Args returns the job's arguments as constructed. Values of type
// *Future are dependency edges resolved at dispatch time.
func (j *Job) Args() []any { return j.args }

// Condition returns the user-supplied condition, or nil.
func (j *Job) Condition() Condition { return j.cond }

// MaxAttempts returns the retry budget (0 means no retries).
func (j *Job) MaxAttempts() int { return j.maxAttempts }

// RetryDelay returns the fixed delay between retries. Zero means the
// engine's backoff strategy decides.
func (j *Job) RetryDelay() time.Duration { return j.retryDelay }

// WaitInterval returns the minimum duration between condition
// re-evaluations for this job.
func (j *Job) WaitInterval() time.Duration { return j.waitInterval }

// Timeout returns the per-execution deadline. Zero means unlimited.
func (j *Job) Timeout() time.Duration { return j.timeout }

// Future returns the handle exposing this job's eventual result.
func (j *Job) Future() *Future { return j.future }

// Status returns the job's current lifecycle status.
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Attempts returns the number of failed attempts so far.
func (j *Job) Attempts() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.attempts
}

// CreatedAt returns the construction time.
func (j *Job) CreatedAt() time.Time { return j.createdAt }

// StartedAt returns the time the job first reached running, or the zero
// time if it never ran.
func (j *Job) StartedAt() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.startedAt
}

// StoppedAt returns the time the job reached a terminal status, or the
// zero time if it is still active.
func (j *Job) StoppedAt() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.stoppedAt
}

// ──────────────────────────────────────────────────
// Public operations
// ──────────────────────────────────────────────────

// SubmitTo registers the job with the engine and transitions it from
// created to pending.
func (j *Job) SubmitTo(ctx context.Context, e Engine) error {
	return e.Submit(ctx, j)
}

// Cancel requests cancellation. Valid from any non-terminal status;
// idempotent. A running job's backend is signalled and the job is
// recorded as cancelled when the scheduler executes the request; a
// streaming job is settled when its stream's completion is processed.
func (j *Job) Cancel(ctx context.Context) error {
	e := j.boundEngine()
	if e == nil {
		return executor.ErrNotSubmitted
	}
	return e.Cancel(ctx, j)
}

// Rerun resets the attempt counter and returns a terminal job to
// pending.
func (j *Job) Rerun(ctx context.Context) error {
	e := j.boundEngine()
	if e == nil {
		return executor.ErrNotSubmitted
	}
	return e.Rerun(ctx, j)
}

// Wait blocks until the job reaches the target status or any terminal
// status, and returns the status reached. Deadline and cancellation come
// from ctx; on expiry the job state is not mutated and
// executor.ErrTimeout is returned.
func (j *Job) Wait(ctx context.Context, target Status) (Status, error) {
	e := j.boundEngine()
	if e == nil {
		return j.Status(), executor.ErrNotSubmitted
	}
	return e.WaitStatus(ctx, j, target)
}

// Join blocks until the job reaches any terminal status.
func (j *Job) Join(ctx context.Context) (Status, error) {
	return j.Wait(ctx, StatusDone)
}

// Result returns the stored result. It is defined only after the job
// terminated: a failed job's stored error is returned, a cancelled job
// returns executor.ErrCancelled, and a still-active job returns
// executor.ErrNotTerminal.
func (j *Job) Result() (any, error) {
	switch j.Status() {
	case StatusDone:
		res, _, _ := j.future.TryResult()
		return res, nil
	case StatusFailed:
		_, err, _ := j.future.TryResult()
		return nil, err
	case StatusCancelled:
		return nil, executor.ErrCancelled
	default:
		// Streaming jobs expose their handle while still running.
		if s, ok := j.future.Stream(); ok {
			return s, nil
		}
		return nil, executor.ErrNotTerminal
	}
}

// Err returns the stored error, or nil. Defined only after termination.
func (j *Job) Err() error {
	_, err, ok := j.future.TryResult()
	if !ok {
		return nil
	}
	return err
}

func (j *Job) boundEngine() Engine {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.engine
}

// ──────────────────────────────────────────────────
// Scheduler-facing state machine
//
// Everything below is called only by the engine's scheduler goroutine
// (or under its coordination). User code never calls Mark*.
// ──────────────────────────────────────────────────

// Bind attaches the managing engine. Called once at submission.
func (j *Job) Bind(e Engine) {
	j.mu.Lock()
	j.engine = e
	j.mu.Unlock()
}

// EffectiveCondition returns the user condition conjoined with any
// auto-injected dependency and retry-delay conditions.
func (j *Job) EffectiveCondition() Condition {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.effective
}

// SetEffectiveCondition replaces the effective condition.
func (j *Job) SetEffectiveCondition(c Condition) {
	j.mu.Lock()
	j.effective = c
	j.mu.Unlock()
}

// DueForEval reports whether the job's wait interval has elapsed since
// the last condition evaluation.
func (j *Job) DueForEval(now time.Time) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.lastEval.IsZero() || now.Sub(j.lastEval) >= j.waitInterval
}

// MarkEvaluated records a condition evaluation instant.
func (j *Job) MarkEvaluated(now time.Time) {
	j.mu.Lock()
	j.lastEval = now
	j.mu.Unlock()
}

// MarkPending moves the job to pending: from created at submission, from
// a terminal status on rerun (resetting attempts and the result slot),
// or from running on retry (keeping the attempt counter).
func (j *Job) MarkPending(rerun bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch {
	case j.status == StatusCreated:
	case j.status.Terminal():
		if rerun {
			j.attempts = 0
		}
		j.stoppedAt = time.Time{}
		j.future.reset()
	case j.status == StatusRunning: // retry after failure
		j.future.reset()
	default:
		return executor.ErrInvalidTransition
	}
	j.status = StatusPending
	j.lastEval = time.Time{}
	return nil
}

// MarkRunning moves a pending job to running and stamps startedAt.
func (j *Job) MarkRunning() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != StatusPending {
		return executor.ErrInvalidTransition
	}
	j.status = StatusRunning
	if j.startedAt.IsZero() {
		j.startedAt = time.Now().UTC()
	}
	return nil
}

// MarkDone records a successful result and moves the job to done.
func (j *Job) MarkDone(result any) error {
	j.mu.Lock()
	if j.status != StatusRunning {
		j.mu.Unlock()
		return executor.ErrInvalidTransition
	}
	j.status = StatusDone
	j.stoppedAt = time.Now().UTC()
	j.mu.Unlock()

	j.future.resolve(result)
	return nil
}

// MarkFailed records an error and moves the job to failed. Valid from
// running (callable raised) and from pending (dependency failure).
func (j *Job) MarkFailed(err error) error {
	j.mu.Lock()
	if j.status != StatusRunning && j.status != StatusPending {
		j.mu.Unlock()
		return executor.ErrInvalidTransition
	}
	j.status = StatusFailed
	j.stoppedAt = time.Now().UTC()
	j.mu.Unlock()

	j.future.reject(err)
	return nil
}

// MarkCancelled moves any non-terminal job to cancelled. Idempotent on
// already-cancelled jobs.
func (j *Job) MarkCancelled() error {
	j.mu.Lock()
	if j.status == StatusCancelled {
		j.mu.Unlock()
		return nil
	}
	if j.status.Terminal() {
		j.mu.Unlock()
		return executor.ErrInvalidTransition
	}
	j.status = StatusCancelled
	j.stoppedAt = time.Now().UTC()
	j.mu.Unlock()

	j.future.reject(executor.ErrCancelled)
	return nil
}

// IncAttempts bumps the failed-attempt counter and returns the new value.
func (j *Job) IncAttempts() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempts++
	return j.attempts
}
