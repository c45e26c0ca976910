package job

import "time"

// Options configures per-job behavior: backend kind, condition, retry
// budget, and scheduling intervals.
type Options struct {
	// Kind selects the backend. Defaults to KindLocal.
	Kind Kind

	// Args are the callable's arguments. Values of type *Future become
	// dependency edges.
	Args []any

	// Condition gates the pending → running transition. Nil means
	// always satisfied.
	Condition Condition

	// MaxAttempts is the number of retries after the initial failure.
	MaxAttempts int

	// RetryDelay is the fixed delay before a retry. Zero defers to the
	// engine's backoff strategy.
	RetryDelay time.Duration

	// WaitInterval is the minimum duration between condition
	// re-evaluations for this job.
	WaitInterval time.Duration

	// Timeout is the maximum duration one execution attempt may run.
	// Zero means unlimited.
	Timeout time.Duration

	// OnDone observers fire with the result when the job completes.
	OnDone []func(any)

	// OnError observers fire with the stored error on failure or
	// cancellation.
	OnError []func(error)
}

func defaultOptions() Options {
	return Options{
		Kind:         KindLocal,
		WaitInterval: 100 * time.Millisecond,
	}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithKind selects the backend kind.
func WithKind(k Kind) Option {
	return func(o *Options) { o.Kind = k }
}

// WithArgs sets the callable's arguments. *Future values are resolved
// to their producer's result before the callable runs.
func WithArgs(args ...any) Option {
	return func(o *Options) { o.Args = args }
}

// WithCondition gates the job on the given condition.
func WithCondition(c Condition) Option {
	return func(o *Options) { o.Condition = c }
}

// WithRetry sets the retry budget and the fixed delay between retries.
func WithRetry(maxAttempts int, delay time.Duration) Option {
	return func(o *Options) {
		o.MaxAttempts = maxAttempts
		o.RetryDelay = delay
	}
}

// WithWaitInterval sets the minimum duration between condition
// re-evaluations.
func WithWaitInterval(d time.Duration) Option {
	return func(o *Options) { o.WaitInterval = d }
}

// WithTimeout sets the per-attempt execution deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithOnDone registers a completion observer.
func WithOnDone(fn func(any)) Option {
	return func(o *Options) { o.OnDone = append(o.OnDone, fn) }
}

// WithOnError registers a failure observer.
func WithOnError(fn func(error)) Option {
	return func(o *Options) { o.OnError = append(o.OnError, fn) }
}
