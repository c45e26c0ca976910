package executor

import (
	"errors"
	"fmt"
)

var (
	// Not found errors.
	ErrJobNotFound = errors.New("executor: job not found")

	// State errors.
	ErrInvalidTransition = errors.New("executor: invalid state transition")
	ErrNotTerminal       = errors.New("executor: job is not in a terminal state")
	ErrEngineStopped     = errors.New("executor: engine is not running")
	ErrEngineRunning     = errors.New("executor: engine already running")

	// Binding errors.
	ErrNotSubmitted = errors.New("executor: job not submitted to an engine")

	// Waiter errors.
	ErrTimeout   = errors.New("executor: wait timed out")
	ErrCancelled = errors.New("executor: job cancelled")

	// Stream errors.
	ErrStreamExhausted = errors.New("executor: stream exhausted")
	ErrNotStream       = errors.New("executor: job result is not a stream")
)

// DependencyError reports that a job's Future argument resolved to a
// producer that failed or was cancelled. The consuming job fails without
// executing.
type DependencyError struct {
	JobID          string
	UpstreamID     string
	UpstreamStatus string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("executor: job %s depends on job %s which is %s",
		e.JobID, e.UpstreamID, e.UpstreamStatus)
}

// BackendError reports that a backend failed to start or lost a job
// (child process died, connection dropped).
type BackendError struct {
	Kind string
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("executor: backend %q: %v", e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
