// Package executor provides an in-process job execution engine for Go.
// It accepts user-defined units of work (jobs), gates them on declarative
// conditions, dispatches them across pluggable backends (inline, goroutine
// pool, child-process pool, distributed worker pool), and tracks their
// lifecycle from submission through completion, failure, cancellation,
// and retry.
//
// Executor is designed as a library, not a service. Construct an engine,
// register or pass job callables, and submit jobs as ordinary Go values.
//
// # Quick Start
//
//	eng := engine.New(engine.WithMaxJobs(8))
//	if err := eng.Start(); err != nil { ... }
//	defer eng.Stop(context.Background())
//
//	j := job.New("add", add, job.WithArgs(1, 2), job.WithKind(job.KindThread))
//	eng.Submit(context.Background(), j)
//	sum, err := j.Future().Result(context.Background())
//
// # Architecture
//
// A single scheduler goroutine per engine owns all mutable scheduling
// state. External writers (submit, cancel, rerun) post to thread-safe
// mailboxes drained by the scheduler; backends report completion through
// the same mechanism. Conditions are side-effect-free predicates evaluated
// on every scheduler tick against a read-only view of the job store.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package executor
