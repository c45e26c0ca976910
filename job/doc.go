// Package job defines the job entity, its lifecycle state machine, the
// Future and Stream result handles, and the named-callable registry.
//
// # Lifecycle
//
// A [Job] progresses through a state machine:
//
//	created → pending → running → done
//	                  ↘ running → failed        (no retries left)
//	                    running → pending       (retry, after delay)
//	          any non-terminal → cancelled
//	          {done, failed, cancelled} → pending   (rerun)
//
// startedAt is set iff the job has been running at least once; stoppedAt
// is set iff the job is terminal. Transitions are driven only by the
// engine's scheduler, the backend completion path, and the explicit
// Cancel/Rerun operations.
//
// # Dependencies
//
// Passing another job's [Future] as an argument makes the consumer run
// only after the producer is done, and substitutes the producer's result
// for the Future at dispatch time:
//
//	j1 := job.New("add", add, job.WithArgs(1, 2), job.WithKind(job.KindProcess))
//	j2 := job.New("add", add, job.WithArgs(j1.Future(), 4), job.WithKind(job.KindProcess))
//
// If the producer fails or is cancelled, the consumer fails with a
// DependencyError without executing.
//
// # Streams
//
// A callable may return a [Stream] to produce values lazily. The job is
// running while the consumer pulls values and reaches done only when
// the stream is exhausted or closed.
package job
