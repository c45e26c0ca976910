// Package engine provides the Engine: the public facade over the job
// store, condition evaluation, capacity control, and the pluggable
// backends.
//
// # Concurrency model
//
// Exactly one cooperative scheduler goroutine per engine owns all
// mutable scheduling state. Public methods post requests into
// thread-safe mailboxes the scheduler drains each tick; backends report
// completion the same way. Status reads are served from the job store
// under a short read lock.
//
// Each tick the scheduler: admits new submissions into pending,
// executes external commands (cancel, rerun), settles completions (results,
// retries, future observers), and then walks pending jobs in
// submission order, promoting each whose condition holds and whose
// kind and global capacity allow.
//
//	eng := engine.New(
//	    engine.WithMaxJobs(8),
//	    engine.WithMaxJobsPerKind(job.KindProcess, 2),
//	    engine.WithBackend(procpool.NewPool()),
//	)
//	err := eng.Run(ctx, func(e *engine.Engine) error {
//	    j := job.New("add", add, job.WithArgs(1, 2), job.WithKind(job.KindThread))
//	    if err := e.Submit(ctx, j); err != nil {
//	        return err
//	    }
//	    return e.Wait(ctx)
//	})
package engine
