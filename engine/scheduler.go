package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	executor "github.com/Nanguage/executor-engine"
	"github.com/Nanguage/executor-engine/backend"
	"github.com/Nanguage/executor-engine/condition"
	"github.com/Nanguage/executor-engine/job"
	"github.com/Nanguage/executor-engine/scope"
	"github.com/Nanguage/executor-engine/store"
)

// run is the scheduler goroutine: the single owner of all scheduling
// state. It sleeps until a mailbox signal or the tick interval, then
// processes one tick.
func (e *Engine) run() {
	defer close(e.doneCh)

	timer := time.NewTimer(e.settings.Tick)
	defer timer.Stop()

	for {
		// Stop wins over any other wake source.
		select {
		case <-e.stopCh:
			e.shutdown()
			return
		default:
		}

		select {
		case <-e.stopCh:
			e.shutdown()
			return
		case <-e.submissions.wakeCh():
		case <-e.completions.wakeCh():
		case <-e.commands.wakeCh():
		case <-timer.C:
		}

		e.tick()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(e.settings.Tick)
	}
}

// tick is one scheduler iteration: new submissions first, then external
// requests, then completions, then a dispatch pass over pending.
// Admitting first lets a cancel or rerun posted right after Submit find
// the job in the store.
func (e *Engine) tick() {
	for _, j := range e.submissions.drain() {
		e.admit(j)
	}
	for _, fn := range e.commands.drain() {
		fn()
	}
	for _, c := range e.completions.drain() {
		e.complete(c)
	}
	e.dispatchPending()
}

// admit enters a submitted job into the pending bucket and installs its
// effective condition (user condition ∧ dependency edges).
func (e *Engine) admit(j *job.Job) {
	ctx := context.Background()

	e.jobs.Add(j)
	j.SetEffectiveCondition(e.baseCondition(j))

	e.hooks.EmitJobSubmitted(ctx, j)
	e.snapshot(j)
}

// baseCondition conjoins the user condition with the auto-injected
// dependency condition derived from Future arguments. The dependency
// conjunct wakes on any terminal upstream status; argument resolution
// then decides between running and dependency failure.
func (e *Engine) baseCondition(j *job.Job) job.Condition {
	var deps []executor.ID
	for _, arg := range j.Args() {
		if f, ok := arg.(*job.Future); ok {
			deps = append(deps, f.JobID())
		}
	}
	if len(deps) == 0 {
		return j.Condition()
	}

	after := condition.AfterOthers{
		JobIDs:   deps,
		Statuses: []job.Status{job.StatusDone, job.StatusFailed, job.StatusCancelled},
		Mode:     condition.ModeAll,
	}
	return condition.And(j.Condition(), after)
}

// satisfied evaluates the job's effective condition against the job
// store. A panicking condition is treated as unsatisfied and logged.
func (e *Engine) satisfied(j *job.Job) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("condition panicked, treated as unsatisfied",
				slog.String("job_id", j.ID().String()),
				slog.Any("panic", r),
			)
			ok = false
		}
	}()

	eff := j.EffectiveCondition()
	if eff == nil {
		return true
	}
	return eff.Satisfy(e.jobs)
}

// dispatchPending promotes runnable pending jobs to running in
// submission order, subject to per-kind and global capacity.
func (e *Engine) dispatchPending() {
	now := time.Now()

	for _, j := range e.jobs.ByStatus(job.StatusPending) {
		if !j.DueForEval(now) {
			continue
		}
		j.MarkEvaluated(now)

		if !e.satisfied(j) {
			continue
		}

		kind := string(j.Kind())
		if !e.caps.Acquire(kind) {
			continue
		}

		args, depErr := e.resolveArgs(j)
		if depErr != nil {
			e.caps.Release(kind)
			e.failPending(j, depErr)
			continue
		}

		e.startJob(j, args)
	}
}

// resolveArgs substitutes Future arguments with their producers'
// results. A failed or cancelled producer yields a DependencyError.
func (e *Engine) resolveArgs(j *job.Job) ([]any, error) {
	args := j.Args()
	resolved := make([]any, len(args))
	for i, arg := range args {
		f, ok := arg.(*job.Future)
		if !ok {
			resolved[i] = arg
			continue
		}

		producer, found := e.jobs.GetByID(f.JobID())
		status := job.StatusFailed
		if found {
			status = producer.Status()
		}

		switch status {
		case job.StatusDone:
			value, _, _ := f.TryResult()
			resolved[i] = value
		default:
			return nil, &executor.DependencyError{
				JobID:          j.ID().String(),
				UpstreamID:     f.JobID().String(),
				UpstreamStatus: string(status),
			}
		}
	}
	return resolved, nil
}

// failPending fails a pending job without executing it: dependency
// failures and unstartable jobs. These do not consume retry attempts.
func (e *Engine) failPending(j *job.Job, jobErr error) {
	ctx := context.Background()

	if err := j.MarkFailed(jobErr); err != nil {
		return
	}
	e.moveJob(j, job.StatusPending, job.StatusFailed)
	e.active.Add(-1)

	e.logFailure(j, jobErr)
	e.hooks.EmitJobFailed(ctx, j, jobErr)
	e.snapshot(j)
}

// startJob transitions a pending job to running and hands it to the
// kind's backend.
func (e *Engine) startJob(j *job.Job, args []any) {
	ctx := context.Background()
	kind := string(j.Kind())
	key := j.ID().String()

	b, ok := e.backends[j.Kind()]
	if !ok {
		e.caps.Release(kind)
		e.failPending(j, &executor.BackendError{
			Kind: kind,
			Err:  errors.New("no backend registered"),
		})
		return
	}

	fn := j.Fn()
	if fn == nil {
		fn, _ = e.registry.Get(j.Name())
	}
	if fn == nil && !remoteKind(j.Kind()) {
		e.caps.Release(kind)
		e.failPending(j, &executor.BackendError{
			Kind: kind,
			Err:  errors.New("no callable for job " + j.Name()),
		})
		return
	}

	if err := j.MarkRunning(); err != nil {
		e.caps.Release(kind)
		return
	}
	e.moveJob(j, job.StatusPending, job.StatusRunning)
	e.hooks.EmitJobStarted(ctx, j)
	e.snapshot(j)

	task := &backend.Task{
		JobID:   key,
		Name:    j.Name(),
		Args:    args,
		Timeout: j.Timeout(),
		Done: func(result any, err error) {
			e.completions.put(completion{j: j, result: result, err: err})
		},
	}
	if fn != nil {
		task.Fn = e.wrapCallable(j, fn)
	}

	h, err := b.Start(context.Background(), task)
	if err != nil {
		e.caps.Release(kind)
		e.handleFailure(j, err)
		return
	}
	e.handles[key] = h
}

// remoteKind reports whether the kind executes out of process, where
// the callable is resolved on the worker side.
func remoteKind(k job.Kind) bool {
	return k == job.KindProcess || k == job.KindDistributed
}

// wrapCallable threads the in-process middleware chain around the
// callable and scopes the engine into the context so job code can
// submit further work. Out-of-process kinds ignore Task.Fn, so the
// chain covers local and thread execution.
func (e *Engine) wrapCallable(j *job.Job, fn job.Callable) job.Callable {
	return func(ctx context.Context, args ...any) (any, error) {
		ctx = scope.WithEngine(ctx, e)
		ctx = scope.WithView(ctx, e.jobs)
		return e.chain(ctx, j, func(ctx context.Context) (any, error) {
			return fn(ctx, args...)
		})
	}
}

// complete processes one completion event.
func (e *Engine) complete(c completion) {
	ctx := context.Background()
	j := c.j
	key := j.ID().String()

	if c.streamEnd {
		e.completeStream(c)
		return
	}

	// Stale completions — the job was already cancelled, retried, or
	// otherwise moved on — are dropped.
	if j.Status() != job.StatusRunning {
		delete(e.handles, key)
		return
	}

	delete(e.handles, key)
	e.caps.Release(string(j.Kind()))

	// A callable returning a Stream keeps the job running until the
	// consumer exhausts the handle. Engine.Wait stops accounting for
	// it from here on.
	if s, ok := c.result.(*job.Stream); ok && c.err == nil {
		e.streams[key] = s
		j.Future().SetStream(s)
		s.Bind(func(streamErr error) {
			e.completions.put(completion{j: j, result: s, err: streamErr, streamEnd: true})
		})
		e.active.Add(-1)
		return
	}

	if c.err != nil {
		e.handleFailure(j, c.err)
		return
	}

	if err := j.MarkDone(c.result); err != nil {
		return
	}
	e.moveJob(j, job.StatusRunning, job.StatusDone)
	e.active.Add(-1)
	e.hooks.EmitJobDone(ctx, j, time.Since(j.StartedAt()))
	e.snapshot(j)
}

// completeStream settles a streaming job once its handle is exhausted,
// closed, or cancelled.
func (e *Engine) completeStream(c completion) {
	ctx := context.Background()
	j := c.j
	key := j.ID().String()

	if _, ok := e.streams[key]; !ok {
		return
	}
	delete(e.streams, key)

	if j.Status() != job.StatusRunning {
		return
	}

	switch {
	case c.err == nil || errors.Is(c.err, executor.ErrStreamExhausted):
		if err := j.MarkDone(c.result); err != nil {
			return
		}
		e.moveJob(j, job.StatusRunning, job.StatusDone)
		e.hooks.EmitJobDone(ctx, j, time.Since(j.StartedAt()))
	case errors.Is(c.err, executor.ErrCancelled) || errors.Is(c.err, context.Canceled):
		if err := j.MarkCancelled(); err != nil {
			return
		}
		e.moveJob(j, job.StatusRunning, job.StatusCancelled)
		e.hooks.EmitJobCancelled(ctx, j)
	default:
		// Streams are not retried: the consumer may have observed
		// values already.
		if err := j.MarkFailed(c.err); err != nil {
			return
		}
		e.moveJob(j, job.StatusRunning, job.StatusFailed)
		e.logFailure(j, c.err)
		e.hooks.EmitJobFailed(ctx, j, c.err)
	}
	e.snapshot(j)
}

// handleFailure applies the retry protocol to a running job's error.
func (e *Engine) handleFailure(j *job.Job, jobErr error) {
	ctx := context.Background()
	key := j.ID().String()

	if e.cancelled[key] || errors.Is(jobErr, executor.ErrCancelled) {
		e.finishCancelled(j, job.StatusRunning)
		return
	}

	// One free requeue for backend infrastructure failures.
	var bErr *executor.BackendError
	if errors.As(jobErr, &bErr) && e.backendRecovery && !e.recovered[key] {
		e.recovered[key] = true
		if err := j.MarkPending(false); err == nil {
			e.moveJob(j, job.StatusRunning, job.StatusPending)
			e.logger.Warn("backend lost job, requeued",
				slog.String("job_id", key),
				slog.String("error", jobErr.Error()),
			)
			return
		}
	}

	attempts := j.IncAttempts()
	if attempts <= j.MaxAttempts() {
		delay := j.RetryDelay()
		if delay <= 0 {
			delay = e.bo.Delay(attempts)
		}
		notBefore := time.Now().Add(delay)

		j.SetEffectiveCondition(condition.And(
			e.baseCondition(j),
			condition.AfterTimepoint{At: notBefore},
		))
		if err := j.MarkPending(false); err != nil {
			return
		}
		e.moveJob(j, job.StatusRunning, job.StatusPending)

		e.hooks.EmitJobRetrying(ctx, j, attempts, notBefore)
		e.logger.Info("job scheduled for retry",
			slog.String("job_id", key),
			slog.String("job_name", j.Name()),
			slog.Int("attempt", attempts),
			slog.Int("max_attempts", j.MaxAttempts()),
			slog.Duration("delay", delay),
		)
		e.snapshot(j)
		return
	}

	if err := j.MarkFailed(jobErr); err != nil {
		return
	}
	e.moveJob(j, job.StatusRunning, job.StatusFailed)
	e.active.Add(-1)

	e.logFailure(j, jobErr)
	e.hooks.EmitJobFailed(ctx, j, jobErr)
	e.snapshot(j)
}

// cancelJob executes a cancel request on the scheduler goroutine.
func (e *Engine) cancelJob(_ context.Context, j *job.Job) {
	key := j.ID().String()

	switch j.Status() {
	case job.StatusPending:
		e.finishCancelled(j, job.StatusPending)

	case job.StatusRunning:
		if s, ok := e.streams[key]; ok {
			// Cancelling a streaming job exhausts the stream; the
			// stream's completion settles the terminal status.
			s.Finish(executor.ErrCancelled)
			return
		}

		if h, ok := e.handles[key]; ok {
			delete(e.handles, key)
			h.Cancel()
		}
		e.cancelled[key] = true
		e.caps.Release(string(j.Kind()))
		e.finishCancelled(j, job.StatusRunning)

	default:
		// created, or already terminal: nothing to do.
	}
}

// finishCancelled records the terminal cancelled status.
func (e *Engine) finishCancelled(j *job.Job, from job.Status) {
	ctx := context.Background()

	if err := j.MarkCancelled(); err != nil {
		return
	}
	e.moveJob(j, from, job.StatusCancelled)
	e.active.Add(-1)
	e.hooks.EmitJobCancelled(ctx, j)
	e.snapshot(j)
}

// rerunJob executes a rerun request on the scheduler goroutine.
func (e *Engine) rerunJob(_ context.Context, j *job.Job) error {
	ctx := context.Background()
	key := j.ID().String()

	if _, found := e.jobs.GetByID(j.ID()); !found {
		return executor.ErrJobNotFound
	}

	from := j.Status()
	if !from.Terminal() {
		return executor.ErrNotTerminal
	}

	if err := j.MarkPending(true); err != nil {
		return err
	}
	e.moveJob(j, from, job.StatusPending)
	j.SetEffectiveCondition(e.baseCondition(j))
	delete(e.cancelled, key)
	delete(e.recovered, key)
	e.active.Add(1)

	e.hooks.EmitJobSubmitted(ctx, j)
	e.snapshot(j)
	return nil
}

// shutdown cancels everything still active and drains the mailboxes.
// Runs on the scheduler goroutine as its final act.
func (e *Engine) shutdown() {
	// Late submissions are admitted so they can be cancelled uniformly.
	for _, j := range e.submissions.drain() {
		e.admit(j)
	}
	e.completions.drain()
	e.commands.drain()

	for _, j := range e.jobs.ByStatus(job.StatusPending) {
		e.finishCancelled(j, job.StatusPending)
	}

	for _, j := range e.jobs.ByStatus(job.StatusRunning) {
		key := j.ID().String()
		if s, ok := e.streams[key]; ok {
			delete(e.streams, key)
			s.Finish(executor.ErrCancelled)
			if err := j.MarkCancelled(); err == nil {
				e.moveJob(j, job.StatusRunning, job.StatusCancelled)
				e.hooks.EmitJobCancelled(context.Background(), j)
			}
			continue
		}
		if h, ok := e.handles[key]; ok {
			delete(e.handles, key)
			h.Cancel()
		}
		e.caps.Release(string(j.Kind()))
		e.finishCancelled(j, job.StatusRunning)
	}
}

// moveJob relocates a job between store buckets. A failed move is a
// scheduler invariant violation and is fatal.
func (e *Engine) moveJob(j *job.Job, from, to job.Status) {
	if err := e.jobs.Move(j, from, to); err != nil {
		e.logger.Error("job store invariant violated",
			slog.String("job_id", j.ID().String()),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
			slog.String("error", err.Error()),
		)
		panic("executor: job store invariant violated: " + err.Error())
	}
}

// logFailure emits the failure log line with the error message when
// tracebacks are enabled; nothing is logged otherwise.
func (e *Engine) logFailure(j *job.Job, jobErr error) {
	if !e.settings.PrintTraceback {
		return
	}
	e.logger.Error("job failed",
		slog.String("job_id", j.ID().String()),
		slog.String("job_name", j.Name()),
		slog.String("error", jobErr.Error()),
	)
}

// snapshot persists the job's record, best-effort.
func (e *Engine) snapshot(j *job.Job) {
	if e.snap == nil {
		return
	}
	if err := e.snap.Save(context.Background(), store.Capture(j)); err != nil {
		e.logger.Warn("snapshot save failed",
			slog.String("job_id", j.ID().String()),
			slog.String("error", err.Error()),
		)
	}
}
