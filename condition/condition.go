// Package condition provides the condition algebra gating job execution:
// dependency conditions over other jobs' statuses, time conditions, and
// boolean combinators. Conditions are evaluated by the scheduler on
// every tick against a read-only view of the engine's job store, so
// implementations must be side-effect-free with respect to engine state
// and cheap.
package condition

import (
	"time"

	"github.com/Nanguage/executor-engine/id"
	"github.com/Nanguage/executor-engine/job"
)

// Mode selects how AfterOthers aggregates its referenced jobs.
type Mode string

const (
	// ModeAll requires every referenced job to be in the allowed set.
	ModeAll Mode = "all"
	// ModeAny requires at least one referenced job in the allowed set.
	ModeAny Mode = "any"
)

// AfterAnother is satisfied when the referenced job's status is in
// Statuses. A missing referenced job counts as failed: it satisfies the
// condition only when Statuses includes StatusFailed.
type AfterAnother struct {
	JobID    id.JobID
	Statuses []job.Status
}

// AfterJob gates on another job being done.
func AfterJob(j *job.Job) AfterAnother {
	return AfterAnother{JobID: j.ID(), Statuses: []job.Status{job.StatusDone}}
}

// Satisfy implements job.Condition.
func (c AfterAnother) Satisfy(view job.ConditionView) bool {
	return statusAllowed(view, c.JobID, c.Statuses)
}

// AfterOthers is satisfied when the referenced jobs' statuses are in
// Statuses — all of them for ModeAll, at least one for ModeAny.
type AfterOthers struct {
	JobIDs   []id.JobID
	Statuses []job.Status
	Mode     Mode
}

// AfterJobs gates on a set of jobs all being done.
func AfterJobs(jobs ...*job.Job) AfterOthers {
	ids := make([]id.JobID, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID()
	}
	return AfterOthers{JobIDs: ids, Statuses: []job.Status{job.StatusDone}, Mode: ModeAll}
}

// Satisfy implements job.Condition. It short-circuits in both modes.
func (c AfterOthers) Satisfy(view job.ConditionView) bool {
	if len(c.JobIDs) == 0 {
		return true
	}
	for _, jobID := range c.JobIDs {
		ok := statusAllowed(view, jobID, c.Statuses)
		if c.Mode == ModeAny && ok {
			return true
		}
		if c.Mode != ModeAny && !ok {
			return false
		}
	}
	return c.Mode != ModeAny
}

func statusAllowed(view job.ConditionView, jobID id.JobID, statuses []job.Status) bool {
	allowed := statuses
	if len(allowed) == 0 {
		allowed = []job.Status{job.StatusDone}
	}
	status, found := view.JobStatus(jobID)
	if !found {
		// A job the engine no longer knows is indistinguishable from a
		// failed one.
		status = job.StatusFailed
	}
	for _, s := range allowed {
		if s == status {
			return true
		}
	}
	return false
}

// AfterTimepoint is satisfied once the current time reaches At.
type AfterTimepoint struct {
	At time.Time
}

// Satisfy implements job.Condition.
func (c AfterTimepoint) Satisfy(job.ConditionView) bool {
	return !time.Now().Before(c.At)
}

// BeforeTimepoint is satisfied while the current time is before At.
type BeforeTimepoint struct {
	At time.Time
}

// Satisfy implements job.Condition.
func (c BeforeTimepoint) Satisfy(job.ConditionView) bool {
	return time.Now().Before(c.At)
}

// Func adapts a plain predicate into a condition.
type Func func(view job.ConditionView) bool

// Satisfy implements job.Condition.
func (f Func) Satisfy(view job.ConditionView) bool { return f(view) }

// AllSatisfied is satisfied when every sub-condition is. Evaluation
// short-circuits on the first unsatisfied member.
type AllSatisfied struct {
	Conditions []job.Condition
}

// Satisfy implements job.Condition.
func (c AllSatisfied) Satisfy(view job.ConditionView) bool {
	for _, sub := range c.Conditions {
		if !sub.Satisfy(view) {
			return false
		}
	}
	return true
}

// AnySatisfied is satisfied when at least one sub-condition is.
// Evaluation short-circuits on the first satisfied member.
type AnySatisfied struct {
	Conditions []job.Condition
}

// Satisfy implements job.Condition.
func (c AnySatisfied) Satisfy(view job.ConditionView) bool {
	for _, sub := range c.Conditions {
		if sub.Satisfy(view) {
			return true
		}
	}
	return false
}

// And conjoins conditions into an AllSatisfied, flattening nested
// AllSatisfied members and dropping nils.
func And(conditions ...job.Condition) job.Condition {
	flat := make([]job.Condition, 0, len(conditions))
	for _, c := range conditions {
		switch sub := c.(type) {
		case nil:
		case AllSatisfied:
			flat = append(flat, sub.Conditions...)
		default:
			flat = append(flat, c)
		}
	}
	if len(flat) == 1 {
		return flat[0]
	}
	return AllSatisfied{Conditions: flat}
}

// Or disjoins conditions into an AnySatisfied, flattening nested
// AnySatisfied members and dropping nils.
func Or(conditions ...job.Condition) job.Condition {
	flat := make([]job.Condition, 0, len(conditions))
	for _, c := range conditions {
		switch sub := c.(type) {
		case nil:
		case AnySatisfied:
			flat = append(flat, sub.Conditions...)
		default:
			flat = append(flat, c)
		}
	}
	if len(flat) == 1 {
		return flat[0]
	}
	return AnySatisfied{Conditions: flat}
}
