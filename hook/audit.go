package hook

import (
	"context"
	"time"

	"github.com/Nanguage/executor-engine/job"
)

// Audit event actions, one per lifecycle event.
const (
	ActionJobSubmitted = "job.submitted"
	ActionJobStarted   = "job.started"
	ActionJobDone      = "job.done"
	ActionJobFailed    = "job.failed"
	ActionJobRetrying  = "job.retrying"
	ActionJobCancelled = "job.cancelled"
)

// AuditEvent is one recorded lifecycle event.
type AuditEvent struct {
	Action   string         `json:"action"`
	JobID    string         `json:"job_id"`
	JobName  string         `json:"job_name"`
	Kind     string         `json:"kind"`
	Outcome  string         `json:"outcome,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	At       time.Time      `json:"at"`
}

// Recorder is the interface audit backends implement. Callers bridge
// to their audit store with a RecorderFunc.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// RecorderFunc adapts a plain function into a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Compile-time interface checks.
var (
	_ Hook         = (*AuditHook)(nil)
	_ JobSubmitted = (*AuditHook)(nil)
	_ JobStarted   = (*AuditHook)(nil)
	_ JobDone      = (*AuditHook)(nil)
	_ JobFailed    = (*AuditHook)(nil)
	_ JobRetrying  = (*AuditHook)(nil)
	_ JobCancelled = (*AuditHook)(nil)
)

// AuditHook records every job lifecycle event through a Recorder.
type AuditHook struct {
	recorder Recorder
}

// NewAuditHook creates an audit hook writing to the given recorder.
func NewAuditHook(r Recorder) *AuditHook {
	return &AuditHook{recorder: r}
}

// Name implements Hook.
func (a *AuditHook) Name() string { return "audit" }

func (a *AuditHook) record(ctx context.Context, action string, j *job.Job, meta map[string]any) error {
	return a.recorder.Record(ctx, &AuditEvent{
		Action:   action,
		JobID:    j.ID().String(),
		JobName:  j.Name(),
		Kind:     string(j.Kind()),
		Metadata: meta,
		At:       time.Now().UTC(),
	})
}

// OnJobSubmitted implements JobSubmitted.
func (a *AuditHook) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	return a.record(ctx, ActionJobSubmitted, j, nil)
}

// OnJobStarted implements JobStarted.
func (a *AuditHook) OnJobStarted(ctx context.Context, j *job.Job) error {
	return a.record(ctx, ActionJobStarted, j, nil)
}

// OnJobDone implements JobDone.
func (a *AuditHook) OnJobDone(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return a.record(ctx, ActionJobDone, j, map[string]any{"elapsed": elapsed.String()})
}

// OnJobFailed implements JobFailed.
func (a *AuditHook) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return a.record(ctx, ActionJobFailed, j, map[string]any{"error": jobErr.Error()})
}

// OnJobRetrying implements JobRetrying.
func (a *AuditHook) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, notBefore time.Time) error {
	return a.record(ctx, ActionJobRetrying, j, map[string]any{
		"attempt":    attempt,
		"not_before": notBefore,
	})
}

// OnJobCancelled implements JobCancelled.
func (a *AuditHook) OnJobCancelled(ctx context.Context, j *job.Job) error {
	return a.record(ctx, ActionJobCancelled, j, nil)
}
