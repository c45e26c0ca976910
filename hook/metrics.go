package hook

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Nanguage/executor-engine/job"
)

// meterName is the instrumentation scope for lifecycle metrics.
const meterName = "github.com/Nanguage/executor-engine/hook"

// Compile-time interface checks.
var (
	_ Hook         = (*MetricsHook)(nil)
	_ JobSubmitted = (*MetricsHook)(nil)
	_ JobDone      = (*MetricsHook)(nil)
	_ JobFailed    = (*MetricsHook)(nil)
	_ JobRetrying  = (*MetricsHook)(nil)
	_ JobCancelled = (*MetricsHook)(nil)
)

// MetricsHook records engine-wide lifecycle counters via OTel.
// Register it on an engine to track submission rates, completions,
// failures, retries, and cancellations per job kind.
type MetricsHook struct {
	submitted metric.Int64Counter
	done      metric.Int64Counter
	failed    metric.Int64Counter
	retried   metric.Int64Counter
	cancelled metric.Int64Counter
}

// NewMetricsHook creates a MetricsHook using the global MeterProvider.
func NewMetricsHook() *MetricsHook {
	return NewMetricsHookWithMeter(otel.Meter(meterName))
}

// NewMetricsHookWithMeter creates a MetricsHook with the provided
// meter. Use for injecting a test MeterProvider.
func NewMetricsHookWithMeter(meter metric.Meter) *MetricsHook {
	h := &MetricsHook{}
	// On error the OTel API returns noop instruments.
	h.submitted, _ = meter.Int64Counter("executor.job.submitted",
		metric.WithDescription("Jobs entering the pending bucket"))
	h.done, _ = meter.Int64Counter("executor.job.done",
		metric.WithDescription("Jobs completing successfully"))
	h.failed, _ = meter.Int64Counter("executor.job.failed",
		metric.WithDescription("Jobs failing terminally"))
	h.retried, _ = meter.Int64Counter("executor.job.retried",
		metric.WithDescription("Retry attempts scheduled"))
	h.cancelled, _ = meter.Int64Counter("executor.job.cancelled",
		metric.WithDescription("Jobs cancelled"))
	return h
}

// Name implements Hook.
func (m *MetricsHook) Name() string { return "metrics" }

func kindAttr(j *job.Job) metric.AddOption {
	return metric.WithAttributes(attribute.String("kind", string(j.Kind())))
}

// OnJobSubmitted implements JobSubmitted.
func (m *MetricsHook) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	m.submitted.Add(ctx, 1, kindAttr(j))
	return nil
}

// OnJobDone implements JobDone.
func (m *MetricsHook) OnJobDone(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.done.Add(ctx, 1, kindAttr(j))
	return nil
}

// OnJobFailed implements JobFailed.
func (m *MetricsHook) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.failed.Add(ctx, 1, kindAttr(j))
	return nil
}

// OnJobRetrying implements JobRetrying.
func (m *MetricsHook) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.retried.Add(ctx, 1, kindAttr(j))
	return nil
}

// OnJobCancelled implements JobCancelled.
func (m *MetricsHook) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.cancelled.Add(ctx, 1, kindAttr(j))
	return nil
}
