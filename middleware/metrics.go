package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Nanguage/executor-engine/job"
)

// meterName is the instrumentation scope name for executor metrics.
const meterName = "github.com/Nanguage/executor-engine"

// Metrics returns middleware that records per-job execution metrics
// using the global OTel MeterProvider. Without a configured provider
// the instruments are noops and the middleware is a pass-through.
//
// Instruments:
//   - executor.job.duration (Float64Histogram): execution time in
//     seconds, with attributes job_name, kind, status ("ok" or "error")
//   - executor.job.executions (Int64Counter): total executions, with
//     the same attributes
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instruments are created once; on error the OTel API returns
	// noop instruments, so the middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"executor.job.duration",
		metric.WithDescription("Duration of job execution in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr

	executions, eErr := meter.Int64Counter(
		"executor.job.executions",
		metric.WithDescription("Total number of job executions"),
		metric.WithUnit("{execution}"),
	)
	_ = eErr

	return func(ctx context.Context, j *job.Job, next Handler) (any, error) {
		start := time.Now()
		result, err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("job_name", j.Name()),
			attribute.String("kind", string(j.Kind())),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return result, err
	}
}
