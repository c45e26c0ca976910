package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/Nanguage/executor-engine/job"
)

// Recover returns middleware that recovers from panics in the callable.
// Panics are converted to errors and logged with a stack trace, so one
// panicking job cannot take down the backend hosting it.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (result any, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("job callable panicked",
					slog.String("job_name", j.Name()),
					slog.String("job_id", j.ID().String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				result = nil
				retErr = fmt.Errorf("panic in job %s: %v", j.Name(), r)
			}
		}()
		return next(ctx)
	}
}
