// Package scope carries the active engine through context.Context.
// The engine injects itself before invoking in-process callables, so
// job code (sentinels, launchers used inside jobs) can submit further
// work to the engine that is running it without a process-wide
// singleton.
package scope

import (
	"context"

	"github.com/Nanguage/executor-engine/job"
)

type engineKey struct{}

type viewKey struct{}

// WithEngine attaches an engine to the context.
func WithEngine(ctx context.Context, e job.Engine) context.Context {
	return context.WithValue(ctx, engineKey{}, e)
}

// EngineFrom extracts the engine attached to the context.
// Returns false if none is present.
func EngineFrom(ctx context.Context) (job.Engine, bool) {
	e, ok := ctx.Value(engineKey{}).(job.Engine)
	return e, ok
}

// WithView attaches a condition view (the engine's job store) to the
// context.
func WithView(ctx context.Context, v job.ConditionView) context.Context {
	return context.WithValue(ctx, viewKey{}, v)
}

// ViewFrom extracts the condition view attached to the context.
// Returns false if none is present.
func ViewFrom(ctx context.Context) (job.ConditionView, bool) {
	v, ok := ctx.Value(viewKey{}).(job.ConditionView)
	return v, ok
}
