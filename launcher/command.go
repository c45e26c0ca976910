package launcher

import (
	"context"

	"github.com/Nanguage/executor-engine/extend"
	"github.com/Nanguage/executor-engine/job"
	"github.com/Nanguage/executor-engine/scope"
)

// CommandTemplate renders submit-time arguments into a shell command.
type CommandTemplate func(args ...any) string

// CommandLauncher turns a command template into a submit-site for
// subprocess jobs.
type CommandLauncher struct {
	name     string
	template CommandTemplate
	engine   job.Engine
	subOpts  []extend.SubprocessOption
}

// CommandOption configures a CommandLauncher.
type CommandOption func(*CommandLauncher)

// WithCommandEngine pins the launcher to an engine.
func WithCommandEngine(e job.Engine) CommandOption {
	return func(l *CommandLauncher) { l.engine = e }
}

// WithSubprocessOptions forwards options to every subprocess job.
func WithSubprocessOptions(opts ...extend.SubprocessOption) CommandOption {
	return func(l *CommandLauncher) { l.subOpts = append(l.subOpts, opts...) }
}

// Command creates a launcher producing subprocess jobs from a command
// template:
//
//	sort := launcher.Command("sort", func(args ...any) string {
//	    return fmt.Sprintf("sort %s", args[0])
//	})
//	j, _ := sort.Submit(ctx, "data.txt")
func Command(name string, template CommandTemplate, opts ...CommandOption) *CommandLauncher {
	l := &CommandLauncher{name: name, template: template}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Job renders the template and builds the subprocess job without
// submitting it.
func (l *CommandLauncher) Job(args ...any) *job.Job {
	return extend.NewSubprocessJob(l.template(args...), l.subOpts...)
}

// Submit renders the template and submits the subprocess job.
func (l *CommandLauncher) Submit(ctx context.Context, args ...any) (*job.Job, error) {
	e := l.engine
	if e == nil {
		scoped, ok := scope.EngineFrom(ctx)
		if !ok {
			return nil, ErrNoEngine
		}
		e = scoped
	}

	j := l.Job(args...)
	if err := e.Submit(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}
