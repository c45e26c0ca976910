// Package extend provides job constructors built on the core kinds:
// shell subprocesses, webapp launchers, and periodic or conditional
// resubmission (cron and sentinel jobs).
package extend

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/Nanguage/executor-engine/job"
)

// SubprocessResult is the result value of a subprocess job.
type SubprocessResult struct {
	Cmd      string
	ExitCode int
	Stdout   string
	Stderr   string
}

// SubprocessOptions configures a subprocess job.
type SubprocessOptions struct {
	// Dir is the working directory. Empty means inherited.
	Dir string

	// Env is appended to the inherited environment.
	Env []string

	// CaptureDir, when set, receives stdout.txt and stderr.txt files
	// in addition to the in-memory capture.
	CaptureDir string

	// Job options forwarded to the constructed job.
	Job []job.Option
}

// SubprocessOption configures NewSubprocessJob.
type SubprocessOption func(*SubprocessOptions)

// WithDir sets the working directory for the command.
func WithDir(dir string) SubprocessOption {
	return func(o *SubprocessOptions) { o.Dir = dir }
}

// WithEnv appends environment variables ("KEY=value").
func WithEnv(env ...string) SubprocessOption {
	return func(o *SubprocessOptions) { o.Env = append(o.Env, env...) }
}

// WithCaptureDir writes stdout.txt and stderr.txt under dir.
func WithCaptureDir(dir string) SubprocessOption {
	return func(o *SubprocessOptions) { o.CaptureDir = dir }
}

// WithJobOptions forwards options to the constructed job.
func WithJobOptions(opts ...job.Option) SubprocessOption {
	return func(o *SubprocessOptions) { o.Job = append(o.Job, opts...) }
}

// NewSubprocessJob creates a thread-kind job that runs a shell command.
// The result is a SubprocessResult; a non-zero exit status fails the
// job (and is retried per the job's retry policy). Cancellation kills
// the command.
func NewSubprocessJob(cmd string, opts ...SubprocessOption) *job.Job {
	var o SubprocessOptions
	for _, opt := range opts {
		opt(&o)
	}

	name := cmd
	if fields := strings.Fields(cmd); len(fields) > 0 {
		name = fields[0]
	}

	fn := func(ctx context.Context, _ ...any) (any, error) {
		return runCommand(ctx, cmd, &o)
	}

	jobOpts := append([]job.Option{job.WithKind(job.KindThread)}, o.Job...)
	return job.New(name, fn, jobOpts...)
}

func runCommand(ctx context.Context, cmd string, o *SubprocessOptions) (any, error) {
	c := exec.CommandContext(ctx, "/bin/sh", "-c", cmd)
	c.Dir = o.Dir
	if len(o.Env) > 0 {
		c.Env = append(os.Environ(), o.Env...)
	}

	var stdout, stderr strings.Builder
	c.Stdout = &stdout
	c.Stderr = &stderr

	runErr := c.Run()

	exitCode := -1
	if c.ProcessState != nil {
		exitCode = c.ProcessState.ExitCode()
	}
	result := &SubprocessResult{
		Cmd:      cmd,
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	if o.CaptureDir != "" {
		if err := os.MkdirAll(o.CaptureDir, 0o755); err == nil {
			_ = os.WriteFile(filepath.Join(o.CaptureDir, "stdout.txt"), []byte(result.Stdout), 0o644)
			_ = os.WriteFile(filepath.Join(o.CaptureDir, "stderr.txt"), []byte(result.Stderr), 0o644)
		}
	}

	if runErr != nil {
		return result, fmt.Errorf("extend: command %q: %w", cmd, runErr)
	}
	return result, nil
}
