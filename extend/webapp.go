package extend

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/Nanguage/executor-engine/job"
)

// WebappFunc starts a server listening on ip:port and blocks until it
// stops or ctx is cancelled.
type WebappFunc func(ctx context.Context, ip string, port int) error

// WebappOptions configures a webapp job.
type WebappOptions struct {
	// IP the server binds. Default 127.0.0.1.
	IP string

	// CheckTimes is how many readiness probes to attempt.
	CheckTimes int

	// CheckDelta is the delay between readiness probes.
	CheckDelta time.Duration

	// Job options forwarded to the constructed job.
	Job []job.Option
}

// WebappOption configures NewWebappJob.
type WebappOption func(*WebappOptions)

// WithIP sets the bind address.
func WithIP(ip string) WebappOption {
	return func(o *WebappOptions) { o.IP = ip }
}

// WithReadinessProbe tunes the probe count and spacing.
func WithReadinessProbe(times int, delta time.Duration) WebappOption {
	return func(o *WebappOptions) {
		o.CheckTimes = times
		o.CheckDelta = delta
	}
}

// WithWebappJobOptions forwards options to the constructed job.
func WithWebappJobOptions(opts ...job.Option) WebappOption {
	return func(o *WebappOptions) { o.Job = append(o.Job, opts...) }
}

// NewWebappJob creates a thread-kind job hosting a server. The job
// fails if the address never accepts connections within the probe
// window, and otherwise stays running until the server returns or the
// job is cancelled.
func NewWebappJob(name string, launch WebappFunc, port int, opts ...WebappOption) *job.Job {
	o := WebappOptions{
		IP:         "127.0.0.1",
		CheckTimes: 5,
		CheckDelta: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&o)
	}

	fn := func(ctx context.Context, _ ...any) (any, error) {
		return runWebapp(ctx, launch, o.IP, port, &o)
	}

	jobOpts := append([]job.Option{job.WithKind(job.KindThread)}, o.Job...)
	return job.New(name, fn, jobOpts...)
}

func runWebapp(ctx context.Context, launch WebappFunc, ip string, port int, o *WebappOptions) (any, error) {
	addr := net.JoinHostPort(ip, fmt.Sprint(port))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- launch(ctx, ip, port)
	}()

	// Probe until the server accepts connections.
	up := false
	for i := 0; i < o.CheckTimes && !up; i++ {
		select {
		case err := <-serverErr:
			return nil, fmt.Errorf("extend: webapp %s exited during startup: %w", addr, err)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(o.CheckDelta):
		}

		conn, err := net.DialTimeout("tcp", addr, o.CheckDelta)
		if err == nil {
			conn.Close()
			up = true
		}
	}
	if !up {
		return nil, fmt.Errorf("extend: webapp %s did not come up", addr)
	}

	// Serve until the server returns or the job is cancelled.
	select {
	case err := <-serverErr:
		if err != nil {
			return nil, fmt.Errorf("extend: webapp %s: %w", addr, err)
		}
		return addr, nil
	case <-ctx.Done():
		return addr, ctx.Err()
	}
}
