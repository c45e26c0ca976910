package executor

import "time"

// CacheType selects where job snapshots are persisted.
type CacheType string

const (
	// CacheMem keeps job records in memory only (no snapshots).
	CacheMem CacheType = "mem"
	// CacheDisk writes a snapshot of each job under CachePath/<job-id>/.
	CacheDisk CacheType = "disk"
	// CacheRedis writes snapshots to one Redis key per job.
	CacheRedis CacheType = "redis"
)

// Settings holds configuration for an Engine.
type Settings struct {
	// MaxJobs is the global cap on concurrently running jobs.
	// -1 means unlimited.
	MaxJobs int

	// MaxJobsPerKind caps concurrently running jobs per backend kind.
	// Kinds not listed are unlimited. -1 means unlimited.
	MaxJobsPerKind map[string]int

	// PrintTraceback logs the error message via the logger when a job
	// fails. No stack trace is captured.
	PrintTraceback bool

	// Tick is the scheduler's idle wake interval: the upper bound on how
	// long a satisfiable condition waits before being noticed.
	Tick time.Duration

	// CacheType selects the snapshot backend.
	CacheType CacheType

	// CachePath is the snapshot directory for CacheDisk.
	CachePath string

	// RedisAddr is the Redis address for CacheRedis.
	RedisAddr string
}

// DefaultSettings returns Settings with sensible defaults: unlimited
// capacity, tracebacks on, a 50ms tick, and in-memory job records.
func DefaultSettings() Settings {
	return Settings{
		MaxJobs:        -1,
		PrintTraceback: true,
		Tick:           50 * time.Millisecond,
		CacheType:      CacheMem,
	}
}
