// Package capacity controls how many jobs may run concurrently: a
// global cap, per-kind caps, and optional per-kind token-bucket rate
// limits. The scheduler calls Acquire before dispatching a runnable job
// and Release when the job terminates; a denied Acquire leaves the job
// pending, it is never rejected.
package capacity

import (
	"sync"

	"golang.org/x/time/rate"
)

// Unlimited disables a cap.
const Unlimited = -1

// Config defines per-kind behaviour.
type Config struct {
	// Kind is the job kind this configuration applies to.
	Kind string

	// MaxJobs limits how many jobs of this kind may run simultaneously.
	// Unlimited (or zero) means no kind-specific limit.
	MaxJobs int

	// RateLimit is the maximum sustained dispatches per second for this
	// kind. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// kindState tracks runtime state for a single kind.
type kindState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

func newKindState(cfg Config) *kindState {
	ks := &kindState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ks.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ks
}

// Manager enforces the global and per-kind caps. Safe for concurrent
// use.
type Manager struct {
	mu     sync.Mutex
	global int
	total  int
	kinds  map[string]*kindState
}

// NewManager creates a Manager with the given global cap (Unlimited for
// none) and per-kind configurations. Kinds not listed have no
// kind-specific limits.
func NewManager(globalMax int, configs ...Config) *Manager {
	m := &Manager{
		global: globalMax,
		kinds:  make(map[string]*kindState, len(configs)),
	}
	for _, cfg := range configs {
		m.kinds[cfg.Kind] = newKindState(cfg)
	}
	return m
}

// Acquire checks the kind cap first, then the global cap. If the job
// may proceed it increments both active counters and returns true. The
// caller MUST call Release when the job terminates.
func (m *Manager) Acquire(kind string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ks := m.kinds[kind]
	if ks != nil {
		if ks.config.MaxJobs > 0 && ks.active >= ks.config.MaxJobs {
			return false
		}
		if ks.limiter != nil && !ks.limiter.Allow() {
			return false
		}
	}

	if m.global >= 0 && m.total >= m.global {
		return false
	}

	if ks != nil {
		ks.active++
	}
	m.total++
	return true
}

// Release decrements the active counters for the kind.
func (m *Manager) Release(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ks := m.kinds[kind]; ks != nil && ks.active > 0 {
		ks.active--
	}
	if m.total > 0 {
		m.total--
	}
}

// SetKindConfig dynamically updates (or creates) a kind configuration,
// preserving the current active count.
func (m *Manager) SetKindConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ks := newKindState(cfg)
	if existing := m.kinds[cfg.Kind]; existing != nil {
		ks.active = existing.active
	}
	m.kinds[cfg.Kind] = ks
}

// ActiveCount returns the current number of running jobs for a kind.
func (m *Manager) ActiveCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ks := m.kinds[kind]; ks != nil {
		return ks.active
	}
	return 0
}

// TotalActive returns the current number of running jobs overall.
func (m *Manager) TotalActive() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}
