package provider

import (
	"sync"
	"time"
)

// HealthState is the availability of one backend.
type HealthState int

// Health states. A backend cools down after a failure and is declared dead
// after MaxFailures consecutive failures.
const (
	HealthHealthy HealthState = iota
	HealthCooldown
	HealthDead
)

// String returns a lowercase label for the state.
func (s HealthState) String() string {
	switch s {
	case HealthHealthy:
		return "healthy"
	case HealthCooldown:
		return "cooldown"
	case HealthDead:
		return "dead"
	default:
		return "unknown"
	}
}

// MarshalText renders the state label in JSON and logs.
func (s HealthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// HealthConfig controls health tracking for one backend.
type HealthConfig struct {
	// InitialBackoff is the cooldown after the first failure. Default: 1s.
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the exponential backoff. Default: 60s.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// MaxFailures is the number of consecutive failures before the
	// backend is marked dead. Default: 5.
	MaxFailures int `yaml:"max_failures"`

	// CheckInterval is how often dead or cooled-down backends are probed.
	// Default: 10s.
	CheckInterval time.Duration `yaml:"check_interval"`
}

func (c HealthConfig) checkIntervalOrDefault() time.Duration {
	if c.CheckInterval <= 0 {
		return 10 * time.Second
	}
	return c.CheckInterval
}

func (c *HealthConfig) defaults() {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 60 * time.Second
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 10 * time.Second
	}
}

// healthTracker follows the availability of a single backend.
type healthTracker struct {
	cfg HealthConfig

	// onStateChange runs outside the lock on every state transition.
	onStateChange func(from, to HealthState)

	mu              sync.Mutex
	state           HealthState
	failures        int
	currentBackoff  time.Duration
	cooldownExpires time.Time

	now func() time.Time
}

func newHealthTracker(cfg HealthConfig) *healthTracker {
	cfg.defaults()
	return &healthTracker{
		cfg:   cfg,
		state: HealthHealthy,
		now:   time.Now,
	}
}

// IsAvailable reports whether the backend can take requests. A backend in
// cooldown becomes available again once its backoff has elapsed.
func (h *healthTracker) IsAvailable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case HealthHealthy:
		return true
	case HealthCooldown:
		return !h.now().Before(h.cooldownExpires)
	default:
		return false
	}
}

// RecordSuccess resets the tracker to healthy.
func (h *healthTracker) RecordSuccess() {
	h.mu.Lock()
	prev := h.state
	h.state = HealthHealthy
	h.failures = 0
	h.currentBackoff = 0
	h.mu.Unlock()

	if prev != HealthHealthy && h.onStateChange != nil {
		h.onStateChange(prev, HealthHealthy)
	}
}

// RecordFailure moves the tracker to cooldown with a doubled backoff, or
// to dead once MaxFailures is reached.
func (h *healthTracker) RecordFailure() {
	h.mu.Lock()
	prev := h.state
	h.failures++

	next := HealthCooldown
	if h.failures >= h.cfg.MaxFailures {
		next = HealthDead
	} else {
		if h.currentBackoff == 0 {
			h.currentBackoff = h.cfg.InitialBackoff
		} else {
			h.currentBackoff *= 2
		}
		h.currentBackoff = min(h.currentBackoff, h.cfg.MaxBackoff)
		h.cooldownExpires = h.now().Add(h.currentBackoff)
	}
	h.state = next
	h.mu.Unlock()

	if prev != next && h.onStateChange != nil {
		h.onStateChange(prev, next)
	}
}

// ShouldHealthCheck is true for dead backends and expired cooldowns.
func (h *healthTracker) ShouldHealthCheck() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case HealthDead:
		return true
	case HealthCooldown:
		return !h.now().Before(h.cooldownExpires)
	default:
		return false
	}
}

// healthSnapshot is a consistent read of the tracker.
type healthSnapshot struct {
	State    HealthState
	Failures int
	Backoff  time.Duration
}

func (h *healthTracker) snapshot() healthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return healthSnapshot{State: h.state, Failures: h.failures, Backoff: h.currentBackoff}
}
