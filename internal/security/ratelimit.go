package security

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a request exceeds its bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

// Rate limit buckets used by the gateway.
const (
	BucketAuth       = "auth"
	BucketRoundtable = "roundtable"
	BucketOptimize   = "optimize"
)

// RateLimitConfig sets per-minute limits. Zero keeps the default; a
// negative value disables the bucket.
type RateLimitConfig struct {
	AuthPerMin       int `yaml:"auth_per_min"`
	RoundtablePerMin int `yaml:"roundtable_per_min"`
	OptimizePerMin   int `yaml:"optimize_per_min"`
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.AuthPerMin == 0 {
		c.AuthPerMin = 60
	}
	if c.RoundtablePerMin == 0 {
		c.RoundtablePerMin = 30
	}
	if c.OptimizePerMin == 0 {
		c.OptimizePerMin = 20
	}
	return c
}

// RateLimiter is a sliding window limiter with one bucket per kind.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	window time.Duration
	limit  int
	events []time.Time
}

// NewRateLimiter creates a limiter from cfg.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	cfg = cfg.withDefaults()
	rl := &RateLimiter{buckets: make(map[string]*bucket), now: time.Now}
	for kind, limit := range map[string]int{
		BucketAuth:       cfg.AuthPerMin,
		BucketRoundtable: cfg.RoundtablePerMin,
		BucketOptimize:   cfg.OptimizePerMin,
	} {
		if limit > 0 {
			rl.buckets[kind] = &bucket{window: time.Minute, limit: limit}
		}
	}
	return rl
}

// Allow records one event of kind, or returns ErrRateLimited when the
// bucket is full. Kinds without a bucket are unlimited.
func (rl *RateLimiter) Allow(kind string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[kind]
	if !ok {
		return nil
	}
	now := rl.now()
	b.evict(now)
	if len(b.events) >= b.limit {
		return ErrRateLimited
	}
	b.events = append(b.events, now)
	return nil
}

// evict drops events older than the window. Events are chronological.
func (b *bucket) evict(now time.Time) {
	cutoff := now.Add(-b.window)
	i := 0
	for i < len(b.events) && b.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.events = b.events[i:]
	}
}
