// Package slots bounds the number of in-flight calls per backend.
//
// Each backend identifier owns a weighted semaphore sized to its ceiling.
// A global mutex protects the slot map and is held only long enough to
// look up or create the per-backend entry, so waiting on one backend never
// blocks another.
package slots

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultCeiling applies to backends without a configured ceiling.
const DefaultCeiling = 5

// ErrInvalidCeiling is returned for ceilings below one.
var ErrInvalidCeiling = errors.New("slots: ceiling must be at least 1")

// DefaultCeilings lists conservative ceilings for well-known backends.
// Expensive or slow models get few slots, cheap fast ones get more.
var DefaultCeilings = map[string]int{
	"gpt-4o":            3,
	"gpt-4-turbo":       2,
	"gpt-4o-mini":       10,
	"o1":                1,
	"claude-opus":       1,
	"claude-sonnet":     3,
	"claude-haiku":      10,
	"gemini-pro":        3,
	"gemini-flash":      10,
	"mistral-large":     3,
	"llama-3-70b":       5,
	"deepseek-chat":     5,
	"openrouter-free":   2,
	"local-ollama":      1,
	"perplexity-online": 2,
}

// Manager hands out per-backend concurrency slots.
type Manager struct {
	fallback int64

	mu       sync.Mutex
	ceilings map[string]int64
	slots    map[string]*slot
}

type slot struct {
	sem     *semaphore.Weighted
	ceiling int64
	inUse   atomic.Int64
	waiting atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithCeiling sets the ceiling for one backend, overriding defaults.
func WithCeiling(backend string, n int) Option {
	return func(m *Manager) { m.ceilings[backend] = int64(n) }
}

// WithDefaultCeiling sets the ceiling used for unlisted backends.
func WithDefaultCeiling(n int) Option {
	return func(m *Manager) { m.fallback = int64(n) }
}

// NewManager creates a Manager seeded with DefaultCeilings.
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{
		fallback: DefaultCeiling,
		ceilings: make(map[string]int64, len(DefaultCeilings)),
		slots:    make(map[string]*slot),
	}
	for id, n := range DefaultCeilings {
		m.ceilings[id] = int64(n)
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.fallback < 1 {
		return nil, fmt.Errorf("%w: default ceiling %d", ErrInvalidCeiling, m.fallback)
	}
	for id, n := range m.ceilings {
		if n < 1 {
			return nil, fmt.Errorf("%w: backend %q has ceiling %d", ErrInvalidCeiling, id, n)
		}
	}
	return m, nil
}

// Acquire blocks until a slot for backend is free or ctx is done.
// On success the returned release func must be called exactly once;
// extra calls are ignored.
func (m *Manager) Acquire(ctx context.Context, backend string) (release func(), err error) {
	s := m.slotFor(backend)

	s.waiting.Add(1)
	err = s.sem.Acquire(ctx, 1)
	s.waiting.Add(-1)
	if err != nil {
		return nil, fmt.Errorf("slots: acquiring %q: %w", backend, err)
	}
	s.inUse.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.inUse.Add(-1)
			s.sem.Release(1)
		})
	}, nil
}

// TryAcquire takes a slot without blocking. ok is false when the backend
// is at its ceiling.
func (m *Manager) TryAcquire(backend string) (release func(), ok bool) {
	s := m.slotFor(backend)
	if !s.sem.TryAcquire(1) {
		return nil, false
	}
	s.inUse.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.inUse.Add(-1)
			s.sem.Release(1)
		})
	}, true
}

// Ceiling returns the slot ceiling for backend.
func (m *Manager) Ceiling(backend string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int(m.ceilingLocked(backend))
}

// InUse returns the number of slots currently held for backend.
func (m *Manager) InUse(backend string) int {
	m.mu.Lock()
	s, ok := m.slots[backend]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	return int(s.inUse.Load())
}

// Usage is a point-in-time view of one backend's slots.
type Usage struct {
	Backend string `json:"backend"`
	Ceiling int    `json:"ceiling"`
	InUse   int    `json:"in_use"`
	Waiting int    `json:"waiting"`
}

// Snapshot reports usage for every backend that has been acquired at
// least once, sorted by backend id.
func (m *Manager) Snapshot() []Usage {
	m.mu.Lock()
	out := make([]Usage, 0, len(m.slots))
	for id, s := range m.slots {
		out = append(out, Usage{
			Backend: id,
			Ceiling: int(s.ceiling),
			InUse:   int(s.inUse.Load()),
			Waiting: int(s.waiting.Load()),
		})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Backend < out[j].Backend })
	return out
}

func (m *Manager) slotFor(backend string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[backend]
	if !ok {
		n := m.ceilingLocked(backend)
		s = &slot{sem: semaphore.NewWeighted(n), ceiling: n}
		m.slots[backend] = s
	}
	return s
}

func (m *Manager) ceilingLocked(backend string) int64 {
	if n, ok := m.ceilings[backend]; ok {
		return n
	}
	return m.fallback
}
