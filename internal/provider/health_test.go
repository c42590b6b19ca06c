package provider

import (
	"sync"
	"testing"
	"time"
)

func newTestTracker(cfg HealthConfig) (*healthTracker, *fakeTime) {
	h := newHealthTracker(cfg)
	ft := &fakeTime{current: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	h.now = ft.Now
	return h, ft
}

type fakeTime struct {
	mu      sync.Mutex
	current time.Time
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}

func TestHealthTracker_StartsHealthy(t *testing.T) {
	t.Parallel()
	h, _ := newTestTracker(HealthConfig{})
	if !h.IsAvailable() {
		t.Error("new tracker should be available")
	}
	if s := h.snapshot().State; s != HealthHealthy {
		t.Errorf("state = %v, want healthy", s)
	}
}

func TestHealthTracker_ExponentialBackoff(t *testing.T) {
	t.Parallel()
	h, ft := newTestTracker(HealthConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     60 * time.Second,
		MaxFailures:    10,
	})

	for i, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second} {
		h.RecordFailure()
		snap := h.snapshot()
		if snap.State != HealthCooldown {
			t.Fatalf("iteration %d: state = %v, want cooldown", i, snap.State)
		}
		if snap.Backoff != want {
			t.Fatalf("iteration %d: backoff = %v, want %v", i, snap.Backoff, want)
		}
		if h.IsAvailable() {
			t.Errorf("iteration %d: should not be available before backoff", i)
		}
		ft.Advance(want)
		if !h.IsAvailable() {
			t.Errorf("iteration %d: should be available at exact expiry", i)
		}
	}
}

func TestHealthTracker_BackoffCap(t *testing.T) {
	t.Parallel()
	h, _ := newTestTracker(HealthConfig{
		InitialBackoff: 4 * time.Second,
		MaxBackoff:     10 * time.Second,
		MaxFailures:    10,
	})

	h.RecordFailure()
	h.RecordFailure()
	h.RecordFailure()

	if got := h.snapshot().Backoff; got != 10*time.Second {
		t.Fatalf("backoff = %v, want capped 10s", got)
	}
}

func TestHealthTracker_DeadAndRevival(t *testing.T) {
	t.Parallel()
	h, _ := newTestTracker(HealthConfig{MaxFailures: 2})

	var transitions []string
	h.onStateChange = func(from, to HealthState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}

	h.RecordFailure()
	h.RecordFailure()
	if h.IsAvailable() {
		t.Fatal("dead backend should not be available")
	}
	if !h.ShouldHealthCheck() {
		t.Fatal("dead backend should be probed")
	}

	h.RecordSuccess()
	if !h.IsAvailable() {
		t.Fatal("backend should be available after success")
	}
	if got := h.snapshot().Failures; got != 0 {
		t.Fatalf("failures = %d, want 0", got)
	}

	want := []string{"healthy->cooldown", "cooldown->dead", "dead->healthy"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", transitions, want)
		}
	}
}

func TestHealthTracker_ShouldHealthCheck(t *testing.T) {
	t.Parallel()
	h, ft := newTestTracker(HealthConfig{MaxFailures: 3})

	if h.ShouldHealthCheck() {
		t.Error("healthy backend should not need a probe")
	}
	h.RecordFailure()
	if h.ShouldHealthCheck() {
		t.Error("active cooldown should not trigger a probe")
	}
	ft.Advance(2 * time.Second)
	if !h.ShouldHealthCheck() {
		t.Error("expired cooldown should trigger a probe")
	}
}

func TestHealthTracker_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	h, ft := newTestTracker(HealthConfig{MaxFailures: 100})

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(3)
		go func() {
			defer wg.Done()
			h.RecordFailure()
		}()
		go func() {
			defer wg.Done()
			h.IsAvailable()
		}()
		go func() {
			defer wg.Done()
			ft.Advance(time.Millisecond)
			h.RecordSuccess()
		}()
	}
	wg.Wait()
}

func TestHealthConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := HealthConfig{InitialBackoff: -time.Second, MaxFailures: -3}
	cfg.defaults()

	if cfg.InitialBackoff != time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff != 60*time.Second {
		t.Errorf("MaxBackoff = %v, want 60s", cfg.MaxBackoff)
	}
	if cfg.MaxFailures != 5 {
		t.Errorf("MaxFailures = %d, want 5", cfg.MaxFailures)
	}
	if cfg.CheckInterval != 10*time.Second {
		t.Errorf("CheckInterval = %v, want 10s", cfg.CheckInterval)
	}
}

func TestHealthState_String(t *testing.T) {
	t.Parallel()

	tests := map[HealthState]string{
		HealthHealthy:  "healthy",
		HealthCooldown: "cooldown",
		HealthDead:     "dead",
		HealthState(9): "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("HealthState(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
