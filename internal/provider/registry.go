package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// nopHandler is a slog.Handler that discards all log records.
// Enabled returns false so slog skips formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// Backend configures one entry of the registry.
type Backend struct {
	ID       string
	Provider Provider
	Pricing  Pricing
	Auth     *AuthProfile
	Health   HealthConfig
}

// Handle is a registered backend plus its health state.
type Handle struct {
	Backend
	health *healthTracker
	logger *slog.Logger
}

// Available reports whether the backend is accepting requests.
func (h *Handle) Available() bool {
	return h.health.IsAvailable()
}

// Report feeds the outcome of one call into the health tracker. Caller
// cancellation and non-transient errors leave health untouched; a rate
// limit also rotates the API key when several are configured.
func (h *Handle) Report(err error) {
	switch {
	case err == nil:
		h.health.RecordSuccess()
	case errors.Is(err, context.Canceled):
		return
	case IsRetryable(err) || errors.Is(err, context.DeadlineExceeded):
		if IsRateLimit(err) && h.Auth != nil && h.Auth.Rotate() {
			h.logger.Info("auth key rotated",
				"backend", h.ID,
				"key_index", h.Auth.CurrentIndex(),
			)
		}
		h.health.RecordFailure()
		h.logger.Warn("backend call failed",
			"backend", h.ID,
			"error", err,
		)
	}
}

// Status describes the health of one backend.
type Status struct {
	ID       string        `json:"id"`
	Model    string        `json:"model"`
	State    HealthState   `json:"state"`
	Failures int           `json:"failures"`
	Backoff  time.Duration `json:"backoff_ns"`
}

// Status returns the backend's current health.
func (h *Handle) Status() Status {
	snap := h.health.snapshot()
	return Status{
		ID:       h.ID,
		Model:    h.Provider.ModelName(),
		State:    snap.State,
		Failures: snap.Failures,
		Backoff:  snap.Backoff,
	}
}

// RegistryOption configures optional Registry behavior.
type RegistryOption func(*Registry)

// WithLogger injects a structured logger into the Registry.
// When nil or omitted, all log output is discarded.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// Registry maps backend ids to providers and tracks their health.
// It is built once at startup and is safe for concurrent use.
type Registry struct {
	handles map[string]*Handle
	order   []string
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewRegistry builds a registry from the given backends.
func NewRegistry(backends []Backend, opts ...RegistryOption) (*Registry, error) {
	if len(backends) == 0 {
		return nil, ErrNoProvider
	}

	r := &Registry{handles: make(map[string]*Handle, len(backends))}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(nopHandler{})
	}

	for _, b := range backends {
		if b.ID == "" {
			return nil, fmt.Errorf("%w: backend with empty id", ErrNoProvider)
		}
		if b.Provider == nil {
			return nil, fmt.Errorf("%w: backend %q has nil provider", ErrNoProvider, b.ID)
		}
		if _, dup := r.handles[b.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateBackend, b.ID)
		}

		h := &Handle{Backend: b, health: newHealthTracker(b.Health), logger: r.logger}
		id, logger := b.ID, r.logger
		h.health.onStateChange = func(from, to HealthState) {
			snap := h.health.snapshot()
			switch to {
			case HealthCooldown:
				logger.Warn("backend entered cooldown",
					"backend", id,
					"backoff", snap.Backoff,
					"failures", snap.Failures,
				)
			case HealthDead:
				logger.Error("backend marked dead",
					"backend", id,
					"total_failures", snap.Failures,
				)
			case HealthHealthy:
				logger.Info("backend revived",
					"backend", id,
					"previous_state", from.String(),
				)
			}
		}

		r.handles[b.ID] = h
		r.order = append(r.order, b.ID)
	}

	return r, nil
}

// Get returns the handle for id.
func (r *Registry) Get(id string) (*Handle, error) {
	h, ok := r.handles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, id)
	}
	return h, nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.handles[id]
	return ok
}

// IDs returns backend ids in registration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// HealthReport returns the health of every backend, sorted by id.
func (r *Registry) HealthReport() []Status {
	out := make([]Status, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Start launches the background health probe loop.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return nil
	}
	ctx, r.cancel = context.WithCancel(ctx)

	handles := make([]*Handle, 0, len(r.order))
	for _, id := range r.order {
		handles = append(handles, r.handles[id])
	}
	go runHealthChecks(ctx, minHealthCheckInterval(handles), handles)
	return nil
}

// Stop cancels background health probes.
func (r *Registry) Stop(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	return nil
}

func minHealthCheckInterval(handles []*Handle) time.Duration {
	interval := 10 * time.Second
	for i, h := range handles {
		if d := h.Health.checkIntervalOrDefault(); i == 0 || d < interval {
			interval = d
		}
	}
	return interval
}

// runHealthChecks probes dead or cooled-down backends until ctx is done.
func runHealthChecks(ctx context.Context, interval time.Duration, handles []*Handle) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeAll(ctx, handles)
		}
	}
}

func probeAll(ctx context.Context, handles []*Handle) {
	for _, h := range handles {
		if !h.health.ShouldHealthCheck() {
			continue
		}
		checker, ok := h.Provider.(HealthChecker)
		if !ok {
			continue
		}
		if err := checker.HealthCheck(ctx); err == nil {
			h.health.RecordSuccess()
		}
	}
}
