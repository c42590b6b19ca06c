// Package gateway is the roundtable HTTP surface: roundtable submissions
// (JSON, SSE and WebSocket), per-project context management, health and
// Prometheus metrics. It binds to loopback by default.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flemzord/roundtable/internal/ctxengine"
	"github.com/flemzord/roundtable/internal/provider"
	"github.com/flemzord/roundtable/internal/roundtable"
	"github.com/flemzord/roundtable/internal/security"
	"github.com/flemzord/roundtable/internal/store"
	"github.com/flemzord/roundtable/internal/telemetry"
)

// nopHandler is a slog.Handler that discards all log records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// Executor runs roundtables. *roundtable.Executor implements it.
type Executor interface {
	Execute(ctx context.Context, req roundtable.Request, strategy roundtable.Strategy, onProgress func(roundtable.ProgressEvent)) (*roundtable.Execution, error)
}

// HealthReporter reports backend health. *provider.Registry implements it.
type HealthReporter interface {
	HealthReport() []provider.Status
}

// Optimizer brings a stored project back toward its ideal threshold.
// *cron.OptimizeJob implements it.
type Optimizer interface {
	Optimize(ctx context.Context, project string) error
}

// Deps are the components the gateway serves.
type Deps struct {
	Executor Executor
	Backends HealthReporter
	Store    store.Store
	Engine   *ctxengine.Engine

	// Strategy is the default strategy; requests may override fields.
	Strategy roundtable.Strategy

	// DefaultBackends is used when a request names no backends.
	DefaultBackends []string

	// Optimizer runs when a write takes a project over its hard ceiling.
	// Nil leaves the project over budget and reports it.
	Optimizer Optimizer

	Metrics *telemetry.Metrics             // optional
	Audit   *security.AuditLogger          // optional
	Limiter *security.RateLimiter          // optional
	Config  func() (map[string]any, error) // optional, redacted config view
}

// Option configures optional Gateway behavior.
type Option func(*Gateway)

// WithLogger injects a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// Gateway is the HTTP server.
type Gateway struct {
	config    Config
	deps      Deps
	assembler *ctxengine.Assembler
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a Gateway. Executor, Store and Engine are required.
func New(cfg Config, deps Deps, opts ...Option) (*Gateway, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if deps.Executor == nil || deps.Store == nil || deps.Engine == nil {
		return nil, errors.New("gateway: executor, store and engine are required")
	}

	g := &Gateway{
		config:    cfg,
		deps:      deps,
		assembler: ctxengine.NewAssembler(deps.Engine),
		logger:    slog.New(nopHandler{}),
	}
	for _, o := range opts {
		o(g)
	}
	if !cfg.Auth.IsConfigured() {
		g.logger.Warn("gateway auth disabled, serving /v1 on loopback without a token", "bind", cfg.Bind)
	}
	return g, nil
}

// validate rejects an unauthenticated gateway on a non-loopback address.
func (c Config) validate() error {
	host, _, err := net.SplitHostPort(c.Bind)
	if err != nil {
		return fmt.Errorf("gateway: invalid bind address %q: %w", c.Bind, err)
	}
	if c.Auth.IsConfigured() {
		return nil
	}
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("gateway: auth.bearer_token is required when binding %q", c.Bind)
}

// Handler returns the routed HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.buildRouter()
}

// Addr returns the bound address once started.
func (g *Gateway) Addr() string {
	if g.server == nil {
		return ""
	}
	return g.server.Addr
}

// Start implements core.Starter. It binds the listener synchronously and
// serves in the background.
func (g *Gateway) Start(ctx context.Context) error {
	g.startedAt = time.Now()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", g.config.Bind)
	if err != nil {
		return fmt.Errorf("gateway: listen failed: %w", err)
	}

	g.server = &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           g.buildRouter(),
		ReadHeaderTimeout: g.config.ReadTimeout,
		ReadTimeout:       g.config.ReadTimeout,
		WriteTimeout:      g.config.WriteTimeout,
	}

	go func() {
		g.logger.Info("gateway listening", "addr", g.server.Addr)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop implements core.Stopper. Graceful shutdown with configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
