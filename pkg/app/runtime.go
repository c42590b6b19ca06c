package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/flemzord/roundtable/internal/config"
	"github.com/flemzord/roundtable/internal/core"
	"github.com/flemzord/roundtable/internal/cron"
	"github.com/flemzord/roundtable/internal/ctxengine"
	"github.com/flemzord/roundtable/internal/gateway"
	"github.com/flemzord/roundtable/internal/provider"
	"github.com/flemzord/roundtable/internal/reload"
	"github.com/flemzord/roundtable/internal/roundtable"
	"github.com/flemzord/roundtable/internal/security"
	"github.com/flemzord/roundtable/internal/slots"
	"github.com/flemzord/roundtable/internal/store"
	"github.com/flemzord/roundtable/internal/telemetry"
	"github.com/flemzord/roundtable/modules/store/sqlite"
)

// Runtime holds every component built from a configuration.
type Runtime struct {
	Config   *config.Config
	Logger   *slog.Logger
	Redactor *security.Redactor

	Tracing   *telemetry.Tracing
	Metrics   *telemetry.Metrics
	Registry  *provider.Registry
	Executor  *roundtable.Executor
	Engine    *ctxengine.Engine
	Store     store.Store
	Optimizer *cron.OptimizeJob
	Scheduler *cron.Scheduler // nil when no job is scheduled
	Gateway   *gateway.Gateway
	Reload    *reload.Handler // nil until WatchConfig

	closers []io.Closer
}

// authorizer is implemented by backends that rotate API keys.
type authorizer interface {
	Auth() *provider.AuthProfile
}

// NewLogger builds the process logger. Secrets found in cfg are redacted
// from every record. An empty level uses cfg.LogLevel.
func NewLogger(cfg *config.Config, w io.Writer, level string) (*slog.Logger, *security.Redactor, error) {
	if level == "" {
		level = cfg.LogLevel
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, nil, fmt.Errorf("log level %q: %w", level, err)
	}

	redactor := security.NewRedactor(cfg.Secrets()...)
	inner := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
	return slog.New(security.NewRedactingHandler(inner, redactor)), redactor, nil
}

// Build constructs the runtime. Nothing is started; use App for that.
// On error every resource opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, redactor *security.Redactor) (rt *Runtime, err error) {
	rt = &Runtime{Config: cfg, Logger: logger, Redactor: redactor}
	defer func() {
		if err != nil {
			_ = rt.Close()
			rt = nil
		}
	}()

	rt.Tracing, err = telemetry.NewTracing(ctx, cfg.Telemetry)
	if err != nil {
		return rt, fmt.Errorf("tracing: %w", err)
	}
	rt.Metrics = telemetry.NewMetrics()

	if err := rt.buildBackends(); err != nil {
		return rt, err
	}
	if err := rt.buildEngine(); err != nil {
		return rt, err
	}
	if err := rt.openStore(ctx); err != nil {
		return rt, err
	}
	if err := rt.buildScheduler(); err != nil {
		return rt, err
	}
	if err := rt.buildGateway(); err != nil {
		return rt, err
	}
	return rt, nil
}

func (rt *Runtime) buildBackends() error {
	appCtx := core.NewAppContext(rt.Logger, rt.Config.DataDir)

	backends := make([]provider.Backend, 0, len(rt.Config.Backends))
	slotOpts := make([]slots.Option, 0, len(rt.Config.Backends))
	for i := range rt.Config.Backends {
		b := &rt.Config.Backends[i]
		p, err := appCtx.BuildBackend(b.Kind, b.ID, &b.Settings)
		if err != nil {
			return err
		}
		entry := provider.Backend{ID: b.ID, Provider: p, Pricing: b.Pricing, Health: b.Health}
		if a, ok := p.(authorizer); ok {
			entry.Auth = a.Auth()
		}
		backends = append(backends, entry)
		if b.Concurrency > 0 {
			slotOpts = append(slotOpts, slots.WithCeiling(b.ID, b.Concurrency))
		}
	}

	reg, err := provider.NewRegistry(backends, provider.WithLogger(rt.Logger.With("component", "registry")))
	if err != nil {
		return err
	}
	rt.Registry = reg

	manager, err := slots.NewManager(slotOpts...)
	if err != nil {
		return err
	}

	fallbacks := roundtable.DefaultFallbacks.Merge(rt.Config.Roundtable.Fallbacks)
	rt.Executor = roundtable.NewExecutor(reg, manager,
		roundtable.WithLogger(rt.Logger.With("component", "roundtable")),
		roundtable.WithTracer(rt.Tracing.Tracer("roundtable")),
		roundtable.WithObserver(rt.Metrics),
		roundtable.WithFallbacks(fallbacks),
	)
	return nil
}

func (rt *Runtime) buildEngine() error {
	opts := []ctxengine.Option{
		ctxengine.WithLogger(rt.Logger.With("component", "ctxengine")),
		ctxengine.WithTracer(rt.Tracing.Tracer("ctxengine")),
	}
	if id := rt.Config.Context.Summarizer; id != "" {
		h, err := rt.Registry.Get(id)
		if err != nil {
			return fmt.Errorf("context summarizer: %w", err)
		}
		opts = append(opts, ctxengine.WithSummarizer(ctxengine.ProviderSummarizer{Provider: h.Provider}))
	}
	rt.Engine = ctxengine.NewEngine(rt.Config.Context.Config, opts...)
	return nil
}

func (rt *Runtime) openStore(ctx context.Context) error {
	switch rt.Config.Store.Driver {
	case config.StoreMemory:
		rt.Store = store.NewMemory()
	default:
		s, err := sqlite.Open(ctx, rt.Config.Store.Config, rt.Logger.With("component", "store"))
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		rt.Store = s
	}
	rt.closers = append(rt.closers, rt.Store)
	return nil
}

func (rt *Runtime) buildScheduler() error {
	rt.Optimizer = &cron.OptimizeJob{
		Store:        rt.Store,
		Engine:       rt.Engine,
		Observer:     rt.Metrics,
		Logger:       rt.Logger.With("component", "cron"),
		ScheduleExpr: rt.Config.Scheduler.Optimize,
	}
	if rt.Config.Scheduler.Optimize == "" {
		return nil
	}
	rt.Scheduler = cron.NewScheduler(rt.Logger.With("component", "scheduler"))
	return rt.Scheduler.RegisterJob(rt.Optimizer)
}

func (rt *Runtime) buildGateway() error {
	gcfg := rt.Config.Gateway

	var audit io.Writer
	if gcfg.AuditLog != "" {
		if err := os.MkdirAll(filepath.Dir(gcfg.AuditLog), 0o700); err != nil {
			return fmt.Errorf("audit log: %w", err)
		}
		f, err := os.OpenFile(gcfg.AuditLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("audit log: %w", err)
		}
		rt.closers = append(rt.closers, f)
		audit = f
	}

	gw, err := gateway.New(gcfg, gateway.Deps{
		Executor:        rt.Executor,
		Backends:        rt.Registry,
		Store:           rt.Store,
		Engine:          rt.Engine,
		Optimizer:       rt.Optimizer,
		Strategy:        rt.Config.Roundtable.Strategy,
		DefaultBackends: rt.Registry.IDs(),
		Metrics:         rt.Metrics,
		Audit:           security.NewAuditLogger(security.AuditLoggerConfig{Writer: audit, Redactor: rt.Redactor}),
		Limiter:         security.NewRateLimiter(gcfg.RateLimit),
		Config: func() (map[string]any, error) {
			return rt.currentConfig().Redacted(rt.Redactor)
		},
	}, gateway.WithLogger(rt.Logger.With("component", "gateway")))
	if err != nil {
		return err
	}
	rt.Gateway = gw
	return nil
}

// WatchConfig enables live reload from the file at path.
func (rt *Runtime) WatchConfig(path string) {
	rt.Reload = reload.NewHandler(path, rt.Config, reload.Targets{
		Fallbacks: rt.Executor,
		Context:   rt.Engine,
	}, rt.Logger.With("component", "reload"))
}

// currentConfig is the last configuration loaded, including live reloads.
func (rt *Runtime) currentConfig() *config.Config {
	if rt.Reload != nil {
		return rt.Reload.Current()
	}
	return rt.Config
}

// App returns the lifecycle for serving: tracing first, the gateway last.
// Stopping the app releases the store and audit log.
func (rt *Runtime) App() *core.App {
	a := core.NewApp(rt.Logger)
	a.Add("tracing", rt.Tracing)
	a.Add("resources", closerFunc(rt.Close))
	a.Add("registry", rt.Registry)
	if rt.Scheduler != nil {
		a.Add("scheduler", rt.Scheduler)
	}
	if rt.Reload != nil {
		interval := rt.Config.Reload.Interval
		if rt.Config.Reload.Disabled {
			interval = 0
		}
		a.Add("reload", reload.NewWatcher(rt.Reload, interval))
	}
	a.Add("gateway", rt.Gateway)
	return a
}

// Close releases the store and audit log. It is safe to call twice.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// closerFunc adapts a close function to core.Stopper.
type closerFunc func() error

func (f closerFunc) Stop(context.Context) error { return f() }
