package ctxengine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// nopHandler is a slog.Handler that discards all log records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// Option configures an Engine.
type Option func(*Engine)

// WithLogger injects a structured logger. Nil discards output.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer records a span per optimization.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithSummarizer replaces the default ExtractiveSummarizer.
func WithSummarizer(s Summarizer) Option {
	return func(e *Engine) { e.summarizer = s }
}

// WithClock sets the time source used for age-based rules.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// AppliedStrategy records one strategy application with its realized savings.
type AppliedStrategy struct {
	Name             string `json:"name"`
	EstimatedSavings int    `json:"estimated_savings"`
	RealizedSavings  int    `json:"realized_savings"`
	ItemsAffected    int    `json:"items_affected"`
}

// Result is the outcome of Optimize. AfterTokens always equals the token
// sum of Items.
type Result struct {
	BeforeTokens     int               `json:"before_tokens"`
	AfterTokens      int               `json:"after_tokens"`
	TargetTokens     int               `json:"target_tokens"`
	CompressionRatio float64           `json:"compression_ratio"`
	Applied          []AppliedStrategy `json:"applied"`
	Items            []Item            `json:"items"`
	Summary          string            `json:"summary"`
	TargetReached    bool              `json:"target_reached"`
}

// Engine analyzes and optimizes context sets. It holds no per-set state
// and is safe for concurrent use.
type Engine struct {
	cfg        atomic.Pointer[Config]
	logger     *slog.Logger
	tracer     trace.Tracer
	summarizer Summarizer
	now        func() time.Time
}

// NewEngine creates an Engine with cfg, filling zero fields with defaults.
func NewEngine(cfg Config, opts ...Option) *Engine {
	e := &Engine{now: time.Now}
	e.SetConfig(cfg)
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(nopHandler{})
	}
	if e.tracer == nil {
		e.tracer = noop.NewTracerProvider().Tracer("ctxengine")
	}
	if e.summarizer == nil {
		e.summarizer = ExtractiveSummarizer{}
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return *e.cfg.Load()
}

// SetConfig replaces the configuration, filling zero fields with defaults.
// Calls already in progress keep the configuration they started with.
func (e *Engine) SetConfig(cfg Config) {
	cfg = cfg.withDefaults()
	e.cfg.Store(&cfg)
}

// Budget measures items against the engine's limits.
func (e *Engine) Budget(items []Item) Budget {
	return BudgetFor(e.Config(), items)
}

// Analyze returns candidate strategies sorted by descending estimated
// savings. It returns nil when the total is within the ideal threshold.
func (e *Engine) Analyze(items []Item) []Strategy {
	p := e.planner()
	return p.plan(items, p.cfg.IdealTokens)
}

func (e *Engine) planner() planner {
	return planner{cfg: e.Config(), now: e.now()}
}

// Optimize reduces items toward target tokens. Strategies run in
// descending estimated savings until the total is at or below target;
// allowed, when non-empty, restricts which strategies may run.
//
// Optimize works on a copy: items is never modified. An unreachable
// target is not an error; Result.TargetReached reports it.
func (e *Engine) Optimize(ctx context.Context, items []Item, target int, allowed ...string) (Result, error) {
	if target < 0 {
		return Result{}, fmt.Errorf("%w: %d", ErrNegativeTarget, target)
	}
	for _, name := range allowed {
		if !slices.Contains(Strategies, name) {
			return Result{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
		}
	}

	ctx, span := e.tracer.Start(ctx, "ctxengine.optimize", trace.WithAttributes(
		attribute.Int("items", len(items)),
		attribute.Int("target", target),
	))
	defer span.End()

	work := CloneItems(items)
	before := TotalTokens(work)
	res := Result{
		BeforeTokens: before,
		TargetTokens: target,
		Applied:      []AppliedStrategy{},
	}

	now := e.now()
	p := planner{cfg: e.Config(), now: now}
	ap := applier{summarizer: e.summarizer, now: now}

	total := before
	for _, s := range p.plan(work, min(target, p.cfg.IdealTokens)) {
		if total <= target {
			break
		}
		if len(allowed) > 0 && !slices.Contains(allowed, s.Name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		next, err := ap.apply(ctx, work, s)
		if err != nil {
			span.RecordError(err)
			return Result{}, err
		}
		work = next
		after := TotalTokens(work)
		res.Applied = append(res.Applied, AppliedStrategy{
			Name:             s.Name,
			EstimatedSavings: s.EstimatedSavings,
			RealizedSavings:  total - after,
			ItemsAffected:    s.ItemsAffected,
		})
		e.logger.Debug("strategy applied",
			"strategy", s.Name,
			"estimated", s.EstimatedSavings,
			"realized", total-after,
		)
		total = after
	}

	res.Items = work
	res.AfterTokens = total
	res.TargetReached = total <= target
	res.CompressionRatio = 1
	if before > 0 {
		res.CompressionRatio = float64(total) / float64(before)
	}
	res.Summary = summarize(res)

	span.SetAttributes(
		attribute.Int("before", before),
		attribute.Int("after", total),
		attribute.Bool("target_reached", res.TargetReached),
	)
	e.logger.Info("context optimized",
		"before", before,
		"after", total,
		"target", target,
		"strategies", len(res.Applied),
		"target_reached", res.TargetReached,
	)
	return res, nil
}

// OptimizeScored is Optimize after ScoreUnscored. The scores it fills in
// steer planning only and are cleared again from Result.Items.
func (e *Engine) OptimizeScored(ctx context.Context, items []Item, target int, allowed ...string) (Result, error) {
	unscored := make(map[string]struct{})
	for i := range items {
		if items[i].Relevance == nil {
			unscored[items[i].ID] = struct{}{}
		}
	}
	res, err := e.Optimize(ctx, e.ScoreUnscored(items), target, allowed...)
	if err != nil {
		return res, err
	}
	for i := range res.Items {
		if _, ok := unscored[res.Items[i].ID]; ok {
			res.Items[i].Relevance = nil
		}
	}
	return res, nil
}

func summarize(r Result) string {
	if len(r.Applied) == 0 {
		if r.TargetReached {
			return fmt.Sprintf("No optimization needed: %d tokens is within the %d token target.", r.BeforeTokens, r.TargetTokens)
		}
		return fmt.Sprintf("Target not reached: no strategy applies; context stays at %d tokens against a %d token target.",
			r.BeforeTokens, r.TargetTokens)
	}

	names := make([]string, len(r.Applied))
	for i, a := range r.Applied {
		names[i] = a.Name
	}
	saved := r.BeforeTokens - r.AfterTokens
	pct := 0.0
	if r.BeforeTokens > 0 {
		pct = float64(saved) * 100 / float64(r.BeforeTokens)
	}
	msg := fmt.Sprintf("Reduced context from %d to %d tokens (%.1f%% saved) using %s.",
		r.BeforeTokens, r.AfterTokens, pct, strings.Join(names, ", "))
	if !r.TargetReached {
		msg += fmt.Sprintf(" Target not reached: %d tokens over the %d token target.", r.AfterTokens-r.TargetTokens, r.TargetTokens)
	}
	return msg
}
