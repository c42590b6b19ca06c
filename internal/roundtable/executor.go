package roundtable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/flemzord/roundtable/internal/provider"
)

// Backends resolves backend ids. *provider.Registry satisfies it.
type Backends interface {
	Get(id string) (*provider.Handle, error)
}

// SlotAcquirer bounds in-flight calls per backend. *slots.Manager
// satisfies it.
type SlotAcquirer interface {
	Acquire(ctx context.Context, backend string) (release func(), err error)
}

// Observer receives measurements from the executor.
type Observer interface {
	ObserveCall(backend, outcome string, latency time.Duration, tokens int, cost float64)
	ObserveExecution(exec *Execution, elapsed time.Duration)
}

// Call outcomes passed to Observer.ObserveCall.
const (
	OutcomeCompleted = "completed"
	OutcomeError     = "error"
	OutcomeTimeout   = "timeout"
	OutcomeSkipped   = "skipped"
)

type nopObserver struct{}

func (nopObserver) ObserveCall(string, string, time.Duration, int, float64) {}
func (nopObserver) ObserveExecution(*Execution, time.Duration)              {}

// nopHandler is a slog.Handler that discards all log records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// Option configures an Executor.
type Option func(*Executor)

// WithLogger injects a structured logger. Nil discards output.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithTracer records spans for executions and backend calls.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// WithObserver receives per-call and per-execution measurements.
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observer = o }
}

// WithFallbacks replaces DefaultFallbacks.
func WithFallbacks(t FallbackTable) Option {
	return func(e *Executor) { e.fallbacks.Store(&t) }
}

// WithRand sets the source used to shuffle backend order.
func WithRand(r *rand.Rand) Option {
	return func(e *Executor) { e.rand = r }
}

// Executor runs roundtables. One Executor is built at startup and shared;
// each Execute call owns its own execution state.
type Executor struct {
	backends  Backends
	slots     SlotAcquirer
	fallbacks atomic.Pointer[FallbackTable]
	logger    *slog.Logger
	tracer    trace.Tracer
	observer  Observer
	caller    *Caller
	rand      *rand.Rand
	randMu    sync.Mutex
	now       func() time.Time
}

// NewExecutor creates an Executor over the given backends and slots.
func NewExecutor(backends Backends, slots SlotAcquirer, opts ...Option) *Executor {
	e := &Executor{
		backends: backends,
		slots:    slots,
		now:      time.Now,
	}
	e.fallbacks.Store(&DefaultFallbacks)
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(nopHandler{})
	}
	if e.tracer == nil {
		e.tracer = noop.NewTracerProvider().Tracer("roundtable")
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	if e.rand == nil {
		e.rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	e.caller = NewCaller(e.tracer)
	return e
}

// Fallbacks returns the current fallback table.
func (e *Executor) Fallbacks() FallbackTable {
	return *e.fallbacks.Load()
}

// SetFallbacks replaces the fallback table. Executions already running
// keep consulting the table they see at failure time.
func (e *Executor) SetFallbacks(t FallbackTable) {
	e.fallbacks.Store(&t)
}

// Execute sends req.Prompt to every requested backend and returns once each
// of them has completed or failed. Backend failures are recorded in the
// execution, never returned; only an invalid request is an error.
//
// onProgress may be nil. Calls to it are serialized, so it needs no
// locking of its own, but it must not block for long and must not call
// back into the executor.
func (e *Executor) Execute(ctx context.Context, req Request, strategy Strategy, onProgress func(ProgressEvent)) (*Execution, error) {
	if err := e.validate(req); err != nil {
		return nil, err
	}
	strategy = strategy.withDefaults()

	exec := &Execution{
		ID:        uuid.NewString(),
		Prompt:    req.Prompt,
		Backends:  append([]string(nil), req.Backends...),
		Settings:  req.Settings,
		StartedAt: e.now(),
		Responses: make(map[string]*Response, len(req.Backends)),
		States:    make(map[string]State, len(req.Backends)),
		Errors:    make(map[string]string),
		Meta:      ExecutionMeta{Fallbacks: make(map[string]string)},
	}
	requested := make(map[string]struct{}, len(req.Backends))
	for _, id := range req.Backends {
		exec.States[id] = StatePending
		requested[id] = struct{}{}
	}

	ctx, span := e.tracer.Start(ctx, "roundtable.execute", trace.WithAttributes(
		attribute.String("execution", exec.ID),
		attribute.Int("backends", len(req.Backends)),
		attribute.Bool("cost_optimization", strategy.CostOptimization),
	))
	defer span.End()

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	waitCtx, halt := context.WithCancel(callCtx)
	defer halt()

	r := &run{
		e:          e,
		exec:       exec,
		strategy:   strategy,
		onProgress: onProgress,
		requested:  requested,
		request:    buildRequest(req),
		cancel:     cancel,
		waitCtx:    waitCtx,
		halt:       halt,
	}

	e.logger.Info("roundtable started",
		"execution", exec.ID,
		"backends", len(req.Backends),
		"cost_optimization", strategy.CostOptimization,
		"fallback", strategy.Fallback,
	)

	for _, phase := range e.plan(req.Backends, strategy) {
		r.runPhase(callCtx, phase)
	}
	r.finalize()

	elapsed := exec.FinishedAt.Sub(exec.StartedAt)
	span.SetAttributes(
		attribute.Int("completed", exec.Meta.Completed),
		attribute.Int("consensus", exec.Meta.Consensus.Level),
	)
	e.observer.ObserveExecution(exec, elapsed)
	e.logger.Info("roundtable finished",
		"execution", exec.ID,
		"completed", exec.Meta.Completed,
		"failed", exec.Meta.Failed,
		"consensus", exec.Meta.Consensus.Level,
		"early_stopped", exec.Meta.EarlyStopped,
		"elapsed", elapsed,
	)
	return exec, nil
}

func (e *Executor) validate(req Request) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return ErrEmptyPrompt
	}
	if len(req.Backends) == 0 {
		return ErrNoBackends
	}
	seen := make(map[string]struct{}, len(req.Backends))
	for _, id := range req.Backends {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateBackend, id)
		}
		seen[id] = struct{}{}
		if _, err := e.backends.Get(id); err != nil {
			return fmt.Errorf("%w: %q", ErrUnknownBackend, id)
		}
	}
	return nil
}

// plan splits backends into sequential phases. Without cost optimization
// there is one phase in random order. With it, the requested priority
// backends (or the first three when none are requested) run and settle
// before the rest start, so early consensus can skip the remainder.
func (e *Executor) plan(backends []string, s Strategy) [][]string {
	if !s.CostOptimization {
		order := append([]string(nil), backends...)
		e.randMu.Lock()
		e.rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		e.randMu.Unlock()
		return [][]string{order}
	}

	requested := make(map[string]bool, len(backends))
	for _, id := range backends {
		requested[id] = true
	}

	var first []string
	taken := make(map[string]bool)
	for _, id := range s.Priority {
		if requested[id] && !taken[id] {
			first = append(first, id)
			taken[id] = true
		}
	}
	if len(first) == 0 {
		for _, id := range backends[:min(earlyStopMinResponses, len(backends))] {
			first = append(first, id)
			taken[id] = true
		}
	}

	var rest []string
	for _, id := range backends {
		if !taken[id] {
			rest = append(rest, id)
		}
	}
	if len(rest) == 0 {
		return [][]string{first}
	}
	return [][]string{first, rest}
}

func buildRequest(req Request) provider.CompletionRequest {
	var msgs []provider.LLMMessage
	if sp := strings.TrimSpace(req.Settings.SystemPrompt); sp != "" {
		msgs = append(msgs, provider.LLMMessage{Role: provider.MessageRoleSystem, Content: sp})
	}
	msgs = append(msgs, provider.LLMMessage{Role: provider.MessageRoleUser, Content: req.Prompt})
	return provider.CompletionRequest{
		Messages:    msgs,
		MaxTokens:   req.Settings.MaxTokens,
		Temperature: req.Settings.Temperature,
	}
}

// run is the mutable state of one Execute call. Each backend key in
// exec.States and exec.Responses is written only by the task that owns
// that backend.
type run struct {
	e          *Executor
	exec       *Execution
	strategy   Strategy
	onProgress func(ProgressEvent)
	requested  map[string]struct{}
	request    provider.CompletionRequest
	cancel     context.CancelFunc

	// waitCtx is derived from the call context and bounds slot waits.
	// halt cancels it on early stop.
	waitCtx context.Context
	halt    context.CancelFunc

	// emitMu serializes state transitions with their progress callbacks.
	emitMu sync.Mutex

	mu      sync.Mutex
	settled int
	claimed map[string]bool

	stopped    atomic.Bool
	costBits   atomic.Uint64
	maxLatency atomic.Int64
}

func (r *run) runPhase(ctx context.Context, ids []string) {
	var g errgroup.Group
	g.SetLimit(r.strategy.MaxConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			r.runBackend(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

// runBackend drives one requested backend and, on failure, its fallback.
func (r *run) runBackend(ctx context.Context, id string) {
	err := r.attempt(ctx, id, "")
	if err == nil || errors.Is(err, ErrSkippedByConsensus) {
		return
	}

	fb, ok := r.claimFallback(ctx, id)
	r.fail(id, err, !ok)
	if !ok {
		return
	}

	r.e.logger.Info("backend failed, trying fallback",
		"execution", r.exec.ID,
		"backend", id,
		"fallback", fb,
		"error", err,
	)
	fbErr := r.attempt(ctx, fb, id)
	if fbErr == nil || errors.Is(fbErr, ErrSkippedByConsensus) {
		return
	}
	r.fail(fb, fbErr, true)

	exhausted := fmt.Errorf("%w: %w; fallback %s: %w", ErrFallbackExhausted, err, fb, fbErr)
	r.mu.Lock()
	r.exec.Errors[id] = exhausted.Error()
	r.mu.Unlock()
	r.e.logger.Warn("fallback exhausted",
		"execution", r.exec.ID,
		"backend", id,
		"fallback", fb,
		"error", fbErr,
	)
}

// attempt runs one backend call. Successes and skips are recorded here;
// other failures are returned for the caller to record.
func (r *run) attempt(ctx context.Context, id, fallbackFor string) error {
	if r.stopped.Load() {
		r.fail(id, ErrSkippedByConsensus, true)
		return ErrSkippedByConsensus
	}

	release, err := r.e.slots.Acquire(r.waitCtx, id)
	if err != nil {
		if r.stopped.Load() {
			r.fail(id, ErrSkippedByConsensus, true)
			return ErrSkippedByConsensus
		}
		return fmt.Errorf("%w: %w", ErrBackendFailed, err)
	}
	defer release()

	if r.stopped.Load() {
		r.fail(id, ErrSkippedByConsensus, true)
		return ErrSkippedByConsensus
	}

	h, err := r.e.backends.Get(id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackendFailed, err)
	}

	r.transition(id, StateExecuting, ProgressEvent{Type: EventModelStart}, nil)

	res, err := r.e.caller.Call(ctx, h, r.request, r.exec.Settings.Streaming, r.strategy.Timeout, func(chunk string) {
		r.transition(id, StateStreaming, ProgressEvent{Type: EventModelStreaming, Content: chunk}, nil)
	})
	if err != nil {
		return err
	}

	r.complete(id, fallbackFor, res)
	return nil
}

// claimFallback reserves the fallback backend for id, if one can be used.
func (r *run) claimFallback(ctx context.Context, id string) (string, bool) {
	if !r.strategy.Fallback || r.stopped.Load() || ctx.Err() != nil {
		return "", false
	}
	fb, ok := r.e.Fallbacks().Lookup(id)
	if !ok {
		return "", false
	}
	if _, dup := r.requested[fb]; dup {
		return "", false
	}
	if _, err := r.e.backends.Get(fb); err != nil {
		return "", false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimed == nil {
		r.claimed = make(map[string]bool)
	}
	if r.claimed[fb] {
		return "", false
	}
	r.claimed[fb] = true
	r.exec.States[fb] = StatePending
	return fb, true
}

func (r *run) complete(id, fallbackFor string, res CallResult) {
	resp := &Response{
		MessageID: uuid.NewString(),
		Backend:   id,
		Content:   res.Content,
		Meta: ResponseMeta{
			Tokens:       res.Usage.Total(),
			Cost:         res.Cost,
			Latency:      res.Latency,
			FinishReason: string(res.FinishReason),
			FallbackFor:  fallbackFor,
		},
	}
	r.addCost(res.Cost)
	r.observeLatency(res.Latency)

	snapshot := *resp
	r.transition(id, StateCompleted, ProgressEvent{Type: EventModelComplete, Response: &snapshot}, func() {
		r.exec.Responses[id] = resp
		r.settled++
		if fallbackFor != "" {
			r.exec.Meta.Fallbacks[fallbackFor] = id
		}
	})
	r.e.observer.ObserveCall(id, OutcomeCompleted, res.Latency, resp.Meta.Tokens, res.Cost)

	r.checkEarlyStop()
}

func (r *run) fail(id string, err error, settle bool) {
	if r.stopped.Load() && errors.Is(err, context.Canceled) {
		err = fmt.Errorf("%w: in-flight call cancelled", ErrSkippedByConsensus)
	}
	msg := err.Error()
	r.transition(id, StateError, ProgressEvent{Type: EventModelError, Error: msg}, func() {
		r.exec.Errors[id] = msg
		if settle {
			r.settled++
		}
	})

	outcome := OutcomeError
	switch {
	case errors.Is(err, ErrSkippedByConsensus):
		outcome = OutcomeSkipped
	case errors.Is(err, ErrBackendTimeout):
		outcome = OutcomeTimeout
	}
	r.e.observer.ObserveCall(id, outcome, 0, 0, 0)
	if outcome != OutcomeSkipped {
		r.e.logger.Warn("backend failed",
			"execution", r.exec.ID,
			"backend", id,
			"error", err,
		)
	}
}

// transition moves id to state to, applies mutate under the state lock
// and emits ev. Regressions are ignored.
func (r *run) transition(id string, to State, ev ProgressEvent, mutate func()) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	from := r.exec.States[id]
	repeat := from == to && to == StateStreaming
	if !repeat && !canAdvance(from, to) {
		r.mu.Unlock()
		return
	}
	r.exec.States[id] = to
	if mutate != nil {
		mutate()
	}
	ev.Progress = r.settled * 100 / len(r.exec.Backends)
	r.mu.Unlock()

	if r.onProgress == nil {
		return
	}
	ev.ExecutionID = r.exec.ID
	ev.Backend = id
	r.onProgress(ev)
}

// checkEarlyStop stops further launches once enough completed responses
// agree strongly.
func (r *run) checkEarlyStop() {
	if !r.strategy.CostOptimization || r.stopped.Load() {
		return
	}

	r.mu.Lock()
	texts := make([]string, 0, len(r.exec.Responses))
	for _, resp := range r.exec.Responses {
		texts = append(texts, resp.Content)
	}
	r.mu.Unlock()

	if len(texts) < earlyStopMinResponses {
		return
	}
	c := ComputeConsensus(texts)
	if c.Level < EarlyStopConsensus {
		return
	}
	if !r.stopped.CompareAndSwap(false, true) {
		return
	}

	r.e.logger.Info("early consensus reached, skipping remaining backends",
		"execution", r.exec.ID,
		"consensus", c.Level,
		"completed", len(texts),
	)
	r.halt()
	if r.strategy.CancelInFlight {
		r.cancel()
	}
}

func (r *run) addCost(c float64) {
	for {
		old := r.costBits.Load()
		next := math.Float64bits(math.Float64frombits(old) + c)
		if r.costBits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (r *run) observeLatency(d time.Duration) {
	for {
		old := r.maxLatency.Load()
		if int64(d) <= old || r.maxLatency.CompareAndSwap(old, int64(d)) {
			return
		}
	}
}

// finalize runs post-processing once every task has settled.
func (r *run) finalize() {
	exec := r.exec
	exec.FinishedAt = r.e.now()

	var responses []*Response
	for _, id := range exec.Backends {
		if resp := exec.Responses[id]; resp != nil {
			responses = append(responses, resp)
		}
		if fb, ok := exec.Meta.Fallbacks[id]; ok {
			if resp := exec.Responses[fb]; resp != nil {
				responses = append(responses, resp)
			}
		}
	}

	texts := make([]string, len(responses))
	for i, resp := range responses {
		texts[i] = resp.Content
	}

	exec.Meta.DuplicateGroups = Deduplicate(responses, r.strategy.SimilarityThreshold)
	if exec.Meta.DuplicateGroups == nil {
		exec.Meta.DuplicateGroups = []DuplicateGroup{}
	}
	exec.Meta.Consensus = ComputeConsensus(texts)
	Rank(exec.Prompt, responses)

	exec.Meta.TotalCost = math.Float64frombits(r.costBits.Load())
	exec.Meta.MaxLatency = time.Duration(r.maxLatency.Load())
	exec.Meta.Completed = len(responses)
	exec.Meta.EarlyStopped = r.stopped.Load()
	for _, st := range exec.States {
		if st == StateError {
			exec.Meta.Failed++
		}
	}
}
