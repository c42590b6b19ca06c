package roundtable_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flemzord/roundtable/internal/provider"
	"github.com/flemzord/roundtable/internal/provider/providertest"
	"github.com/flemzord/roundtable/internal/roundtable"
	"github.com/flemzord/roundtable/internal/slots"
)

func newExecutor(t *testing.T, backends map[string]*providertest.MockProvider, opts ...roundtable.Option) *roundtable.Executor {
	t.Helper()
	return newExecutorWithSlots(t, backends, nil, opts...)
}

func newExecutorWithSlots(t *testing.T, backends map[string]*providertest.MockProvider, sm *slots.Manager, opts ...roundtable.Option) *roundtable.Executor {
	t.Helper()

	list := make([]provider.Backend, 0, len(backends))
	for id, p := range backends {
		list = append(list, provider.Backend{
			ID:       id,
			Provider: p,
			Pricing:  provider.Pricing{InputPerMTok: 1_000_000, OutputPerMTok: 1_000_000},
		})
	}
	reg, err := provider.NewRegistry(list)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if sm == nil {
		sm, err = slots.NewManager()
		if err != nil {
			t.Fatalf("NewManager: %v", err)
		}
	}
	return roundtable.NewExecutor(reg, sm, opts...)
}

// recorder collects progress events. Execute serializes callbacks.
type recorder struct {
	events []roundtable.ProgressEvent
}

func (r *recorder) record(ev roundtable.ProgressEvent) {
	r.events = append(r.events, ev)
}

func (r *recorder) forBackend(id string) []roundtable.ProgressEvent {
	var out []roundtable.ProgressEvent
	for _, ev := range r.events {
		if ev.Backend == id {
			out = append(out, ev)
		}
	}
	return out
}

func assertAllTerminal(t *testing.T, exec *roundtable.Execution) {
	t.Helper()
	for id, st := range exec.States {
		if !st.Terminal() {
			t.Errorf("backend %q left in state %s", id, st)
		}
	}
}

func TestExecute_ContractErrors(t *testing.T) {
	t.Parallel()

	ex := newExecutor(t, map[string]*providertest.MockProvider{"a": providertest.Replying("x")})

	tests := []struct {
		name string
		req  roundtable.Request
		want error
	}{
		{"empty prompt", roundtable.Request{Prompt: "  ", Backends: []string{"a"}}, roundtable.ErrEmptyPrompt},
		{"no backends", roundtable.Request{Prompt: "hi"}, roundtable.ErrNoBackends},
		{"duplicate", roundtable.Request{Prompt: "hi", Backends: []string{"a", "a"}}, roundtable.ErrDuplicateBackend},
		{"unknown", roundtable.Request{Prompt: "hi", Backends: []string{"a", "zzz"}}, roundtable.ErrUnknownBackend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			exec, err := ex.Execute(context.Background(), tt.req, roundtable.Strategy{}, nil)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if exec != nil {
				t.Fatal("execution should be nil on contract error")
			}
		})
	}
}

func TestExecute_AllSucceed(t *testing.T) {
	t.Parallel()

	ex := newExecutor(t, map[string]*providertest.MockProvider{
		"a": providertest.Replying("Paris is the capital of France."),
		"b": providertest.Replying("The capital of France is Paris."),
		"c": providertest.Replying("Bananas are yellow fruit."),
	})

	rec := &recorder{}
	exec, err := ex.Execute(context.Background(), roundtable.Request{
		Prompt:   "What is the capital of France?",
		Backends: []string{"a", "b", "c"},
	}, roundtable.Strategy{}, rec.record)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	assertAllTerminal(t, exec)
	if exec.Meta.Completed != 3 || exec.Meta.Failed != 0 {
		t.Fatalf("completed=%d failed=%d, want 3/0", exec.Meta.Completed, exec.Meta.Failed)
	}
	if exec.ID == "" {
		t.Error("execution id should be set")
	}

	// Each mock reports 10 prompt + 20 completion tokens at $1 per token.
	if exec.Meta.TotalCost != 90 {
		t.Errorf("TotalCost = %v, want 90", exec.Meta.TotalCost)
	}

	ranks := map[int]bool{}
	for id, resp := range exec.Responses {
		if resp.Meta.Tokens != 30 {
			t.Errorf("%s tokens = %d, want 30", id, resp.Meta.Tokens)
		}
		if resp.Meta.Latency > exec.Meta.MaxLatency {
			t.Errorf("%s latency %v exceeds MaxLatency %v", id, resp.Meta.Latency, exec.Meta.MaxLatency)
		}
		ranks[resp.Meta.Rank] = true
	}
	for r := 1; r <= 3; r++ {
		if !ranks[r] {
			t.Errorf("rank %d not assigned; ranks = %v", r, ranks)
		}
	}

	if len(exec.Meta.DuplicateGroups) != 1 || len(exec.Meta.DuplicateGroups[0].Backends) != 2 {
		t.Errorf("DuplicateGroups = %+v, want a+b grouped", exec.Meta.DuplicateGroups)
	}

	last := rec.events[len(rec.events)-1]
	if last.Progress != 100 {
		t.Errorf("last progress = %d, want 100", last.Progress)
	}
	prev := 0
	for _, ev := range rec.events {
		if ev.Progress < prev {
			t.Fatalf("progress went backwards: %d after %d", ev.Progress, prev)
		}
		prev = ev.Progress
		if ev.ExecutionID != exec.ID {
			t.Fatalf("event execution id = %q, want %q", ev.ExecutionID, exec.ID)
		}
	}
}

func TestExecute_StreamingChunksInOrder(t *testing.T) {
	t.Parallel()

	ex := newExecutor(t, map[string]*providertest.MockProvider{
		"a": providertest.Replying("", "Hel", "lo ", "world"),
		"b": providertest.Replying("", "Bonjour"),
	})

	rec := &recorder{}
	exec, err := ex.Execute(context.Background(), roundtable.Request{
		Prompt:   "greet",
		Backends: []string{"a", "b"},
		Settings: roundtable.Settings{Streaming: true},
	}, roundtable.Strategy{}, rec.record)
	if err != nil {
		t.Fatal(err)
	}

	if got := exec.Responses["a"].Content; got != "Hello world" {
		t.Fatalf("content = %q, want %q", got, "Hello world")
	}

	var types []roundtable.EventType
	var chunks []string
	for _, ev := range rec.forBackend("a") {
		types = append(types, ev.Type)
		if ev.Type == roundtable.EventModelStreaming {
			chunks = append(chunks, ev.Content)
		}
	}
	wantTypes := []roundtable.EventType{
		roundtable.EventModelStart,
		roundtable.EventModelStreaming,
		roundtable.EventModelStreaming,
		roundtable.EventModelStreaming,
		roundtable.EventModelComplete,
	}
	if len(types) != len(wantTypes) {
		t.Fatalf("event types = %v, want %v", types, wantTypes)
	}
	for i := range wantTypes {
		if types[i] != wantTypes[i] {
			t.Fatalf("event types = %v, want %v", types, wantTypes)
		}
	}
	if strings.Join(chunks, "|") != "Hel|lo |world" {
		t.Fatalf("chunks = %q, want in arrival order", chunks)
	}
}

func TestExecute_AllFail(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	ex := newExecutor(t, map[string]*providertest.MockProvider{
		"a": providertest.Failing(boom),
		"b": providertest.Failing(provider.ErrProviderDown),
	})

	rec := &recorder{}
	exec, err := ex.Execute(context.Background(), roundtable.Request{
		Prompt:   "anything",
		Backends: []string{"a", "b"},
	}, roundtable.Strategy{}, rec.record)
	if err != nil {
		t.Fatalf("Execute should not fail on backend errors: %v", err)
	}

	assertAllTerminal(t, exec)
	if exec.Succeeded() {
		t.Fatal("Succeeded should be false")
	}
	if exec.Meta.Failed != 2 || len(exec.Responses) != 0 {
		t.Fatalf("failed=%d responses=%d, want 2/0", exec.Meta.Failed, len(exec.Responses))
	}
	if !strings.Contains(exec.Errors["a"], "boom") {
		t.Errorf("Errors[a] = %q, want it to mention boom", exec.Errors["a"])
	}
	if c := exec.Meta.Consensus; c.Level != 100 || c.Label != roundtable.ConsensusUnanimous {
		t.Errorf("consensus = %+v, want trivial", c)
	}
	if got := len(rec.forBackend("a")); got != 2 {
		t.Errorf("events for a = %d, want start+error", got)
	}
}

func TestExecute_TimeoutCancelsCall(t *testing.T) {
	t.Parallel()

	cancelled := make(chan struct{})
	slow := &providertest.MockProvider{
		CompleteFunc: func(ctx context.Context, _ provider.CompletionRequest) (provider.CompletionResponse, error) {
			<-ctx.Done()
			close(cancelled)
			return provider.CompletionResponse{}, ctx.Err()
		},
	}
	ex := newExecutor(t, map[string]*providertest.MockProvider{
		"slow": slow,
		"fast": providertest.Replying("quick answer"),
	})

	exec, err := ex.Execute(context.Background(), roundtable.Request{
		Prompt:   "hurry",
		Backends: []string{"slow", "fast"},
	}, roundtable.Strategy{Timeout: 30 * time.Millisecond}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if exec.States["slow"] != roundtable.StateError {
		t.Fatalf("slow state = %s, want error", exec.States["slow"])
	}
	if !strings.Contains(exec.Errors["slow"], roundtable.ErrBackendTimeout.Error()) {
		t.Fatalf("Errors[slow] = %q, want timeout", exec.Errors["slow"])
	}
	if exec.States["fast"] != roundtable.StateCompleted {
		t.Fatalf("fast state = %s, want completed", exec.States["fast"])
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("underlying call was not cancelled")
	}
}

func TestExecute_FallbackRecordedUnderFallbackID(t *testing.T) {
	t.Parallel()

	mini := providertest.Replying("cheaper answer")
	ex := newExecutor(t, map[string]*providertest.MockProvider{
		"gpt-4o":      providertest.Failing(provider.ErrProviderDown),
		"gpt-4o-mini": mini,
	}, roundtable.WithFallbacks(roundtable.FallbackTable{"gpt-4o": "gpt-4o-mini"}))

	rec := &recorder{}
	exec, err := ex.Execute(context.Background(), roundtable.Request{
		Prompt:   "question",
		Backends: []string{"gpt-4o"},
	}, roundtable.Strategy{Fallback: true}, rec.record)
	if err != nil {
		t.Fatal(err)
	}

	assertAllTerminal(t, exec)
	if exec.States["gpt-4o"] != roundtable.StateError {
		t.Errorf("primary state = %s, want error", exec.States["gpt-4o"])
	}
	resp := exec.Responses["gpt-4o-mini"]
	if resp == nil || resp.Content != "cheaper answer" {
		t.Fatalf("fallback response = %+v", resp)
	}
	if resp.Meta.FallbackFor != "gpt-4o" {
		t.Errorf("FallbackFor = %q, want gpt-4o", resp.Meta.FallbackFor)
	}
	if exec.Meta.Fallbacks["gpt-4o"] != "gpt-4o-mini" {
		t.Errorf("Fallbacks = %v", exec.Meta.Fallbacks)
	}
	if exec.Responses["gpt-4o"] != nil {
		t.Error("primary must not carry a response")
	}

	// The primary's error does not settle the request; the fallback does.
	primary := rec.forBackend("gpt-4o")
	if last := primary[len(primary)-1]; last.Type != roundtable.EventModelError || last.Progress != 0 {
		t.Errorf("primary error event = %+v, want progress 0", last)
	}
	if last := rec.events[len(rec.events)-1]; last.Backend != "gpt-4o-mini" || last.Progress != 100 {
		t.Errorf("last event = %+v, want fallback completion at 100", last)
	}
}

func TestExecute_FallbackExhausted(t *testing.T) {
	t.Parallel()

	ex := newExecutor(t, map[string]*providertest.MockProvider{
		"claude-opus":   providertest.Failing(provider.ErrProviderDown),
		"claude-sonnet": providertest.Failing(errors.New("also down")),
	})

	exec, err := ex.Execute(context.Background(), roundtable.Request{
		Prompt:   "question",
		Backends: []string{"claude-opus"},
	}, roundtable.Strategy{Fallback: true}, nil)
	if err != nil {
		t.Fatal(err)
	}

	assertAllTerminal(t, exec)
	if !strings.Contains(exec.Errors["claude-opus"], roundtable.ErrFallbackExhausted.Error()) {
		t.Fatalf("Errors[claude-opus] = %q, want fallback exhausted", exec.Errors["claude-opus"])
	}
	if exec.States["claude-sonnet"] != roundtable.StateError {
		t.Fatalf("fallback state = %s, want error", exec.States["claude-sonnet"])
	}
}

func TestExecute_FallbackDisabled(t *testing.T) {
	t.Parallel()

	mini := providertest.Replying("cheaper answer")
	ex := newExecutor(t, map[string]*providertest.MockProvider{
		"gpt-4o":      providertest.Failing(provider.ErrProviderDown),
		"gpt-4o-mini": mini,
	})

	exec, err := ex.Execute(context.Background(), roundtable.Request{
		Prompt:   "question",
		Backends: []string{"gpt-4o"},
	}, roundtable.Strategy{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if mini.Calls() != 0 {
		t.Fatalf("fallback called %d times with fallback disabled", mini.Calls())
	}
	if _, ok := exec.States["gpt-4o-mini"]; ok {
		t.Fatal("fallback backend should not appear in states")
	}
}

func TestExecute_EarlyConsensusSkipsRemaining(t *testing.T) {
	t.Parallel()

	answer := "The capital of France is Paris, a major European city."
	d := providertest.Replying("Something else entirely.")
	ex := newExecutor(t, map[string]*providertest.MockProvider{
		"A": providertest.Replying(answer),
		"B": providertest.Replying(answer),
		"C": providertest.Replying(answer),
		"D": d,
	})

	exec, err := ex.Execute(context.Background(), roundtable.Request{
		Prompt:   "What is the capital of France?",
		Backends: []string{"A", "B", "C", "D"},
	}, roundtable.Strategy{
		CostOptimization: true,
		Priority:         []string{"A", "B", "C"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	assertAllTerminal(t, exec)
	if d.Calls() != 0 {
		t.Fatalf("D called %d times, want 0", d.Calls())
	}
	if exec.States["D"] != roundtable.StateError {
		t.Fatalf("D state = %s, want error", exec.States["D"])
	}
	if exec.Errors["D"] != "skipped by early consensus" {
		t.Fatalf("Errors[D] = %q", exec.Errors["D"])
	}
	if !exec.Meta.EarlyStopped || exec.Meta.Completed != 3 {
		t.Fatalf("meta = %+v, want early stop with 3 completed", exec.Meta)
	}
}

func TestExecute_NoEarlyStopWhenDivergent(t *testing.T) {
	t.Parallel()

	d := providertest.Replying("fourth view")
	ex := newExecutor(t, map[string]*providertest.MockProvider{
		"A": providertest.Replying("apples oranges bananas"),
		"B": providertest.Replying("rockets planets galaxies"),
		"C": providertest.Replying("violins cellos pianos"),
		"D": d,
	})

	exec, err := ex.Execute(context.Background(), roundtable.Request{
		Prompt:   "Say something",
		Backends: []string{"A", "B", "C", "D"},
	}, roundtable.Strategy{CostOptimization: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if d.Calls() != 1 || exec.States["D"] != roundtable.StateCompleted {
		t.Fatalf("D calls=%d state=%s, want called and completed", d.Calls(), exec.States["D"])
	}
	if exec.Meta.EarlyStopped {
		t.Fatal("EarlyStopped should be false")
	}
}

func TestExecute_EarlyConsensusReleasesSlotWaiters(t *testing.T) {
	t.Parallel()

	sm, err := slots.NewManager(slots.WithCeiling("D", 1))
	if err != nil {
		t.Fatal(err)
	}
	// Another execution holds D's only slot for the whole test.
	held, err := sm.Acquire(context.Background(), "D")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(held)

	answer := "The capital of France is Paris, a major European city."
	d := providertest.Replying(answer)
	ex := newExecutorWithSlots(t, map[string]*providertest.MockProvider{
		"A": providertest.Replying(answer),
		"B": providertest.Replying(answer),
		"C": providertest.Replying(answer),
		"D": d,
	}, sm)

	start := time.Now()
	exec, err := ex.Execute(context.Background(), roundtable.Request{
		Prompt:   "What is the capital of France?",
		Backends: []string{"A", "B", "C", "D"},
	}, roundtable.Strategy{
		CostOptimization: true,
		Priority:         []string{"A", "B", "C", "D"},
		Timeout:          10 * time.Second,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Execute took %s, want prompt return after early stop", elapsed)
	}

	assertAllTerminal(t, exec)
	if !exec.Meta.EarlyStopped {
		t.Fatal("EarlyStopped should be true")
	}
	if d.Calls() != 0 {
		t.Fatalf("D called %d times, want 0", d.Calls())
	}
	if exec.States["D"] != roundtable.StateError || exec.Errors["D"] != roundtable.ErrSkippedByConsensus.Error() {
		t.Fatalf("D state=%s err=%q, want skipped", exec.States["D"], exec.Errors["D"])
	}
	if got := sm.InUse("D"); got != 1 {
		t.Fatalf("D slots in use = %d, want only the external holder", got)
	}
}

func TestExecute_CancelInFlightOnEarlyConsensus(t *testing.T) {
	t.Parallel()

	cancelled := make(chan struct{})
	slow := &providertest.MockProvider{
		CompleteFunc: func(ctx context.Context, _ provider.CompletionRequest) (provider.CompletionResponse, error) {
			<-ctx.Done()
			close(cancelled)
			return provider.CompletionResponse{}, ctx.Err()
		},
	}
	mini := providertest.Replying("fallback answer")
	answer := "The capital of France is Paris, a major European city."
	ex := newExecutor(t, map[string]*providertest.MockProvider{
		"A":           providertest.Replying(answer),
		"B":           providertest.Replying(answer),
		"C":           providertest.Replying(answer),
		"gpt-4o":      slow,
		"gpt-4o-mini": mini,
	}, roundtable.WithFallbacks(roundtable.FallbackTable{"gpt-4o": "gpt-4o-mini"}))

	start := time.Now()
	exec, err := ex.Execute(context.Background(), roundtable.Request{
		Prompt:   "What is the capital of France?",
		Backends: []string{"A", "B", "C", "gpt-4o"},
	}, roundtable.Strategy{
		CostOptimization: true,
		CancelInFlight:   true,
		Fallback:         true,
		Priority:         []string{"A", "B", "C", "gpt-4o"},
		Timeout:          10 * time.Second,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Execute took %s, want prompt return after cancel", elapsed)
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("in-flight call was not cancelled")
	}

	assertAllTerminal(t, exec)
	if exec.States["gpt-4o"] != roundtable.StateError {
		t.Fatalf("gpt-4o state = %s, want error", exec.States["gpt-4o"])
	}
	if !strings.HasPrefix(exec.Errors["gpt-4o"], roundtable.ErrSkippedByConsensus.Error()) {
		t.Fatalf("Errors[gpt-4o] = %q, want skipped", exec.Errors["gpt-4o"])
	}
	if mini.Calls() != 0 || len(exec.Meta.Fallbacks) != 0 {
		t.Fatalf("fallback attempted: calls=%d fallbacks=%v", mini.Calls(), exec.Meta.Fallbacks)
	}
	if !exec.Meta.EarlyStopped || exec.Meta.Completed != 3 {
		t.Fatalf("meta = %+v, want early stop with 3 completed", exec.Meta)
	}
}

func TestExecute_PriorityBackendsStartFirst(t *testing.T) {
	t.Parallel()

	ex := newExecutor(t, map[string]*providertest.MockProvider{
		"A": providertest.Replying("alpha"),
		"B": providertest.Replying("bravo"),
		"C": providertest.Replying("charlie"),
	})

	rec := &recorder{}
	_, err := ex.Execute(context.Background(), roundtable.Request{
		Prompt:   "order",
		Backends: []string{"A", "B", "C"},
	}, roundtable.Strategy{
		CostOptimization: true,
		Priority:         []string{"C"},
		MaxConcurrency:   1,
	}, rec.record)
	if err != nil {
		t.Fatal(err)
	}

	var starts []string
	for _, ev := range rec.events {
		if ev.Type == roundtable.EventModelStart {
			starts = append(starts, ev.Backend)
		}
	}
	if strings.Join(starts, ",") != "C,A,B" {
		t.Fatalf("start order = %v, want C,A,B", starts)
	}
}

// concurrencyProbe returns a mock that tracks peak concurrent calls.
func concurrencyProbe(cur, peak *atomic.Int32) *providertest.MockProvider {
	return &providertest.MockProvider{
		CompleteFunc: func(context.Context, provider.CompletionRequest) (provider.CompletionResponse, error) {
			n := cur.Add(1)
			defer cur.Add(-1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			return provider.CompletionResponse{Content: "done"}, nil
		},
	}
}

func TestExecute_GlobalConcurrencyLimit(t *testing.T) {
	t.Parallel()

	var cur, peak atomic.Int32
	backends := map[string]*providertest.MockProvider{}
	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		backends[id] = concurrencyProbe(&cur, &peak)
	}
	ex := newExecutor(t, backends)

	exec, err := ex.Execute(context.Background(), roundtable.Request{Prompt: "p", Backends: ids},
		roundtable.Strategy{MaxConcurrency: 2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if exec.Meta.Completed != len(ids) {
		t.Fatalf("completed = %d, want %d", exec.Meta.Completed, len(ids))
	}
	if p := peak.Load(); p > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", p)
	}
}

func TestExecute_PerBackendCeilingAcrossExecutions(t *testing.T) {
	t.Parallel()

	var cur, peak atomic.Int32
	sm, err := slots.NewManager(slots.WithCeiling("solo", 1))
	if err != nil {
		t.Fatal(err)
	}
	ex := newExecutorWithSlots(t, map[string]*providertest.MockProvider{
		"solo": concurrencyProbe(&cur, &peak),
	}, sm)

	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ex.Execute(context.Background(), roundtable.Request{Prompt: "p", Backends: []string{"solo"}},
				roundtable.Strategy{}, nil); err != nil {
				t.Errorf("Execute: %v", err)
			}
		}()
	}
	wg.Wait()

	if p := peak.Load(); p != 1 {
		t.Fatalf("peak concurrency for solo = %d, want 1", p)
	}
	if got := sm.InUse("solo"); got != 0 {
		t.Fatalf("slots still held: %d", got)
	}
}

func TestExecute_SystemPromptAndSettingsForwarded(t *testing.T) {
	t.Parallel()

	mock := providertest.Replying("ok")
	ex := newExecutor(t, map[string]*providertest.MockProvider{"a": mock})

	temp := 0.2
	_, err := ex.Execute(context.Background(), roundtable.Request{
		Prompt:   "user question",
		Backends: []string{"a"},
		Settings: roundtable.Settings{SystemPrompt: "be brief", MaxTokens: 128, Temperature: &temp},
	}, roundtable.Strategy{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	req := mock.LastRequest()
	if len(req.Messages) != 2 || req.Messages[0].Role != provider.MessageRoleSystem || req.Messages[1].Content != "user question" {
		t.Fatalf("messages = %+v", req.Messages)
	}
	if req.MaxTokens != 128 || req.Temperature == nil || *req.Temperature != 0.2 {
		t.Fatalf("settings not forwarded: %+v", req)
	}
}
