package ctxengine_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/roundtable/internal/ctxengine"
)

// ---------------------------------------------------------------------------
// Analyze
// ---------------------------------------------------------------------------

func TestAnalyze_UnderIdealProposesNothing(t *testing.T) {
	t.Parallel()

	e := newTestEngine(ctxengine.Config{IdealTokens: 1000})
	items := []ctxengine.Item{
		{ID: "a", Type: ctxengine.TypeNote, Priority: 10, Relevance: ptr(0.1), Tokens: 400},
		{ID: "b", Type: ctxengine.TypeNote, Priority: 10, Relevance: ptr(0.1), Tokens: 600},
	}
	if got := e.Analyze(items); got != nil {
		t.Fatalf("Analyze = %+v, want nil at exactly ideal", got)
	}
}

func TestAnalyze_LowRelevanceSkipsReferences(t *testing.T) {
	t.Parallel()

	e := newTestEngine(ctxengine.Config{MaxTokens: 2000, IdealTokens: 100})
	items := []ctxengine.Item{
		{ID: "note", Content: "alpha note", Type: ctxengine.TypeNote, Priority: 10, Relevance: ptr(0.1), Tokens: 500},
		{ID: "ref", Content: "beta reference", Type: ctxengine.TypeReference, Priority: 10, Relevance: ptr(0.1), Tokens: 500},
		{ID: "unscored", Content: "gamma unscored", Type: ctxengine.TypeNote, Priority: 10, Tokens: 500},
		{ID: "important", Content: "delta important", Type: ctxengine.TypeNote, Priority: 40, Relevance: ptr(0.1), Tokens: 500},
	}

	strategies := e.Analyze(items)
	if len(strategies) != 1 {
		t.Fatalf("strategies = %+v, want only low relevance removal", strategies)
	}
	s := strategies[0]
	if s.Name != ctxengine.StrategyLowRelevance {
		t.Fatalf("name = %q, want %q", s.Name, ctxengine.StrategyLowRelevance)
	}
	if s.EstimatedSavings != 500 || s.ItemsAffected != 1 {
		t.Fatalf("savings=%d affected=%d, want 500/1", s.EstimatedSavings, s.ItemsAffected)
	}
	if got := s.Actions[0].ItemIDs; !reflect.DeepEqual(got, []string{"note"}) {
		t.Fatalf("selected = %v, want [note]", got)
	}
	if s.Actions[0].Kind != ctxengine.ActionRemove {
		t.Fatalf("kind = %q, want remove", s.Actions[0].Kind)
	}
}

func TestAnalyze_SortedByEstimatedSavings(t *testing.T) {
	t.Parallel()

	e := newTestEngine(ctxengine.Config{MaxTokens: 5000, IdealTokens: 100})
	old := testNow.Add(-48 * time.Hour)
	items := []ctxengine.Item{
		{ID: "stale", Content: "irrelevant aside", Type: ctxengine.TypeNote, Priority: 5, Relevance: ptr(0), Tokens: 200},
		{ID: "m1", Content: "first old message", Type: ctxengine.TypeMessage, Priority: 50, Tokens: 1000, CreatedAt: old},
		{ID: "m2", Content: "second discussion", Type: ctxengine.TypeMessage, Priority: 50, Tokens: 1000, CreatedAt: old},
		{ID: "fresh", Content: "recent question", Type: ctxengine.TypeMessage, Priority: 50, Tokens: 1000, CreatedAt: testNow},
	}

	strategies := e.Analyze(items)
	var names []string
	for _, s := range strategies {
		names = append(names, s.Name)
	}
	want := []string{ctxengine.StrategyCompression, ctxengine.StrategyLowRelevance}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("order = %v, want %v", names, want)
	}
	if strategies[0].EstimatedSavings != 800 {
		t.Fatalf("compression estimate = %d, want 800", strategies[0].EstimatedSavings)
	}
	if got := strategies[0].Actions[0].ItemIDs; !reflect.DeepEqual(got, []string{"m1", "m2"}) {
		t.Fatalf("compression targets = %v, want [m1 m2]", got)
	}
}

func sessionMessages(session string, n int) []ctxengine.Item {
	items := make([]ctxengine.Item, n)
	for i := range items {
		items[i] = measured(ctxengine.Item{
			ID:        fmt.Sprintf("%s-%d", session, i),
			Content:   fmt.Sprintf("Message %d covers subject%d thoroughly. Extra padding words keep this entry long enough.", i, i),
			Type:      ctxengine.TypeMessage,
			Priority:  50,
			SessionID: session,
			CreatedAt: testNow.Add(-time.Hour),
		})
	}
	return items
}

func TestAnalyze_SummarizationNeedsMoreThanMinItems(t *testing.T) {
	t.Parallel()

	e := newTestEngine(ctxengine.Config{MaxTokens: 5000, IdealTokens: 10, ChunkSize: 50})
	items := append(sessionMessages("small", 5), sessionMessages("large", 6)...)

	for _, s := range e.Analyze(items) {
		if s.Name != ctxengine.StrategySummarization {
			continue
		}
		if len(s.Actions) != 1 || s.Actions[0].ItemIDs[0] != "large-0" {
			t.Fatalf("summarization actions = %+v, want only the large session", s.Actions)
		}
		return
	}
	t.Fatal("summarization strategy not proposed")
}

// ---------------------------------------------------------------------------
// Optimize
// ---------------------------------------------------------------------------

func TestOptimize_ContractErrors(t *testing.T) {
	t.Parallel()

	e := newTestEngine(ctxengine.Config{})
	if _, err := e.Optimize(context.Background(), nil, -1); !errors.Is(err, ctxengine.ErrNegativeTarget) {
		t.Fatalf("err = %v, want ErrNegativeTarget", err)
	}
	if _, err := e.Optimize(context.Background(), nil, 10, "shrink_everything"); !errors.Is(err, ctxengine.ErrUnknownStrategy) {
		t.Fatalf("err = %v, want ErrUnknownStrategy", err)
	}
}

func TestOptimize_WithinTargetReturnsInputUnchanged(t *testing.T) {
	t.Parallel()

	e := newTestEngine(ctxengine.Config{IdealTokens: 10})
	items := sessionMessages("s1", 8)
	total := ctxengine.TotalTokens(items)

	res, err := e.Optimize(context.Background(), items, total)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Applied) != 0 || !res.TargetReached {
		t.Fatalf("applied=%v reached=%v, want none/true", res.Applied, res.TargetReached)
	}
	if !reflect.DeepEqual(res.Items, items) {
		t.Fatal("items changed although no strategy ran")
	}
	if !strings.HasPrefix(res.Summary, "No optimization needed") {
		t.Fatalf("summary = %q", res.Summary)
	}
}

func TestOptimize_SummarizesSessionWithoutTouchingInput(t *testing.T) {
	t.Parallel()

	e := newTestEngine(ctxengine.Config{MaxTokens: 5000, IdealTokens: 50, ChunkSize: 50})
	items := append(sessionMessages("s1", 8), measured(ctxengine.Item{
		ID: "doc", Content: "Architecture reference for the billing service.", Type: ctxengine.TypeReference, Priority: 70,
	}))
	snapshot := ctxengine.CloneItems(items)

	res, err := e.Optimize(context.Background(), items, 10, ctxengine.StrategySummarization)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(items, snapshot) {
		t.Fatal("Optimize modified its input")
	}
	if res.AfterTokens != ctxengine.TotalTokens(res.Items) {
		t.Fatalf("AfterTokens = %d, items sum to %d", res.AfterTokens, ctxengine.TotalTokens(res.Items))
	}
	if res.AfterTokens >= res.BeforeTokens {
		t.Fatalf("no savings: before=%d after=%d", res.BeforeTokens, res.AfterTokens)
	}
	if len(res.Items) != 2 {
		t.Fatalf("items = %v, want summary + doc", ids(res.Items))
	}

	sum := res.Items[0]
	if sum.Type != ctxengine.TypeSummary || sum.Priority != 85 || sum.Source != "optimizer" || sum.SessionID != "s1" {
		t.Fatalf("summary item = %+v", sum)
	}
	if len(sum.Tags) == 0 {
		t.Fatal("summary has no tags")
	}
	if res.Items[1].ID != "doc" {
		t.Fatalf("second item = %q, want doc", res.Items[1].ID)
	}

	if len(res.Applied) != 1 || res.Applied[0].RealizedSavings != res.BeforeTokens-res.AfterTokens {
		t.Fatalf("applied = %+v", res.Applied)
	}
	if res.TargetReached {
		t.Fatal("target of 10 tokens cannot be reached")
	}
	if !strings.Contains(res.Summary, "Target not reached") {
		t.Fatalf("summary = %q, want it to state the miss", res.Summary)
	}
}

func TestOptimize_SummarizerFailureLeavesNoPartialResult(t *testing.T) {
	t.Parallel()

	boom := errors.New("model offline")
	ms := &mockSummarizer{err: boom}
	e := newTestEngine(ctxengine.Config{MaxTokens: 5000, IdealTokens: 50, ChunkSize: 50}, ctxengine.WithSummarizer(ms))

	_, err := e.Optimize(context.Background(), sessionMessages("s1", 8), 10, ctxengine.StrategySummarization)
	if !errors.Is(err, ctxengine.ErrSummarizeFailed) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want ErrSummarizeFailed wrapping cause", err)
	}
	if ms.called != 1 {
		t.Fatalf("summarizer called %d times, want 1", ms.called)
	}
}

func TestOptimize_MergeKeepsHigherPriorityMetadata(t *testing.T) {
	t.Parallel()

	e := newTestEngine(ctxengine.Config{MaxTokens: 5000, IdealTokens: 1})
	low := measured(ctxengine.Item{ID: "low", Content: "Paris is the capital of France.", Type: ctxengine.TypeNote, Priority: 30, Tags: []string{"geo"}})
	high := measured(ctxengine.Item{ID: "high", Content: "Paris is the capital of France!", Type: ctxengine.TypeNote, Priority: 70, Tags: []string{"facts"}})

	res, err := e.Optimize(context.Background(), []ctxengine.Item{low, high}, 0, ctxengine.StrategyMerging)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Items) != 1 || res.Items[0].ID != "high" {
		t.Fatalf("items = %v, want [high]", ids(res.Items))
	}
	got := res.Items[0]
	if got.Priority != 70 || got.Content != high.Content {
		t.Fatalf("survivor = %+v", got)
	}
	if !slices.Contains(got.Tags, "geo") || !slices.Contains(got.Tags, "facts") {
		t.Fatalf("tags = %v, want union", got.Tags)
	}
	if res.Applied[0].RealizedSavings != low.Tokens {
		t.Fatalf("realized = %d, want %d", res.Applied[0].RealizedSavings, low.Tokens)
	}
}

func TestOptimize_MergeAppendsNovelSentences(t *testing.T) {
	t.Parallel()

	e := newTestEngine(ctxengine.Config{MaxTokens: 5000, IdealTokens: 1, MergeThreshold: 0.5})
	a := measured(ctxengine.Item{ID: "a", Content: "Deploys run on Fridays. Rollbacks are manual.", Type: ctxengine.TypeNote, Priority: 60})
	b := measured(ctxengine.Item{ID: "b", Content: "Deploys run on Fridays. Rollbacks are manual. Alerts page oncall.", Type: ctxengine.TypeNote, Priority: 20})

	res, err := e.Optimize(context.Background(), []ctxengine.Item{a, b}, 0, ctxengine.StrategyMerging)
	if err != nil {
		t.Fatal(err)
	}
	want := "Deploys run on Fridays. Rollbacks are manual.\n\nAlerts page oncall."
	if len(res.Items) != 1 || res.Items[0].Content != want {
		t.Fatalf("merged = %q, want %q", res.Items[0].Content, want)
	}
}

func TestOptimize_RerunIsIdempotent(t *testing.T) {
	t.Parallel()

	e := newTestEngine(ctxengine.Config{MaxTokens: 5000, IdealTokens: 50, ChunkSize: 50})
	old := testNow.Add(-72 * time.Hour)
	items := append(sessionMessages("s1", 7), measured(ctxengine.Item{
		ID:        "old",
		Content:   "The application configuration and the information about the implementation were shared with the team because of the audit.",
		Type:      ctxengine.TypeMessage,
		Priority:  40,
		CreatedAt: old,
	}))

	floor, err := e.Optimize(context.Background(), items, 0)
	if err != nil {
		t.Fatal(err)
	}
	target := floor.AfterTokens

	first, err := e.Optimize(context.Background(), items, target)
	if err != nil {
		t.Fatal(err)
	}
	if !first.TargetReached {
		t.Fatalf("first run missed reachable target %d: %+v", target, first)
	}

	second, err := e.Optimize(context.Background(), first.Items, target)
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Applied) != 0 {
		t.Fatalf("second run applied %+v, want nothing", second.Applied)
	}
	if !reflect.DeepEqual(second.Items, first.Items) {
		t.Fatal("second run changed items")
	}
}

func TestOptimize_TokenInvariantAcrossStrategies(t *testing.T) {
	t.Parallel()

	e := newTestEngine(ctxengine.Config{MaxTokens: 5000, IdealTokens: 20, ChunkSize: 50, MergeThreshold: 0.5})
	old := testNow.Add(-30 * time.Hour)
	items := sessionMessages("s1", 6)
	items = append(items, sessionMessages("s2", 7)...)
	items = append(items,
		measured(ctxengine.Item{ID: "n1", Content: "Remember the launch checklist.", Type: ctxengine.TypeNote, Priority: 10, Relevance: ptr(0.05)}),
		measured(ctxengine.Item{ID: "n2", Content: "Remember the launch checklist!", Type: ctxengine.TypeNote, Priority: 90}),
		measured(ctxengine.Item{ID: "m", Content: "An old  message   with   lots of   spacing and the usual filler.", Type: ctxengine.TypeMessage, Priority: 50, CreatedAt: old}),
	)

	for _, target := range []int{0, 50, 150, 400, 10_000} {
		res, err := e.Optimize(context.Background(), items, target)
		if err != nil {
			t.Fatalf("target %d: %v", target, err)
		}
		if res.AfterTokens != ctxengine.TotalTokens(res.Items) {
			t.Fatalf("target %d: AfterTokens = %d, items sum to %d", target, res.AfterTokens, ctxengine.TotalTokens(res.Items))
		}
		if res.TargetReached != (res.AfterTokens <= target) {
			t.Fatalf("target %d: TargetReached = %v with %d tokens", target, res.TargetReached, res.AfterTokens)
		}
		realized := 0
		for _, a := range res.Applied {
			realized += a.RealizedSavings
		}
		if realized != res.BeforeTokens-res.AfterTokens {
			t.Fatalf("target %d: realized savings %d != %d", target, realized, res.BeforeTokens-res.AfterTokens)
		}
	}
}

func TestOptimize_CancelledContext(t *testing.T) {
	t.Parallel()

	e := newTestEngine(ctxengine.Config{MaxTokens: 5000, IdealTokens: 10, ChunkSize: 50})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Optimize(ctx, sessionMessages("s1", 8), 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

// ---------------------------------------------------------------------------
// Budget
// ---------------------------------------------------------------------------

func TestBudget(t *testing.T) {
	t.Parallel()

	e := newTestEngine(ctxengine.Config{})
	b := e.Budget([]ctxengine.Item{{Tokens: 160_000}, {Tokens: 50_000}})
	if b.Max != 200_000 || b.Ideal != 150_000 || b.Used != 210_000 {
		t.Fatalf("budget = %+v", b)
	}
	if !b.Exceeded() || !b.OverIdeal() || b.Available() != 0 {
		t.Fatalf("budget flags wrong: %+v", b)
	}

	b = ctxengine.Budget{Max: 100, Ideal: 80, Used: 60}
	if b.Exceeded() || b.OverIdeal() || b.Available() != 40 || b.Utilization() != 0.6 {
		t.Fatalf("budget flags wrong: %+v", b)
	}
}
