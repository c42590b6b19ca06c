package cron_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/roundtable/internal/cron"
	"github.com/flemzord/roundtable/internal/ctxengine"
	"github.com/flemzord/roundtable/internal/store"
)

type recordingObserver struct {
	mu        sync.Mutex
	optimized map[string]ctxengine.Result
	tokens    map[string]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{optimized: map[string]ctxengine.Result{}, tokens: map[string]int{}}
}

func (o *recordingObserver) ObserveOptimize(project string, res ctxengine.Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.optimized[project] = res
}

func (o *recordingObserver) SetProjectTokens(project string, total int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tokens[project] = total
}

func relevance(v float64) *float64 { return &v }

func seed(t *testing.T, s store.Store, project string, items ...ctxengine.Item) {
	t.Helper()
	for _, it := range items {
		if _, err := s.Put(context.Background(), project, it); err != nil {
			t.Fatalf("Put(%s): %v", it.ID, err)
		}
	}
}

func overBudgetItems() []ctxengine.Item {
	created := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	return []ctxengine.Item{
		{ID: "keep", Content: "deployment runbook for the billing cluster", Type: ctxengine.TypeNote, Priority: 90, Tokens: 80, CreatedAt: created},
		{ID: "junk-1", Content: "weather chatter from last tuesday", Type: ctxengine.TypeNote, Priority: 10, Tokens: 200, Relevance: relevance(0.1), CreatedAt: created},
		{ID: "junk-2", Content: "lunch menu discussion and snacks", Type: ctxengine.TypeNote, Priority: 10, Tokens: 200, Relevance: relevance(0.05), CreatedAt: created},
	}
}

func newJob(s store.Store, obs cron.OptimizeObserver) *cron.OptimizeJob {
	return &cron.OptimizeJob{
		Store:    s,
		Engine:   ctxengine.NewEngine(ctxengine.Config{MaxTokens: 1000, IdealTokens: 100}),
		Observer: obs,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// ---------------------------------------------------------------------------
// OptimizeJob
// ---------------------------------------------------------------------------

func TestOptimizeJob_Defaults(t *testing.T) {
	t.Parallel()

	j := &cron.OptimizeJob{}
	if j.Name() != "context_optimize" || j.Schedule() != "*/10 * * * *" {
		t.Fatalf("name/schedule = %q %q", j.Name(), j.Schedule())
	}
	j.ScheduleExpr = "0 * * * *"
	if j.Schedule() != "0 * * * *" {
		t.Fatalf("schedule = %q", j.Schedule())
	}
}

func TestOptimizeJob_ReducesProjectsOverIdeal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.NewMemory()
	obs := newRecordingObserver()
	seed(t, s, "big", overBudgetItems()...)
	seed(t, s, "small", ctxengine.Item{ID: "n", Content: "short note", Type: ctxengine.TypeNote, Priority: 50, Tokens: 40})

	if err := newJob(s, obs).Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	big, err := s.Snapshot(ctx, "big")
	if err != nil {
		t.Fatal(err)
	}
	if big.Total != 80 || len(big.Items) != 1 || big.Items[0].ID != "keep" {
		t.Fatalf("big = %+v, want only keep with 80 tokens", big)
	}

	small, err := s.Snapshot(ctx, "small")
	if err != nil {
		t.Fatal(err)
	}
	if small.Total != 40 {
		t.Fatalf("small total = %d, want 40 (untouched)", small.Total)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	res, ok := obs.optimized["big"]
	if !ok || !res.TargetReached || res.BeforeTokens != 480 || res.AfterTokens != 80 {
		t.Fatalf("observed result = %+v", res)
	}
	if _, ok := obs.optimized["small"]; ok {
		t.Fatal("project under ideal was optimized")
	}
	if obs.tokens["big"] != 80 || obs.tokens["small"] != 40 {
		t.Fatalf("project tokens = %v", obs.tokens)
	}
}

func TestOptimizeJob_Idempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.NewMemory()
	seed(t, s, "big", overBudgetItems()...)
	job := newJob(s, nil)

	if err := job.Optimize(ctx, "big"); err != nil {
		t.Fatal(err)
	}
	first, _ := s.Snapshot(ctx, "big")
	if err := job.Optimize(ctx, "big"); err != nil {
		t.Fatal(err)
	}
	second, _ := s.Snapshot(ctx, "big")
	if first.Total != second.Total || len(first.Items) != len(second.Items) {
		t.Fatalf("second run changed the project: %+v -> %+v", first, second)
	}
}

func TestOptimizeJob_ScoresUnscoredItems(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.NewMemory()
	now := time.Now()
	seed(t, s, "ops",
		ctxengine.Item{ID: "m1", Content: "The billing cluster deployment failed on kubernetes", Type: ctxengine.TypeMessage, Priority: 50, Tokens: 10, CreatedAt: now.Add(-10 * time.Minute)},
		ctxengine.Item{ID: "runbook", Content: "Billing cluster runbook with kubernetes rollback steps", Type: ctxengine.TypeNote, Priority: 90, Tokens: 60, CreatedAt: now.Add(-time.Hour)},
		ctxengine.Item{ID: "picnic", Content: "Picnic plans: sandwiches, lemonade, sunshine", Type: ctxengine.TypeNote, Priority: 10, Tokens: 300, CreatedAt: now.Add(-48 * time.Hour)},
		ctxengine.Item{ID: "m2", Content: "Roll back the billing deployment and check kubernetes events", Type: ctxengine.TypeMessage, Priority: 50, Tokens: 10, CreatedAt: now.Add(-time.Minute)},
	)

	if err := newJob(s, nil).Optimize(ctx, "ops"); err != nil {
		t.Fatal(err)
	}
	snap, err := s.Snapshot(ctx, "ops")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Total != 80 || len(snap.Items) != 3 {
		t.Fatalf("snapshot = %+v, want picnic removed", snap)
	}
	for _, it := range snap.Items {
		if it.ID == "picnic" {
			t.Fatal("stale off-topic note kept")
		}
		if it.Relevance != nil {
			t.Fatalf("%s stored a computed relevance", it.ID)
		}
	}
}

// racingStore lands a write just before every conditional replace.
type racingStore struct {
	*store.Memory
}

func (s racingStore) ReplaceIf(ctx context.Context, project string, items []ctxengine.Item, revision uint64) error {
	if _, err := s.Put(ctx, project, ctxengine.Item{ID: "late", Content: "late write", Type: ctxengine.TypeNote, Priority: 50, Tokens: 1}); err != nil {
		return err
	}
	return s.Memory.ReplaceIf(ctx, project, items, revision)
}

func TestOptimizeJob_ConcurrentWriteWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMemory()
	seed(t, mem, "big", overBudgetItems()...)
	obs := newRecordingObserver()

	if err := newJob(racingStore{Memory: mem}, obs).Optimize(ctx, "big"); err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	snap, err := mem.Snapshot(ctx, "big")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Total != 481 || len(snap.Items) != 4 {
		t.Fatalf("snapshot = %+v, want the late write kept over the optimization", snap)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.tokens["big"] != 480 {
		t.Fatalf("project tokens = %d, want the pre-optimization total", obs.tokens["big"])
	}
}

// brokenStore fails snapshots of one project.
type brokenStore struct {
	*store.Memory
	broken string
}

func (b brokenStore) Snapshot(ctx context.Context, project string) (store.Snapshot, error) {
	if project == b.broken {
		return store.Snapshot{}, errors.New("disk on fire")
	}
	return b.Memory.Snapshot(ctx, project)
}

func TestOptimizeJob_ContinuesPastFailingProject(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := store.NewMemory()
	seed(t, mem, "a-broken", overBudgetItems()...)
	seed(t, mem, "b-fine", overBudgetItems()...)

	err := newJob(brokenStore{Memory: mem, broken: "a-broken"}, nil).Run(ctx)
	if err == nil || !strings.Contains(err.Error(), "a-broken: disk on fire") {
		t.Fatalf("Run error = %v", err)
	}

	fine, _ := mem.Snapshot(ctx, "b-fine")
	if fine.Total != 80 {
		t.Fatalf("b-fine total = %d, want 80", fine.Total)
	}
}

func TestOptimizeJob_Cancelled(t *testing.T) {
	t.Parallel()

	s := store.NewMemory()
	seed(t, s, "big", overBudgetItems()...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := newJob(s, nil).Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
}
