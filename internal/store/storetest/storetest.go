// Package storetest provides a conformance suite for store.Store
// implementations.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/roundtable/internal/ctxengine"
	"github.com/flemzord/roundtable/internal/store"
)

// Item returns a valid item with the given id and token count.
func Item(id string, tokens int) ctxengine.Item {
	return ctxengine.Item{
		ID:        id,
		Content:   "content of " + id,
		Type:      ctxengine.TypeNote,
		Priority:  50,
		Tokens:    tokens,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// Run exercises s against the store.Store contract. newStore must return
// an empty store; Run closes it.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"EmptySnapshot", testEmptySnapshot},
		{"PutKeepsOrderAndTotal", testPutKeepsOrderAndTotal},
		{"PutReplaceAdjustsByDelta", testPutReplaceAdjustsByDelta},
		{"RoundTripsAllFields", testRoundTripsAllFields},
		{"Delete", testDelete},
		{"Replace", testReplace},
		{"ReplaceIf", testReplaceIf},
		{"RevisionNeverRepeats", testRevisionNeverRepeats},
		{"Projects", testProjects},
		{"InvalidInput", testInvalidInput},
		{"ConcurrentPuts", testConcurrentPuts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func checkTotal(t *testing.T, s store.Store, project string, want int) store.Snapshot {
	t.Helper()
	snap, err := s.Snapshot(context.Background(), project)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Total != want {
		t.Fatalf("Total = %d, want %d", snap.Total, want)
	}
	if sum := ctxengine.TotalTokens(snap.Items); sum != snap.Total {
		t.Fatalf("items sum to %d, Total = %d", sum, snap.Total)
	}
	return snap
}

func ids(items []ctxengine.Item) []string {
	out := make([]string, len(items))
	for i := range items {
		out[i] = items[i].ID
	}
	return out
}

func testEmptySnapshot(t *testing.T, s store.Store) {
	snap := checkTotal(t, s, "nothing", 0)
	if len(snap.Items) != 0 || snap.Project != "nothing" {
		t.Fatalf("snapshot = %+v, want empty", snap)
	}
}

func testPutKeepsOrderAndTotal(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i, tokens := range []int{10, 20, 30} {
		total, err := s.Put(ctx, "p", Item(fmt.Sprintf("i%d", i), tokens))
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		if want := []int{10, 30, 60}[i]; total != want {
			t.Fatalf("Put total = %d, want %d", total, want)
		}
	}
	snap := checkTotal(t, s, "p", 60)
	if got := ids(snap.Items); !reflect.DeepEqual(got, []string{"i0", "i1", "i2"}) {
		t.Fatalf("order = %v", got)
	}
}

func testPutReplaceAdjustsByDelta(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, it := range []ctxengine.Item{Item("a", 10), Item("b", 20), Item("c", 30)} {
		if _, err := s.Put(ctx, "p", it); err != nil {
			t.Fatal(err)
		}
	}
	updated := Item("b", 5)
	updated.Content = "shorter"
	total, err := s.Put(ctx, "p", updated)
	if err != nil {
		t.Fatal(err)
	}
	if total != 45 {
		t.Fatalf("total = %d, want 45", total)
	}
	snap := checkTotal(t, s, "p", 45)
	if got := ids(snap.Items); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("order = %v, want b kept in place", got)
	}
	if snap.Items[1].Content != "shorter" {
		t.Fatalf("content = %q, want updated", snap.Items[1].Content)
	}
}

func testRoundTripsAllFields(t *testing.T, s store.Store) {
	rel := 0.42
	in := ctxengine.Item{
		ID:             "full",
		Content:        "every field set",
		Type:           ctxengine.TypeSummary,
		Priority:       85,
		Tokens:         7,
		Relevance:      &rel,
		Source:         "optimizer",
		SessionID:      "s1",
		CreatedAt:      time.Date(2026, 2, 3, 4, 5, 6, 789, time.UTC),
		Tags:           []string{"alpha", "beta"},
		Compressed:     true,
		OriginalTokens: 21,
	}
	if _, err := s.Put(context.Background(), "p", in); err != nil {
		t.Fatal(err)
	}
	snap := checkTotal(t, s, "p", 7)
	got := snap.Items[0]
	if !got.CreatedAt.Equal(in.CreatedAt) {
		t.Fatalf("CreatedAt = %v, want %v", got.CreatedAt, in.CreatedAt)
	}
	got.CreatedAt = in.CreatedAt
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("item = %+v, want %+v", got, in)
	}

	plain := Item("plain", 1)
	if _, err := s.Put(context.Background(), "p", plain); err != nil {
		t.Fatal(err)
	}
	snap = checkTotal(t, s, "p", 8)
	if snap.Items[1].Relevance != nil || snap.Items[1].Tags != nil {
		t.Fatalf("unset fields came back set: %+v", snap.Items[1])
	}
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, it := range []ctxengine.Item{Item("a", 10), Item("b", 20), Item("c", 30)} {
		if _, err := s.Put(ctx, "p", it); err != nil {
			t.Fatal(err)
		}
	}
	total, err := s.Delete(ctx, "p", "b")
	if err != nil {
		t.Fatal(err)
	}
	if total != 40 {
		t.Fatalf("total = %d, want 40", total)
	}
	snap := checkTotal(t, s, "p", 40)
	if got := ids(snap.Items); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Fatalf("order = %v", got)
	}

	if _, err := s.Delete(ctx, "p", "b"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
	if _, err := s.Delete(ctx, "elsewhere", "a"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown project err = %v, want ErrNotFound", err)
	}
}

func testReplace(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, it := range []ctxengine.Item{Item("a", 10), Item("b", 20)} {
		if _, err := s.Put(ctx, "p", it); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Replace(ctx, "p", []ctxengine.Item{Item("z", 3), Item("a", 4)}); err != nil {
		t.Fatal(err)
	}
	snap := checkTotal(t, s, "p", 7)
	if got := ids(snap.Items); !reflect.DeepEqual(got, []string{"z", "a"}) {
		t.Fatalf("order = %v", got)
	}

	// A rejected replacement leaves the set untouched.
	if err := s.Replace(ctx, "p", []ctxengine.Item{Item("x", 1), Item("x", 2)}); err == nil {
		t.Fatal("duplicate ids should be rejected")
	}
	checkTotal(t, s, "p", 7)

	if err := s.Replace(ctx, "p", nil); err != nil {
		t.Fatal(err)
	}
	checkTotal(t, s, "p", 0)
}

func testReplaceIf(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.Put(ctx, "p", Item("a", 10)); err != nil {
		t.Fatal(err)
	}
	snap := checkTotal(t, s, "p", 10)

	// A write between the snapshot and the swap wins.
	if _, err := s.Put(ctx, "p", Item("b", 5)); err != nil {
		t.Fatal(err)
	}
	err := s.ReplaceIf(ctx, "p", []ctxengine.Item{Item("a", 1)}, snap.Revision)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("stale ReplaceIf err = %v, want ErrConflict", err)
	}
	snap = checkTotal(t, s, "p", 15)

	if err := s.ReplaceIf(ctx, "p", []ctxengine.Item{Item("a", 1)}, snap.Revision); err != nil {
		t.Fatalf("current ReplaceIf: %v", err)
	}
	after := checkTotal(t, s, "p", 1)
	if after.Revision == snap.Revision {
		t.Fatal("revision unchanged after ReplaceIf")
	}
}

func testRevisionNeverRepeats(t *testing.T, s store.Store) {
	ctx := context.Background()
	seen := map[uint64]bool{}
	record := func() {
		t.Helper()
		snap, err := s.Snapshot(ctx, "p")
		if err != nil {
			t.Fatal(err)
		}
		if seen[snap.Revision] {
			t.Fatalf("revision %d repeated", snap.Revision)
		}
		seen[snap.Revision] = true
	}

	record()
	if _, err := s.Put(ctx, "p", Item("a", 1)); err != nil {
		t.Fatal(err)
	}
	record()
	if _, err := s.Delete(ctx, "p", "a"); err != nil {
		t.Fatal(err)
	}
	record()
	if _, err := s.Put(ctx, "p", Item("a", 1)); err != nil {
		t.Fatal(err)
	}
	record()
	if err := s.Replace(ctx, "p", nil); err != nil {
		t.Fatal(err)
	}
	record()
}

func testProjects(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, p := range []string{"zeta", "alpha", "mid"} {
		if _, err := s.Put(ctx, p, Item("a", 1)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Delete(ctx, "mid", "a"); err != nil {
		t.Fatal(err)
	}
	got, err := s.Projects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"alpha", "zeta"}) {
		t.Fatalf("Projects = %v, want [alpha zeta]", got)
	}
}

func testInvalidInput(t *testing.T, s store.Store) {
	ctx := context.Background()
	if _, err := s.Put(ctx, "", Item("a", 1)); !errors.Is(err, store.ErrInvalidProject) {
		t.Fatalf("empty project err = %v", err)
	}
	if _, err := s.Snapshot(ctx, "a/b"); !errors.Is(err, store.ErrInvalidProject) {
		t.Fatalf("slash project err = %v", err)
	}
	bad := Item("a", 1)
	bad.Priority = 101
	if _, err := s.Put(ctx, "p", bad); !errors.Is(err, ctxengine.ErrInvalidItem) {
		t.Fatalf("bad item err = %v", err)
	}
	checkTotal(t, s, "p", 0)
}

func testConcurrentPuts(t *testing.T, s store.Store) {
	ctx := context.Background()
	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Put(ctx, "p", Item(fmt.Sprintf("i%02d", i), i+1)); err != nil {
				t.Errorf("Put: %v", err)
			}
		}()
	}
	wg.Wait()
	snap := checkTotal(t, s, "p", n*(n+1)/2)
	if len(snap.Items) != n {
		t.Fatalf("items = %d, want %d", len(snap.Items), n)
	}
}
