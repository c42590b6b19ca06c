package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/flemzord/roundtable/internal/ctxengine"
)

// Memory is a thread-safe, in-memory implementation of Store.
type Memory struct {
	mu       sync.RWMutex
	projects map[string]*project
	revs     map[string]uint64 // kept after a project empties
}

type project struct {
	items []ctxengine.Item
	index map[string]int // id → index in items
	total int
}

// NewMemory creates a new empty store.
func NewMemory() *Memory {
	return &Memory{
		projects: make(map[string]*project),
		revs:     make(map[string]uint64),
	}
}

// Compile-time interface check.
var _ Store = (*Memory)(nil)

// Snapshot implements Store.
func (s *Memory) Snapshot(_ context.Context, name string) (Snapshot, error) {
	if err := ValidateProject(name); err != nil {
		return Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{Project: name, Items: []ctxengine.Item{}, Revision: s.revs[name]}
	if p, ok := s.projects[name]; ok {
		snap.Items = ctxengine.CloneItems(p.items)
		snap.Total = p.total
	}
	return snap, nil
}

// Put implements Store.
func (s *Memory) Put(_ context.Context, name string, item ctxengine.Item) (int, error) {
	if err := ValidateProject(name); err != nil {
		return 0, err
	}
	if err := item.Validate(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.projects[name]
	if p == nil {
		p = &project{index: make(map[string]int)}
		s.projects[name] = p
	}

	s.revs[name]++
	item = item.Clone()
	if idx, exists := p.index[item.ID]; exists {
		p.total += item.Tokens - p.items[idx].Tokens
		p.items[idx] = item
		return p.total, nil
	}
	p.index[item.ID] = len(p.items)
	p.items = append(p.items, item)
	p.total += item.Tokens
	return p.total, nil
}

// Delete implements Store.
func (s *Memory) Delete(_ context.Context, name, id string) (int, error) {
	if err := ValidateProject(name); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.projects[name]
	if p == nil {
		return 0, fmt.Errorf("%w: %s/%s", ErrNotFound, name, id)
	}
	idx, ok := p.index[id]
	if !ok {
		return p.total, fmt.Errorf("%w: %s/%s", ErrNotFound, name, id)
	}

	s.revs[name]++
	p.total -= p.items[idx].Tokens
	p.items = slices.Delete(p.items, idx, idx+1)
	delete(p.index, id)
	for i := idx; i < len(p.items); i++ {
		p.index[p.items[i].ID] = i
	}
	if len(p.items) == 0 {
		delete(s.projects, name)
	}
	return p.total, nil
}

// Replace implements Store.
func (s *Memory) Replace(_ context.Context, name string, items []ctxengine.Item) error {
	if err := ValidateProject(name); err != nil {
		return err
	}
	if err := ValidateItems(items); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.replaceLocked(name, items)
	return nil
}

// ReplaceIf implements Store.
func (s *Memory) ReplaceIf(_ context.Context, name string, items []ctxengine.Item, revision uint64) error {
	if err := ValidateProject(name); err != nil {
		return err
	}
	if err := ValidateItems(items); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := s.revs[name]; cur != revision {
		return fmt.Errorf("%w: %s at revision %d, expected %d", ErrConflict, name, cur, revision)
	}
	s.replaceLocked(name, items)
	return nil
}

func (s *Memory) replaceLocked(name string, items []ctxengine.Item) {
	s.revs[name]++
	if len(items) == 0 {
		delete(s.projects, name)
		return
	}
	p := &project{
		items: ctxengine.CloneItems(items),
		index: make(map[string]int, len(items)),
		total: ctxengine.TotalTokens(items),
	}
	for i := range p.items {
		p.index[p.items[i].ID] = i
	}
	s.projects[name] = p
}

// Projects implements Store.
func (s *Memory) Projects(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.projects))
	for name := range s.projects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close implements Store.
func (s *Memory) Close() error { return nil }
