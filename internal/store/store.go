// Package store persists per-project context items with a running token
// total.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/flemzord/roundtable/internal/ctxengine"
)

var (
	// ErrNotFound indicates the requested item does not exist.
	ErrNotFound = errors.New("store: item not found")

	// ErrInvalidProject indicates an empty or malformed project name.
	ErrInvalidProject = errors.New("store: invalid project")

	// ErrConflict indicates the project changed since the snapshot a
	// conditional replace was based on.
	ErrConflict = errors.New("store: project changed")
)

// Snapshot is a project's items in insertion order with their token total.
// Total always equals the sum of the items' Tokens. Revision changes on
// every write to the project and never repeats.
type Snapshot struct {
	Project  string           `json:"project"`
	Items    []ctxengine.Item `json:"items"`
	Total    int              `json:"total"`
	Revision uint64           `json:"revision"`
}

// Store manages context items grouped by project.
// Implementations must be safe for concurrent use.
type Store interface {
	// Snapshot returns the project's items and running total. An unknown
	// project yields an empty snapshot.
	Snapshot(ctx context.Context, project string) (Snapshot, error)

	// Put adds or replaces one item and returns the new total. A replaced
	// item keeps its position.
	Put(ctx context.Context, project string, item ctxengine.Item) (int, error)

	// Delete removes one item and returns the new total.
	Delete(ctx context.Context, project, id string) (int, error)

	// Replace swaps the project's whole item set atomically.
	Replace(ctx context.Context, project string, items []ctxengine.Item) error

	// ReplaceIf is Replace conditioned on the project still being at
	// revision. It returns ErrConflict otherwise.
	ReplaceIf(ctx context.Context, project string, items []ctxengine.Item, revision uint64) error

	// Projects lists every project that holds at least one item, sorted.
	Projects(ctx context.Context) ([]string, error)

	// Close releases resources.
	Close() error
}

// ValidateProject checks a project name.
func ValidateProject(project string) error {
	if project == "" || strings.TrimSpace(project) != project || strings.ContainsAny(project, "/\\") {
		return fmt.Errorf("%w: %q", ErrInvalidProject, project)
	}
	return nil
}

// ValidateItems checks every item and rejects duplicate ids.
func ValidateItems(items []ctxengine.Item) error {
	seen := make(map[string]struct{}, len(items))
	var errs []error
	for i := range items {
		if err := items[i].Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seen[items[i].ID]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate id %q", ctxengine.ErrInvalidItem, items[i].ID))
		}
		seen[items[i].ID] = struct{}{}
	}
	return errors.Join(errs...)
}
