package ctxengine

import (
	"fmt"
	"slices"
	"time"

	"github.com/flemzord/roundtable/internal/lexical"
)

// ItemType classifies a context item.
type ItemType string

// Item types.
const (
	TypeMessage   ItemType = "message"
	TypeFile      ItemType = "file"
	TypeSummary   ItemType = "summary"
	TypeReference ItemType = "reference"
	TypeNote      ItemType = "note"
)

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	switch t {
	case TypeMessage, TypeFile, TypeSummary, TypeReference, TypeNote:
		return true
	}
	return false
}

// weight orders types by how much they are worth keeping.
func (t ItemType) weight() float64 {
	switch t {
	case TypeReference:
		return 1.0
	case TypeSummary:
		return 0.9
	case TypeFile:
		return 0.8
	case TypeNote:
		return 0.7
	default:
		return 0.6
	}
}

// Item is one retained unit of context counted against a token budget.
type Item struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	Type           ItemType  `json:"type"`
	Priority       int       `json:"priority"`
	Tokens         int       `json:"tokens"`
	Relevance      *float64  `json:"relevance,omitempty"`
	Source         string    `json:"source,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	Tags           []string  `json:"tags,omitempty"`
	Compressed     bool      `json:"compressed,omitempty"`
	OriginalTokens int       `json:"original_tokens,omitempty"`
}

// Measure sets Tokens from the item's content.
func (it *Item) Measure() {
	it.Tokens = lexical.EstimateTokens(it.Content)
}

// Validate checks the item's fields.
func (it Item) Validate() error {
	switch {
	case it.ID == "":
		return fmt.Errorf("%w: empty id", ErrInvalidItem)
	case !it.Type.Valid():
		return fmt.Errorf("%w: %q: unknown type %q", ErrInvalidItem, it.ID, it.Type)
	case it.Priority < 0 || it.Priority > 100:
		return fmt.Errorf("%w: %q: priority %d out of range [0,100]", ErrInvalidItem, it.ID, it.Priority)
	case it.Tokens < 0:
		return fmt.Errorf("%w: %q: negative token count", ErrInvalidItem, it.ID)
	case it.Relevance != nil && (*it.Relevance < 0 || *it.Relevance > 1):
		return fmt.Errorf("%w: %q: relevance %v out of range [0,1]", ErrInvalidItem, it.ID, *it.Relevance)
	}
	return nil
}

// Clone returns a deep copy of it.
func (it Item) Clone() Item {
	if it.Relevance != nil {
		r := *it.Relevance
		it.Relevance = &r
	}
	it.Tags = slices.Clone(it.Tags)
	return it
}

func (it Item) ageHours(now time.Time) float64 {
	if it.CreatedAt.IsZero() {
		return 0
	}
	return max(now.Sub(it.CreatedAt).Hours(), 0)
}

// CloneItems deep-copies items.
func CloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for i := range items {
		out[i] = items[i].Clone()
	}
	return out
}

// TotalTokens sums the token counts of items.
func TotalTokens(items []Item) int {
	total := 0
	for i := range items {
		total += items[i].Tokens
	}
	return total
}
