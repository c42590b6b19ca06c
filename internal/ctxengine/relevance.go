package ctxengine

import (
	"math"
	"slices"
	"strings"
	"time"

	"github.com/flemzord/roundtable/internal/lexical"
)

const (
	queryWeight  = 2.0
	recentWeight = 1.0
	recencyDecay = 0.1 // per hour

	// recentMessages is how many messages before the latest one count as
	// recent context when scoring a stored project.
	recentMessages = 5
)

// Scorer rates how relevant an item is to a query.
type Scorer struct {
	now func() time.Time
}

// NewScorer creates a Scorer using the wall clock.
func NewScorer() *Scorer {
	return &Scorer{now: time.Now}
}

// Scorer returns a Scorer sharing the engine's clock.
func (e *Engine) Scorer() *Scorer {
	return &Scorer{now: e.now}
}

// Score returns the relevance of item to query and the recent context,
// in [0,1]. Query keyword overlap counts twice as much as overlap with
// the recent context.
func (s *Scorer) Score(item Item, query string, recent []string) float64 {
	qk := lexical.KeywordSet(query)
	rk := lexical.KeywordSet(strings.Join(recent, "\n"))
	combined := len(qk) + len(rk)
	if combined == 0 {
		return 0
	}

	ik := lexical.KeywordSet(item.Content)
	overlap := (queryWeight*float64(lexical.Overlap(ik, qk)) + recentWeight*float64(lexical.Overlap(ik, rk))) /
		float64(combined)

	score := overlap * typeBoost(item.Type) * (float64(item.Priority) / 50) *
		math.Exp(-item.ageHours(s.now())*recencyDecay)
	return min(max(score, 0), 1)
}

// Annotate returns a copy of items with Relevance set from Score.
func (s *Scorer) Annotate(items []Item, query string, recent []string) []Item {
	out := CloneItems(items)
	for i := range out {
		r := s.Score(out[i], query, recent)
		out[i].Relevance = &r
	}
	return out
}

// ScoreUnscored returns a copy of items in which every unscored item other
// than a message is scored against the latest message, with the messages
// before it as recent context. Without a message nothing is scored.
func (e *Engine) ScoreUnscored(items []Item) []Item {
	out := CloneItems(items)
	query, recent, ok := conversation(items)
	if !ok {
		return out
	}
	s := e.Scorer()
	for i := range out {
		if out[i].Relevance != nil || out[i].Type == TypeMessage {
			continue
		}
		r := s.Score(out[i], query, recent)
		out[i].Relevance = &r
	}
	return out
}

// conversation returns the content of the latest message and of up to
// recentMessages messages before it, oldest first.
func conversation(items []Item) (query string, recent []string, ok bool) {
	var msgs []Item
	for i := range items {
		if items[i].Type == TypeMessage {
			msgs = append(msgs, items[i])
		}
	}
	if len(msgs) == 0 {
		return "", nil, false
	}
	slices.SortStableFunc(msgs, func(a, b Item) int { return a.CreatedAt.Compare(b.CreatedAt) })

	last := len(msgs) - 1
	for _, m := range msgs[max(last-recentMessages, 0):last] {
		recent = append(recent, m.Content)
	}
	return msgs[last].Content, recent, true
}

func typeBoost(t ItemType) float64 {
	switch t {
	case TypeReference:
		return 1.2
	case TypeSummary:
		return 1.1
	default:
		return 1.0
	}
}
