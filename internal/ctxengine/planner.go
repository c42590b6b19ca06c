package ctxengine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/flemzord/roundtable/internal/lexical"
)

// Strategy names.
const (
	StrategyLowRelevance  = "low_relevance_removal"
	StrategyCompression   = "message_compression"
	StrategySummarization = "conversation_summarization"
	StrategyMerging       = "duplicate_merging"
)

// Strategies lists every strategy name in generation order.
var Strategies = []string{StrategyLowRelevance, StrategyCompression, StrategySummarization, StrategyMerging}

// ActionKind is what an action does to its items.
type ActionKind string

// Action kinds.
const (
	ActionRemove    ActionKind = "remove"
	ActionCompress  ActionKind = "compress"
	ActionSummarize ActionKind = "summarize"
	ActionMerge     ActionKind = "merge"
)

// Impact is the expected loss of information from an action.
type Impact string

// Impact levels.
const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// Estimated savings ratios.
const (
	compressionSavings   = 0.4
	summarizationSavings = 0.7
)

// Action is one step of a strategy.
type Action struct {
	Kind    ActionKind `json:"kind"`
	ItemIDs []string   `json:"item_ids"`
	Reason  string     `json:"reason"`
	Impact  Impact     `json:"impact"`
}

// Strategy is a named transformation of a context set with its estimated
// token savings.
type Strategy struct {
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	EstimatedSavings int      `json:"estimated_savings"`
	ItemsAffected    int      `json:"items_affected"`
	Actions          []Action `json:"actions"`
}

// planner generates strategies for one context set.
type planner struct {
	cfg Config
	now time.Time
}

// plan returns the applicable strategies sorted by descending estimated
// savings, or nil when the total is at or below threshold.
func (p planner) plan(items []Item, threshold int) []Strategy {
	if TotalTokens(items) <= threshold {
		return nil
	}

	var out []Strategy
	for _, s := range []Strategy{
		p.lowRelevance(items),
		p.compression(items),
		p.summarization(items),
		p.merging(items),
	} {
		if len(s.Actions) > 0 && s.EstimatedSavings > 0 {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EstimatedSavings > out[j].EstimatedSavings
	})
	return out
}

// lowRelevance selects scored items below both floors. References and
// unscored items are never selected.
func (p planner) lowRelevance(items []Item) Strategy {
	s := Strategy{
		Name:        StrategyLowRelevance,
		Description: "Remove low-priority items that scored as irrelevant",
	}
	var ids []string
	for i := range items {
		it := &items[i]
		if it.Type == TypeReference || it.Relevance == nil {
			continue
		}
		if *it.Relevance < p.cfg.RelevanceFloor && it.Priority < p.cfg.PriorityFloor {
			ids = append(ids, it.ID)
			s.EstimatedSavings += it.Tokens
		}
	}
	if len(ids) > 0 {
		s.Actions = []Action{{
			Kind:    ActionRemove,
			ItemIDs: ids,
			Reason:  fmt.Sprintf("relevance < %.2f and priority < %d", p.cfg.RelevanceFloor, p.cfg.PriorityFloor),
			Impact:  ImpactMedium,
		}}
		s.ItemsAffected = len(ids)
	}
	return s
}

// compression selects old, uncompressed messages.
func (p planner) compression(items []Item) Strategy {
	s := Strategy{
		Name:        StrategyCompression,
		Description: "Compress old messages",
	}
	cutoff := p.now.Add(-p.cfg.CompressAfter)
	var ids []string
	tokens := 0
	for i := range items {
		it := &items[i]
		if it.Type != TypeMessage || it.Compressed || it.CreatedAt.IsZero() || !it.CreatedAt.Before(cutoff) {
			continue
		}
		ids = append(ids, it.ID)
		tokens += it.Tokens
	}
	if len(ids) > 0 {
		s.EstimatedSavings = int(math.Round(float64(tokens) * compressionSavings))
		s.Actions = []Action{{
			Kind:    ActionCompress,
			ItemIDs: ids,
			Reason:  fmt.Sprintf("messages older than %s", p.cfg.CompressAfter),
			Impact:  ImpactLow,
		}}
		s.ItemsAffected = len(ids)
	}
	return s
}

// summarization selects sessions whose messages are both large and numerous.
func (p planner) summarization(items []Item) Strategy {
	s := Strategy{
		Name:        StrategySummarization,
		Description: "Summarize long conversation sessions",
	}
	for _, g := range sessionGroups(items) {
		if g.tokens <= p.cfg.ChunkSize || len(g.ids) <= p.cfg.MinSessionItems {
			continue
		}
		s.EstimatedSavings += int(math.Round(float64(g.tokens) * summarizationSavings))
		s.ItemsAffected += len(g.ids)
		s.Actions = append(s.Actions, Action{
			Kind:    ActionSummarize,
			ItemIDs: g.ids,
			Reason:  fmt.Sprintf("session %s: %s, %d tokens", g.session, pluralize(len(g.ids), "message"), g.tokens),
			Impact:  ImpactMedium,
		})
	}
	return s
}

// merging pairs near-duplicate items. Each item joins at most one pair.
func (p planner) merging(items []Item) Strategy {
	s := Strategy{
		Name:        StrategyMerging,
		Description: "Merge near-duplicate items",
	}
	docs := make([]lexical.Doc, len(items))
	for i := range items {
		docs[i] = lexical.NewDoc(items[i].Content)
	}
	paired := make([]bool, len(items))
	for i := range items {
		if paired[i] {
			continue
		}
		for j := i + 1; j < len(items); j++ {
			if paired[j] {
				continue
			}
			sim := docs[i].Similarity(docs[j])
			if sim <= p.cfg.MergeThreshold {
				continue
			}
			paired[i], paired[j] = true, true
			s.EstimatedSavings += min(items[i].Tokens, items[j].Tokens)
			s.ItemsAffected += 2
			s.Actions = append(s.Actions, Action{
				Kind:    ActionMerge,
				ItemIDs: []string{items[i].ID, items[j].ID},
				Reason:  fmt.Sprintf("similarity %.2f", sim),
				Impact:  ImpactLow,
			})
			break
		}
	}
	return s
}

type sessionGroup struct {
	session string
	ids     []string
	tokens  int
}

// sessionGroups groups messages by session in order of first appearance.
// Messages without a session are not grouped.
func sessionGroups(items []Item) []sessionGroup {
	var groups []sessionGroup
	index := make(map[string]int)
	for i := range items {
		it := &items[i]
		if it.Type != TypeMessage || it.SessionID == "" {
			continue
		}
		gi, ok := index[it.SessionID]
		if !ok {
			gi = len(groups)
			index[it.SessionID] = gi
			groups = append(groups, sessionGroup{session: it.SessionID})
		}
		groups[gi].ids = append(groups[gi].ids, it.ID)
		groups[gi].tokens += it.Tokens
	}
	return groups
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
