package ctxengine

import (
	"math"
	"sort"
	"time"
)

// pinnedPriority is the priority at which Truncate always keeps an item.
const pinnedPriority = 90

// TruncateResult is the outcome of Truncate.
type TruncateResult struct {
	Items      []Item   `json:"items"`
	Tokens     int      `json:"tokens"`
	Dropped    []string `json:"dropped"`
	Compressed []string `json:"compressed"`
}

// Importance scores how much an item is worth keeping: its priority,
// boosted by relevance when scored, weighted by type and decayed by age.
func (e *Engine) Importance(it Item) float64 {
	return e.importance(it, e.now())
}

func (e *Engine) importance(it Item, now time.Time) float64 {
	score := float64(it.Priority) / 100
	if it.Relevance != nil {
		score *= 1 + *it.Relevance
	}
	return score * it.Type.weight() * math.Exp(-it.ageHours(now)*e.Config().DecayPerHour)
}

// Truncate keeps the most important items within maxTokens. Items with
// priority 90 or more are always kept, even over budget. An item that
// does not fit is kept in compressed form when that fits. Kept items
// retain their input order; items is never modified.
func (e *Engine) Truncate(items []Item, maxTokens int) TruncateResult {
	type ranked struct {
		idx   int
		score float64
	}
	now := e.now()
	order := make([]ranked, len(items))
	for i := range items {
		order[i] = ranked{idx: i, score: e.importance(items[i], now)}
	}
	sort.SliceStable(order, func(a, b int) bool { return order[a].score > order[b].score })

	kept := make([]*Item, len(items))
	total := 0

	for _, r := range order {
		if items[r.idx].Priority >= pinnedPriority {
			it := items[r.idx].Clone()
			kept[r.idx] = &it
			total += it.Tokens
		}
	}

	res := TruncateResult{Dropped: []string{}, Compressed: []string{}}
	for _, r := range order {
		src := items[r.idx]
		if src.Priority >= pinnedPriority {
			continue
		}
		if total+src.Tokens <= maxTokens {
			it := src.Clone()
			kept[r.idx] = &it
			total += it.Tokens
			continue
		}
		if !src.Compressed {
			if c := compressItem(src); c.Tokens < src.Tokens && total+c.Tokens <= maxTokens {
				kept[r.idx] = &c
				total += c.Tokens
				res.Compressed = append(res.Compressed, src.ID)
				continue
			}
		}
		res.Dropped = append(res.Dropped, src.ID)
	}

	res.Items = make([]Item, 0, len(items))
	for _, it := range kept {
		if it != nil {
			res.Items = append(res.Items, *it)
		}
	}
	res.Tokens = total
	return res
}
