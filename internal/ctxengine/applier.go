package ctxengine

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flemzord/roundtable/internal/lexical"
)

const (
	summaryPriority = 85
	summarySource   = "optimizer"
	summaryTagCount = 5
)

// applier executes strategy actions against a working copy of items.
// Actions naming items that an earlier action already consumed are
// skipped.
type applier struct {
	summarizer Summarizer
	now        time.Time
}

func (a applier) apply(ctx context.Context, items []Item, s Strategy) ([]Item, error) {
	for _, act := range s.Actions {
		var err error
		switch act.Kind {
		case ActionRemove:
			items = a.remove(items, act.ItemIDs)
		case ActionCompress:
			items = a.compress(items, act.ItemIDs)
		case ActionSummarize:
			items, err = a.summarize(ctx, items, act.ItemIDs)
		case ActionMerge:
			items = a.merge(items, act.ItemIDs)
		default:
			err = fmt.Errorf("%w: action %q", ErrUnknownStrategy, act.Kind)
		}
		if err != nil {
			return nil, err
		}
	}
	return items, nil
}

func idSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (a applier) remove(items []Item, ids []string) []Item {
	set := idSet(ids)
	return slices.DeleteFunc(items, func(it Item) bool {
		_, ok := set[it.ID]
		return ok
	})
}

func (a applier) compress(items []Item, ids []string) []Item {
	set := idSet(ids)
	for i := range items {
		if _, ok := set[items[i].ID]; !ok || items[i].Compressed {
			continue
		}
		c := compressItem(items[i])
		if c.Tokens < items[i].Tokens {
			items[i] = c
		}
	}
	return items
}

// summarize replaces a session's messages with one summary item placed
// where the first of them was.
func (a applier) summarize(ctx context.Context, items []Item, ids []string) ([]Item, error) {
	set := idSet(ids)
	var (
		group []Item
		first = -1
	)
	for i := range items {
		if _, ok := set[items[i].ID]; ok {
			if first < 0 {
				first = i
			}
			group = append(group, items[i])
		}
	}
	if len(group) < 2 {
		return items, nil
	}

	text, err := a.summarizer.Summarize(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("%w: session %q: %w", ErrSummarizeFailed, group[0].SessionID, err)
	}

	var (
		source  strings.Builder
		created time.Time
	)
	for i := range group {
		source.WriteString(group[i].Content)
		source.WriteByte('\n')
		if group[i].CreatedAt.After(created) {
			created = group[i].CreatedAt
		}
	}
	if created.IsZero() {
		created = a.now
	}

	summary := Item{
		ID:        uuid.NewString(),
		Content:   formatSummary(group[0].SessionID, len(group), text),
		Type:      TypeSummary,
		Priority:  summaryPriority,
		Source:    summarySource,
		SessionID: group[0].SessionID,
		CreatedAt: created,
		Tags:      lexical.TopKeywords(source.String(), summaryTagCount),
	}
	summary.Measure()
	summary.OriginalTokens = TotalTokens(group)

	out := make([]Item, 0, len(items)-len(group)+1)
	for i := range items {
		if i == first {
			out = append(out, summary)
		}
		if _, ok := set[items[i].ID]; !ok {
			out = append(out, items[i])
		}
	}
	return out, nil
}

// merge folds the lower-priority item of a pair into the higher-priority
// one. Sentences of the absorbed item already present in the survivor are
// not repeated.
func (a applier) merge(items []Item, ids []string) []Item {
	if len(ids) != 2 {
		return items
	}
	i := slices.IndexFunc(items, func(it Item) bool { return it.ID == ids[0] })
	j := slices.IndexFunc(items, func(it Item) bool { return it.ID == ids[1] })
	if i < 0 || j < 0 || i == j {
		return items
	}

	keep, drop := i, j
	if items[j].Priority > items[i].Priority {
		keep, drop = j, i
	}
	survivor := items[keep].Clone()
	absorbed := items[drop]

	if extra := novelSentences(survivor.Content, absorbed.Content); extra != "" {
		survivor.Content = strings.TrimRight(survivor.Content, "\n") + "\n\n" + extra
	}
	for _, tag := range absorbed.Tags {
		if !slices.Contains(survivor.Tags, tag) {
			survivor.Tags = append(survivor.Tags, tag)
		}
	}
	survivor.Measure()

	items[keep] = survivor
	return slices.Delete(items, drop, drop+1)
}

// novelSentences returns the sentences of other that do not appear in base.
func novelSentences(base, other string) string {
	seen := make(map[string]struct{})
	for _, s := range splitSentences(base) {
		seen[normalizeSentence(s)] = struct{}{}
	}
	var out []string
	for _, s := range splitSentences(other) {
		key := normalizeSentence(s)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return strings.Join(out, " ")
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func normalizeSentence(s string) string {
	return strings.Join(lexical.Tokenize(s), " ")
}
