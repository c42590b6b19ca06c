package ctxengine

import (
	"context"
	"errors"
	"strings"

	"github.com/flemzord/roundtable/internal/lexical"
	"github.com/flemzord/roundtable/internal/provider"
)

// Summarizer condenses one session's messages into a single text.
type Summarizer interface {
	Summarize(ctx context.Context, items []Item) (string, error)
}

const (
	defaultSummaryRatio = 0.3
	maxLeadRunes        = 200
)

// ExtractiveSummarizer keeps the lead sentence of each message, oldest
// first, until the summary reaches Ratio of the source tokens. It never
// calls a model.
type ExtractiveSummarizer struct {
	// Ratio caps the summary size relative to its source. 0 means 0.3.
	Ratio float64
}

// Summarize implements Summarizer.
func (s ExtractiveSummarizer) Summarize(_ context.Context, items []Item) (string, error) {
	ratio := s.Ratio
	if ratio <= 0 {
		ratio = defaultSummaryRatio
	}
	budget := int(float64(TotalTokens(items)) * ratio)

	var b strings.Builder
	lines := 0
	for i := range items {
		lead := leadSentence(items[i].Content)
		if lead == "" {
			continue
		}
		line := "- " + lead + "\n"
		if lines > 0 && lexical.EstimateTokens(b.String()+line) > budget {
			break
		}
		b.WriteString(line)
		lines++
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// leadSentence returns the first sentence of the first non-empty line.
func leadSentence(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	for _, sep := range []string{". ", "? ", "! "} {
		if i := strings.Index(text, sep); i >= 0 {
			text = text[:i+1]
		}
	}
	if r := []rune(text); len(r) > maxLeadRunes {
		text = string(r[:maxLeadRunes]) + "…"
	}
	return text
}

const summarizePrompt = "Summarize the following conversation excerpt. " +
	"Keep decisions, facts, names and open questions. Reply with the summary only."

// ProviderSummarizer asks a model to write the summary.
type ProviderSummarizer struct {
	Provider  provider.Provider
	MaxTokens int
}

// Summarize implements Summarizer.
func (s ProviderSummarizer) Summarize(ctx context.Context, items []Item) (string, error) {
	var b strings.Builder
	for i := range items {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(items[i].Content)
	}

	resp, err := s.Provider.Complete(ctx, provider.CompletionRequest{
		Messages: []provider.LLMMessage{
			{Role: provider.MessageRoleSystem, Content: summarizePrompt},
			{Role: provider.MessageRoleUser, Content: b.String()},
		},
		MaxTokens: s.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return "", errors.New("model returned an empty summary")
	}
	return summary, nil
}

// formatSummary wraps the raw summary text in a labelled block.
func formatSummary(session string, count int, summary string) string {
	var b strings.Builder
	b.WriteString("[Conversation Summary: ")
	b.WriteString(session)
	b.WriteString(", ")
	b.WriteString(pluralize(count, "message"))
	b.WriteString("]\n")
	b.WriteString(summary)
	return b.String()
}
