package ctxengine

import (
	"strings"

	"github.com/flemzord/roundtable/internal/lexical"
)

// Assembly is the output of Assembler.Assemble.
type Assembly struct {
	// SystemPrompt is the system parts followed by the project context section.
	SystemPrompt string

	// Items are the context items that made it into the prompt.
	Items []Item

	// Budget is Used tokens of the assembled prompt against the assembly cap.
	Budget Budget

	// Dropped counts items left out to fit the budget.
	Dropped int
}

// Assembler builds the system prompt for a roundtable from a project's
// context items.
type Assembler struct {
	engine *Engine
	scorer *Scorer
}

// NewAssembler creates an Assembler over engine's budget and clock.
func NewAssembler(engine *Engine) *Assembler {
	return &Assembler{engine: engine, scorer: engine.Scorer()}
}

// Assemble scores items against prompt, keeps what fits in the
// configured assembly budget after the system parts, and appends it as a
// "Project Context" section.
func (a *Assembler) Assemble(items []Item, prompt string, systemParts ...string) Assembly {
	systemPrompt := strings.Join(nonEmpty(systemParts), "\n\n")
	limit := a.engine.Config().AssemblyTokens
	fixed := lexical.EstimateTokens(systemPrompt)

	scored := a.scorer.Annotate(items, prompt, nil)
	tr := a.engine.Truncate(scored, max(limit-fixed, 0))

	if len(tr.Items) > 0 {
		section := formatContext(tr.Items)
		if systemPrompt == "" {
			systemPrompt = section
		} else {
			systemPrompt = systemPrompt + "\n\n" + section
		}
	}

	return Assembly{
		SystemPrompt: systemPrompt,
		Items:        tr.Items,
		Budget: Budget{
			Max:   limit,
			Ideal: limit,
			Used:  lexical.EstimateTokens(systemPrompt),
		},
		Dropped: len(tr.Dropped),
	}
}

func nonEmpty(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// formatContext formats items for inclusion in the system prompt.
func formatContext(items []Item) string {
	var b strings.Builder
	b.WriteString("## Project Context\n")
	for i := range items {
		b.WriteString("\n### ")
		b.WriteString(string(items[i].Type))
		if items[i].Source != "" {
			b.WriteString(" (")
			b.WriteString(items[i].Source)
			b.WriteString(")")
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(items[i].Content))
		b.WriteString("\n")
	}
	return b.String()
}
