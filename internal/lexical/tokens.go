package lexical

import (
	"math"
	"strings"
	"unicode/utf8"
)

// Token estimation ratios. Structured text (code, JSON, markup) tokenizes
// denser than prose, so it gets a higher per-word multiplier and fewer
// characters per token.
const (
	proseWordMultiplier      = 1.3
	proseCharsPerToken       = 3.5
	structuredWordMultiplier = 1.5
	structuredCharsPerToken  = 3.0

	// structuredRatio is the share of structural punctuation above which
	// a text counts as structured.
	structuredRatio = 0.05
)

const structuralChars = "{}[]()<>;=:\"`|\\"

// EstimateTokens approximates the token count of text as
// ceil(max(words × 1.3, chars / 3.5)), with denser ratios for
// structured text. Empty text costs zero tokens.
func EstimateTokens(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	words := float64(len(strings.Fields(text)))
	chars := float64(utf8.RuneCountInString(text))

	mult, perToken := proseWordMultiplier, proseCharsPerToken
	if IsStructured(text) {
		mult, perToken = structuredWordMultiplier, structuredCharsPerToken
	}
	return int(math.Ceil(math.Max(words*mult, chars/perToken)))
}

// IsStructured reports whether text looks like code or structured data:
// it contains a code fence, or structural punctuation makes up at least
// 5% of its characters.
func IsStructured(text string) bool {
	if strings.Contains(text, "```") {
		return true
	}
	total, structural := 0, 0
	for _, r := range text {
		total++
		if strings.ContainsRune(structuralChars, r) {
			structural++
		}
	}
	if total == 0 {
		return false
	}
	return float64(structural)/float64(total) >= structuredRatio
}
