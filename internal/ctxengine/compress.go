package ctxengine

import (
	"strings"
	"unicode"

	"github.com/flemzord/roundtable/internal/lexical"
)

// abbreviations maps common words to their short forms.
var abbreviations = map[string]string{
	"and":            "&",
	"with":           "w/",
	"without":        "w/o",
	"because":        "b/c",
	"about":          "abt",
	"information":    "info",
	"approximately":  "approx",
	"between":        "btwn",
	"through":        "thru",
	"configuration":  "config",
	"application":    "app",
	"implementation": "impl",
	"function":       "func",
	"please":         "pls",
	"thanks":         "thx",
}

// fillers are dropped outright.
var fillers = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "very": {}, "really": {}, "just": {}, "basically": {}, "actually": {},
}

// compressText collapses whitespace, drops filler words and abbreviates
// common ones. Structured text keeps its line layout; only trailing spaces
// and blank-line runs go.
func compressText(text string) string {
	if lexical.IsStructured(text) {
		return compressStructured(text)
	}

	fields := strings.Fields(text)
	out := fields[:0]
	for _, f := range fields {
		if _, drop := fillers[f]; drop {
			continue
		}
		out = append(out, abbreviate(f))
	}
	return strings.Join(out, " ")
}

func compressStructured(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	blank := false
	for _, line := range lines {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// abbreviate replaces word with its short form, keeping trailing
// punctuation. Capitalized words are left alone.
func abbreviate(word string) string {
	core := strings.TrimRightFunc(word, unicode.IsPunct)
	short, ok := abbreviations[core]
	if !ok {
		return word
	}
	return short + word[len(core):]
}

// compressItem returns a compressed copy of it with tokens re-measured.
func compressItem(it Item) Item {
	out := it.Clone()
	out.Content = compressText(it.Content)
	if out.OriginalTokens == 0 {
		out.OriginalTokens = it.Tokens
	}
	out.Tokens = lexical.EstimateTokens(out.Content)
	out.Compressed = true
	return out
}
