// Package lexical holds the text heuristics shared by the roundtable and the
// context engine: keyword extraction, Jaccard similarity and token estimation.
// Every function is pure so both engines see identical numbers.
package lexical

import (
	"sort"
	"strings"
	"unicode"
)

// minKeywordLen is the shortest token kept as a keyword.
const minKeywordLen = 3

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {}, "you": {},
	"all": {}, "any": {}, "can": {}, "had": {}, "her": {}, "was": {}, "one": {},
	"our": {}, "out": {}, "has": {}, "have": {}, "him": {}, "his": {}, "how": {},
	"its": {}, "may": {}, "new": {}, "now": {}, "old": {}, "see": {}, "two": {},
	"way": {}, "who": {}, "did": {}, "get": {}, "let": {}, "say": {}, "she": {},
	"too": {}, "use": {}, "this": {}, "that": {}, "with": {}, "from": {}, "they": {},
	"will": {}, "would": {}, "there": {}, "their": {}, "what": {}, "about": {},
	"which": {}, "when": {}, "make": {}, "like": {}, "time": {}, "just": {},
	"know": {}, "take": {}, "into": {}, "your": {}, "some": {}, "could": {},
	"them": {}, "than": {}, "then": {}, "these": {}, "those": {}, "been": {},
	"were": {}, "also": {}, "more": {}, "most": {}, "such": {}, "only": {},
	"other": {}, "over": {}, "very": {}, "should": {}, "does": {}, "here": {},
	"where": {}, "while": {}, "because": {}, "each": {}, "being": {}, "both": {},
	"between": {}, "through": {}, "after": {}, "before": {}, "under": {},
	"again": {}, "same": {}, "own": {}, "why": {}, "yes": {}, "yet": {},
}

// IsStopWord reports whether w (lowercase) is ignored by keyword extraction.
func IsStopWord(w string) bool {
	_, ok := stopWords[w]
	return ok
}

// Tokenize lowercases text and splits it on anything that is not a letter
// or a digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Keywords returns the distinct keywords of text in order of first
// appearance. Stop words and tokens shorter than three runes are dropped.
func Keywords(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range Tokenize(text) {
		if !isKeyword(tok) {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// KeywordSet returns the keywords of text as a set.
func KeywordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range Tokenize(text) {
		if isKeyword(tok) {
			set[tok] = struct{}{}
		}
	}
	return set
}

// TopKeywords returns up to n keywords of text ordered by descending
// frequency, ties broken alphabetically.
func TopKeywords(text string, n int) []string {
	if n <= 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, tok := range Tokenize(text) {
		if isKeyword(tok) {
			counts[tok]++
		}
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > n {
		words = words[:n]
	}
	return words
}

func isKeyword(tok string) bool {
	if len([]rune(tok)) < minKeywordLen {
		return false
	}
	return !IsStopWord(tok)
}
