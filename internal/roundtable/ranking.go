package roundtable

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/flemzord/roundtable/internal/lexical"
)

// Quality scoring weights.
const (
	baseQuality       = 50
	sweetSpotBonus    = 10
	nearSweetBonus    = 5
	maxRecallBonus    = 20
	structureBonus    = 5
	nonAnswerPenalty  = 15
	fastBonus         = 5
	slowPenalty       = 5
	fastLatency       = 2 * time.Second
	slowLatency       = 15 * time.Second
	sweetSpotMinWords = 50
	sweetSpotMaxWords = 500
	nearSpotMinWords  = 20
	nearSpotMaxWords  = 1000
)

var (
	listPattern = regexp.MustCompile(`(?m)^\s*(?:[-*•]|\d+[.)])\s+\S`)

	nonAnswerPhrases = []string{
		"as an ai",
		"as a language model",
		"i cannot help",
		"i can't help",
		"i'm unable to",
		"i am unable to",
		"i don't have access",
		"i do not have access",
		"i'm not able to",
	}
)

// QualityScore rates a response from 0 to 100 against its prompt.
func QualityScore(prompt string, r *Response) int {
	score := baseQuality
	content := r.Content

	words := len(strings.Fields(content))
	switch {
	case words >= sweetSpotMinWords && words <= sweetSpotMaxWords:
		score += sweetSpotBonus
	case words >= nearSpotMinWords && words <= nearSpotMaxWords:
		score += nearSweetBonus
	}

	if pk := lexical.KeywordSet(prompt); len(pk) > 0 {
		recall := float64(lexical.Overlap(pk, lexical.KeywordSet(content))) / float64(len(pk))
		score += int(math.Round(recall * maxRecallBonus))
	}

	if listPattern.MatchString(content) {
		score += structureBonus
	}
	if strings.Contains(strings.TrimSpace(content), "\n\n") {
		score += structureBonus
	}
	if strings.Contains(content, "```") {
		score += structureBonus
	}

	lower := strings.ToLower(content)
	for _, phrase := range nonAnswerPhrases {
		if strings.Contains(lower, phrase) {
			score -= nonAnswerPenalty
			break
		}
	}

	switch lat := r.Meta.Latency; {
	case lat > 0 && lat < fastLatency:
		score += fastBonus
	case lat > slowLatency:
		score -= slowPenalty
	}

	return min(max(score, 0), 100)
}

// Rank scores every response, then writes the score and a 1-based rank
// back onto it. Ties keep backend id order. Ranking never drops responses.
func Rank(prompt string, responses []*Response) {
	ordered := make([]*Response, len(responses))
	copy(ordered, responses)
	for _, r := range ordered {
		r.Meta.QualityScore = QualityScore(prompt, r)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Meta.QualityScore != ordered[j].Meta.QualityScore {
			return ordered[i].Meta.QualityScore > ordered[j].Meta.QualityScore
		}
		return ordered[i].Backend < ordered[j].Backend
	})
	for i, r := range ordered {
		r.Meta.Rank = i + 1
	}
}
