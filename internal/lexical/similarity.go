package lexical

import "strings"

// Jaccard returns |a ∩ b| / |a ∪ b|. Two empty sets have similarity 0.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := Overlap(a, b)
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Overlap counts the keys present in both sets.
func Overlap(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

// Doc is a text with its keyword set precomputed, for repeated pairwise
// comparisons.
type Doc struct {
	Text     string
	Keywords map[string]struct{}
	norm     string
}

// NewDoc extracts the keywords of text once.
func NewDoc(text string) Doc {
	return Doc{
		Text:     text,
		Keywords: KeywordSet(text),
		norm:     strings.ToLower(strings.TrimSpace(text)),
	}
}

// Similarity compares two documents by the Jaccard index of their keyword
// sets. Texts that are equal once case and surrounding space are ignored
// always score 1, even when they carry no keywords.
func (d Doc) Similarity(o Doc) float64 {
	if d.norm == o.norm {
		return 1
	}
	return Jaccard(d.Keywords, o.Keywords)
}

// Similarity compares two texts. See Doc.Similarity.
func Similarity(a, b string) float64 {
	return NewDoc(a).Similarity(NewDoc(b))
}
