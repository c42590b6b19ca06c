package roundtable

import "github.com/flemzord/roundtable/internal/lexical"

// Deduplicate groups responses whose keyword similarity reaches threshold.
// Pairs are visited in input order and grouping is greedy: the first
// ungrouped response collects every later ungrouped response that matches
// it, and no response joins more than one group. Each group carries the
// highest pairwise similarity observed while it was built.
func Deduplicate(responses []*Response, threshold float64) []DuplicateGroup {
	docs := make([]lexical.Doc, len(responses))
	for i, r := range responses {
		docs[i] = lexical.NewDoc(r.Content)
	}

	grouped := make([]bool, len(responses))
	var groups []DuplicateGroup

	for i := range responses {
		if grouped[i] {
			continue
		}
		var group *DuplicateGroup
		for j := i + 1; j < len(responses); j++ {
			if grouped[j] {
				continue
			}
			sim := docs[i].Similarity(docs[j])
			if sim < threshold {
				continue
			}
			if group == nil {
				group = &DuplicateGroup{Backends: []string{responses[i].Backend}}
				grouped[i] = true
			}
			group.Backends = append(group.Backends, responses[j].Backend)
			group.Similarity = max(group.Similarity, sim)
			grouped[j] = true
		}
		if group != nil {
			groups = append(groups, *group)
		}
	}
	return groups
}
