package roundtable

import (
	"math"

	"github.com/flemzord/roundtable/internal/lexical"
)

// Consensus labels.
const (
	ConsensusUnanimous = "unanimous"
	ConsensusMajority  = "majority"
	ConsensusSplit     = "split"
	ConsensusDiverse   = "diverse"
)

// EarlyStopConsensus is the consensus level at which cost optimization
// stops launching further backends.
const EarlyStopConsensus = 85

// earlyStopMinResponses is the number of completed responses needed
// before early termination is considered.
const earlyStopMinResponses = 3

// Consensus is the global agreement across completed responses.
type Consensus struct {
	Level int    `json:"level"`
	Label string `json:"label"`
}

// ComputeConsensus returns round(mean pairwise similarity × 100) over texts.
// Zero or one text is trivially unanimous.
func ComputeConsensus(texts []string) Consensus {
	if len(texts) <= 1 {
		return Consensus{Level: 100, Label: ConsensusUnanimous}
	}

	docs := make([]lexical.Doc, len(texts))
	for i, t := range texts {
		docs[i] = lexical.NewDoc(t)
	}

	var sum float64
	pairs := 0
	for i := range docs {
		for j := i + 1; j < len(docs); j++ {
			sum += docs[i].Similarity(docs[j])
			pairs++
		}
	}

	level := int(math.Round(sum / float64(pairs) * 100))
	return Consensus{Level: level, Label: consensusLabel(level)}
}

func consensusLabel(level int) string {
	switch {
	case level >= 90:
		return ConsensusUnanimous
	case level >= 70:
		return ConsensusMajority
	case level >= 40:
		return ConsensusSplit
	default:
		return ConsensusDiverse
	}
}
