// Package ctxengine keeps a project's context transcript under a token
// budget: relevance scoring, strategy planning, optimization, smart
// truncation and prompt assembly.
package ctxengine

import "time"

// Default budget values.
const (
	DefaultMaxTokens      = 200_000
	DefaultIdealTokens    = 150_000
	DefaultChunkSize      = 4000
	DefaultAssemblyTokens = 8000
)

// Config holds the tuning knobs for the context engine.
type Config struct {
	// MaxTokens is the hard ceiling for a project's context.
	MaxTokens int `yaml:"max_tokens"`

	// IdealTokens is the level under which no optimization is proposed.
	IdealTokens int `yaml:"ideal_tokens"`

	// ChunkSize is the token size a session must exceed before it is
	// summarized.
	ChunkSize int `yaml:"chunk_size"`

	// MinSessionItems is the item count a session must exceed before it is
	// summarized.
	MinSessionItems int `yaml:"min_session_items"`

	// CompressAfter is the message age after which compression applies.
	CompressAfter time.Duration `yaml:"compress_after"`

	// RelevanceFloor and PriorityFloor bound low-relevance removal.
	RelevanceFloor float64 `yaml:"relevance_floor"`
	PriorityFloor  int     `yaml:"priority_floor"`

	// MergeThreshold is the similarity above which two items are merged.
	MergeThreshold float64 `yaml:"merge_threshold"`

	// DecayPerHour is the exponential age decay used by Truncate.
	DecayPerHour float64 `yaml:"decay_per_hour"`

	// AssemblyTokens caps the project context injected into a prompt.
	AssemblyTokens int `yaml:"assembly_tokens"`
}

// withDefaults returns a copy of cfg with zero-valued fields replaced by
// sensible defaults.
func (cfg Config) withDefaults() Config {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.IdealTokens == 0 {
		cfg.IdealTokens = min(DefaultIdealTokens, cfg.MaxTokens)
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MinSessionItems == 0 {
		cfg.MinSessionItems = 5
	}
	if cfg.CompressAfter == 0 {
		cfg.CompressAfter = 24 * time.Hour
	}
	if cfg.RelevanceFloor == 0 {
		cfg.RelevanceFloor = 0.3
	}
	if cfg.PriorityFloor == 0 {
		cfg.PriorityFloor = 40
	}
	if cfg.MergeThreshold == 0 {
		cfg.MergeThreshold = 0.8
	}
	if cfg.DecayPerHour == 0 {
		cfg.DecayPerHour = 0.01
	}
	if cfg.AssemblyTokens == 0 {
		cfg.AssemblyTokens = DefaultAssemblyTokens
	}
	return cfg
}
