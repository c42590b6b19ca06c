// Package roundtable fans one prompt out to several LLM backends and
// reconciles the answers: per-backend concurrency slots, streaming progress,
// single-level fallback, early consensus termination, deduplication,
// consensus scoring and quality ranking.
package roundtable

import (
	"sort"
	"time"
)

// State is the lifecycle of one backend inside one execution. States only
// move forward; completed and error are final.
type State string

// Backend lifecycle states.
const (
	StatePending   State = "pending"
	StateExecuting State = "executing"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateError     State = "error"
)

func (s State) rank() int {
	switch s {
	case StatePending:
		return 0
	case StateExecuting:
		return 1
	case StateStreaming:
		return 2
	case StateCompleted, StateError:
		return 3
	default:
		return -1
	}
}

// Terminal reports whether s is completed or error.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateError
}

// canAdvance reports whether a backend may move from one state to another.
func canAdvance(from, to State) bool {
	if from.Terminal() || to.rank() < 0 {
		return false
	}
	return to.rank() > from.rank()
}

// Settings are the per-call model parameters.
type Settings struct {
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Streaming    bool     `json:"streaming"`
}

// Strategy tunes how an execution is scheduled and post-processed.
type Strategy struct {
	// Timeout bounds each backend call. Default: 60s.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// MaxConcurrency bounds the number of backend tasks running at once
	// across the whole execution. Default: 8.
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency"`

	// Priority backends run first when CostOptimization is on.
	Priority []string `json:"priority,omitempty" yaml:"priority"`

	// CostOptimization enables priority ordering and early termination
	// once enough backends agree.
	CostOptimization bool `json:"cost_optimization" yaml:"cost_optimization"`

	// Fallback retries a failed backend once on its fallback sibling.
	Fallback bool `json:"fallback" yaml:"fallback"`

	// SimilarityThreshold is the keyword similarity at or above which two
	// responses are grouped as duplicates. Default: 0.8.
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold"`

	// CancelInFlight also aborts running calls on early termination.
	CancelInFlight bool `json:"cancel_in_flight" yaml:"cancel_in_flight"`
}

// Defaults for Strategy fields left at zero.
const (
	DefaultTimeout             = 60 * time.Second
	DefaultMaxConcurrency      = 8
	DefaultSimilarityThreshold = 0.8
)

func (s Strategy) withDefaults() Strategy {
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.MaxConcurrency <= 0 {
		s.MaxConcurrency = DefaultMaxConcurrency
	}
	if s.SimilarityThreshold <= 0 {
		s.SimilarityThreshold = DefaultSimilarityThreshold
	}
	return s
}

// Request is one roundtable submission.
type Request struct {
	Prompt   string   `json:"prompt"`
	Backends []string `json:"backends"`
	Settings Settings `json:"settings"`
}

// ResponseMeta describes how a response was produced and how it ranked.
type ResponseMeta struct {
	Tokens       int           `json:"tokens"`
	Cost         float64       `json:"cost"`
	Latency      time.Duration `json:"latency"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Rank         int           `json:"rank,omitempty"`
	QualityScore int           `json:"quality_score,omitempty"`
	FallbackFor  string        `json:"fallback_for,omitempty"`
}

// Response is one backend's answer.
type Response struct {
	MessageID string       `json:"message_id"`
	Backend   string       `json:"backend"`
	Content   string       `json:"content"`
	Meta      ResponseMeta `json:"meta"`
}

// DuplicateGroup clusters backends whose answers are near-identical.
type DuplicateGroup struct {
	Backends   []string `json:"backends"`
	Similarity float64  `json:"similarity"`
}

// ExecutionMeta aggregates over all backends of an execution.
type ExecutionMeta struct {
	TotalCost       float64           `json:"total_cost"`
	MaxLatency      time.Duration     `json:"max_latency"`
	DuplicateGroups []DuplicateGroup  `json:"duplicate_groups"`
	Consensus       Consensus         `json:"consensus"`
	Fallbacks       map[string]string `json:"fallbacks,omitempty"`
	EarlyStopped    bool              `json:"early_stopped"`
	Completed       int               `json:"completed"`
	Failed          int               `json:"failed"`
}

// Execution is the record of one roundtable. It is owned by the Execute
// call that produced it and is not modified after Execute returns.
type Execution struct {
	ID         string               `json:"id"`
	Prompt     string               `json:"prompt"`
	Backends   []string             `json:"backends"`
	Settings   Settings             `json:"settings"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Responses  map[string]*Response `json:"responses"`
	States     map[string]State     `json:"states"`
	Errors     map[string]string    `json:"errors,omitempty"`
	Meta       ExecutionMeta        `json:"meta"`
}

// Ranked returns the completed responses ordered by rank.
func (e *Execution) Ranked() []*Response {
	out := make([]*Response, 0, len(e.Responses))
	for _, r := range e.Responses {
		if r != nil {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Meta.Rank != out[j].Meta.Rank {
			return out[i].Meta.Rank < out[j].Meta.Rank
		}
		return out[i].Backend < out[j].Backend
	})
	return out
}

// Succeeded reports whether at least one backend produced an answer.
func (e *Execution) Succeeded() bool {
	return e.Meta.Completed > 0
}

// EventType names a progress event.
type EventType string

// Progress event types.
const (
	EventModelStart     EventType = "model_start"
	EventModelStreaming EventType = "model_streaming"
	EventModelComplete  EventType = "model_complete"
	EventModelError     EventType = "model_error"
)

// ProgressEvent reports one step of one backend. Progress is the share of
// requested backends that have settled, from 0 to 100.
type ProgressEvent struct {
	Type        EventType `json:"type"`
	ExecutionID string    `json:"execution_id"`
	Backend     string    `json:"backend"`
	Content     string    `json:"content,omitempty"`
	Response    *Response `json:"response,omitempty"`
	Error       string    `json:"error,omitempty"`
	Progress    int       `json:"progress"`
}
