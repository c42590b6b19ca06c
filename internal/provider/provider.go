// Package provider defines how the roundtable talks to one LLM backend:
// the Provider interface, request and response types, the backend registry
// and per-backend health tracking with exponential backoff.
package provider

import "context"

// Provider is the interface for communicating with one LLM backend.
// Concrete implementations live under modules/provider.
type Provider interface {
	// Complete sends a completion request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// Stream sends a completion request and returns a channel of chunks.
	// Initial connection errors are returned directly. Mid-stream errors
	// are delivered via StreamChunk.Err. The channel is closed when the
	// stream ends or ctx is cancelled.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)

	// ModelName returns the identifier of the underlying model.
	ModelName() string
}

// HealthChecker is an optional interface for active health probing.
// The registry calls HealthCheck on backends that are dead or whose
// cooldown has expired.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
