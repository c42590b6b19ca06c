package roundtable

import "errors"

// Contract errors, returned synchronously by Execute.
var (
	ErrEmptyPrompt      = errors.New("roundtable: prompt is empty")
	ErrNoBackends       = errors.New("roundtable: no backends requested")
	ErrDuplicateBackend = errors.New("roundtable: backend requested twice")
	ErrUnknownBackend   = errors.New("roundtable: unknown backend")
)

// Backend outcome errors. They are recorded per backend in the execution
// and never returned by Execute.
var (
	ErrBackendTimeout     = errors.New("roundtable: backend timed out")
	ErrBackendFailed      = errors.New("roundtable: backend failed")
	ErrFallbackExhausted  = errors.New("roundtable: backend and fallback both failed")
	ErrSkippedByConsensus = errors.New("skipped by early consensus")
)
