package ctxengine

import "errors"

var (
	// ErrNegativeTarget is returned when an optimization target is below zero.
	ErrNegativeTarget = errors.New("ctxengine: negative token target")

	// ErrUnknownStrategy is returned when an allow-list names no known strategy.
	ErrUnknownStrategy = errors.New("ctxengine: unknown strategy")

	// ErrInvalidItem is returned by Item.Validate.
	ErrInvalidItem = errors.New("ctxengine: invalid item")

	// ErrSummarizeFailed wraps a Summarizer error during optimization.
	ErrSummarizeFailed = errors.New("ctxengine: summarization failed")
)
