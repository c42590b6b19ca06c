package provider

import "errors"

// Sentinel errors for provider operations.
var (
	// ErrRateLimit indicates the backend returned a rate limit response.
	ErrRateLimit = errors.New("provider rate limited")

	// ErrContextLength indicates the request exceeded the model's context window.
	ErrContextLength = errors.New("context length exceeded")

	// ErrProviderDown indicates the backend is temporarily unavailable.
	ErrProviderDown = errors.New("provider unavailable")

	// ErrAuthentication indicates the backend rejected the credentials.
	ErrAuthentication = errors.New("provider authentication failed")

	// ErrNoProvider indicates the registry was built without backends.
	ErrNoProvider = errors.New("no provider configured")

	// ErrUnknownBackend indicates a backend id that is not registered.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrDuplicateBackend indicates two registry entries share an id.
	ErrDuplicateBackend = errors.New("duplicate backend")

	// ErrUnavailable indicates the backend is cooling down or dead.
	ErrUnavailable = errors.New("backend unavailable")
)

// IsRetryable reports whether the error is transient and the request
// can be retried with a different backend or after a delay.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrProviderDown)
}

// IsRateLimit reports whether err is or wraps ErrRateLimit.
func IsRateLimit(err error) bool {
	return errors.Is(err, ErrRateLimit)
}
