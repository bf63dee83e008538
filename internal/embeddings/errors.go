package embeddings

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidText indicates empty or whitespace-only input text.
	ErrInvalidText = errors.New("invalid text: empty or whitespace")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrModelMismatch indicates a per-call model that differs from the
	// deployment model. One model per deployment; mixing dimensions within
	// a collection is forbidden.
	ErrModelMismatch = errors.New("model does not match deployment model")
)

// ProviderErrorKind classifies a provider transport failure.
type ProviderErrorKind string

const (
	// KindRateLimit is an HTTP 429. Surfaced immediately, never retried
	// locally; RetryAfter carries the server hint when present.
	KindRateLimit ProviderErrorKind = "rate_limit"

	// KindTimeout is a request deadline exceeded. Retryable.
	KindTimeout ProviderErrorKind = "timeout"

	// KindConnect is a transport-level connection failure. Retryable.
	KindConnect ProviderErrorKind = "connect"

	// KindHTTP is any other non-200 response. Retryable.
	KindHTTP ProviderErrorKind = "http"

	// KindBadResponse is a 200 with an unusable body. Retryable.
	KindBadResponse ProviderErrorKind = "bad_response"
)

// ProviderError wraps an embedding provider failure with its classification.
type ProviderError struct {
	Kind       ProviderErrorKind
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider error (%s, status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider error (%s): %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the local retry policy applies. Rate limits are
// surfaced to the caller, which may back off on its own schedule.
func (e *ProviderError) Retryable() bool {
	return e.Kind != KindRateLimit
}

// AsProviderError unwraps err into a *ProviderError if possible.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
