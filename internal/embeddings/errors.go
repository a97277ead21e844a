package embeddings

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors for embedding provider operations.
var (
	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid embedding configuration")

	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrAuth indicates the provider rejected the credentials (401/403).
	// Never retried.
	ErrAuth = errors.New("provider rejected credentials")

	// ErrRateLimited indicates the provider throttled the request (429).
	// Retried with backoff.
	ErrRateLimited = errors.New("provider rate limited")

	// ErrUnavailable indicates a transient provider failure
	// (5xx, timeout, network error). Retried with backoff.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrMalformedResponse indicates the provider returned a response that
	// does not match the wire contract. Never retried.
	ErrMalformedResponse = errors.New("malformed provider response")

	// ErrInvalidDimension indicates a returned embedding length does not
	// match the configured dimension. Fatal; never retried.
	ErrInvalidDimension = errors.New("embedding dimension mismatch")
)

// IsRetryable reports whether an error represents a transient provider
// failure that may succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}

// statusError maps a non-2xx provider response status to the error taxonomy.
func statusError(status int, body string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", ErrAuth, status, body)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d: %s", ErrRateLimited, status, body)
	case status >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, status, body)
	default:
		return fmt.Errorf("%w: unexpected status %d: %s", ErrMalformedResponse, status, body)
	}
}

// transportError maps a failed HTTP round trip to the error taxonomy.
// Caller cancellation is surfaced as-is so it is never retried.
func transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
