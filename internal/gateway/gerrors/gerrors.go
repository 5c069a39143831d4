// Package gerrors defines the gateway error taxonomy. Every failure that
// crosses the gateway boundary is classified into a Kind, which drives
// retry decisions inside the middleware stack and non-retryable error
// conversion at the workflow boundary. The drafting core treats these
// errors as opaque.
package gerrors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// Kind categorizes gateway failures for retry classification.
type Kind string

const (
	// KindRateLimit indicates a rate limit was exceeded (retryable with backoff).
	KindRateLimit Kind = "rate_limit"

	// KindQuota indicates an account quota or billing limit (non-retryable).
	KindQuota Kind = "quota_exceeded"

	// KindAuth indicates failed authentication or permissions (non-retryable).
	KindAuth Kind = "authentication"

	// KindTimeout indicates a deadline was exceeded (retryable).
	KindTimeout Kind = "timeout"

	// KindNetwork indicates connectivity failure (retryable).
	KindNetwork Kind = "network"

	// KindProvider indicates the provider service itself failed (retryable).
	KindProvider Kind = "provider_unavailable"

	// KindValidation indicates the request was rejected as malformed
	// (non-retryable).
	KindValidation Kind = "validation"

	// KindCancelled indicates the caller's context was cancelled.
	KindCancelled Kind = "cancelled"

	// KindUnknown indicates an unclassified failure.
	KindUnknown Kind = "unknown"
)

// Retryable reports whether failures of this kind are worth retrying.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimit, KindTimeout, KindNetwork, KindProvider:
		return true
	default:
		return false
	}
}

// Common gateway errors for consistent handling.
var (
	// ErrUnknownProvider indicates an unconfigured or unsupported provider.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrProviderUnavailable indicates the provider service is unreachable.
	ErrProviderUnavailable = errors.New("provider service unavailable")

	// ErrRateLimitExceeded indicates a rate limit has been exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrEmptyReply indicates the provider returned no usable content.
	ErrEmptyReply = errors.New("provider returned empty reply")
)

// RetryAfterProvider is implemented by error types that carry explicit
// provider guidance on when to retry.
type RetryAfterProvider interface {
	// GetRetryAfter returns the recommended wait before the next attempt,
	// or zero when no guidance is available.
	GetRetryAfter() time.Duration
}

// ProviderError captures a structured error response from a provider.
// Includes the HTTP status, the provider's own error code, and retry
// timing so the retry middleware can act on provider guidance.
type ProviderError struct {
	Provider   string `json:"provider"`
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Code       string `json:"code"`
	Kind       Kind   `json:"kind"`
	RetryAfter int    `json:"retry_after"` // seconds, from Retry-After
}

// Error returns the provider failure with status code context.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// Retryable reports whether this provider error warrants a retry.
func (e *ProviderError) Retryable() bool { return e.Kind.Retryable() }

// GetRetryAfter implements RetryAfterProvider.
func (e *ProviderError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// RateLimitError provides rate limit context for backoff calculation,
// distinguishing the gateway's own admission limit from a remote one.
type RateLimitError struct {
	Provider   string `json:"provider"`
	RetryAfter int    `json:"retry_after"` // seconds to wait before retry
	Limit      int    `json:"limit"`
	Remaining  int    `json:"remaining"`
	LocalLimit bool   `json:"local_limit"`
}

// Error returns the rate limit failure with retry guidance.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded for %s, retry after %d seconds", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded for %s", e.Provider)
}

// GetRetryAfter implements RetryAfterProvider.
func (e *RateLimitError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// KindOf classifies an arbitrary error into a Kind for logging and
// retry decisions.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return KindRateLimit
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Kind
	}

	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrRateLimitExceeded):
		return KindRateLimit
	case errors.Is(err, ErrProviderUnavailable):
		return KindProvider
	case isNetworkError(err):
		return KindNetwork
	}
	return KindUnknown
}

// IsRetryable determines whether an error warrants a retry attempt.
// Cancellation is never retryable; everything else follows its Kind.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return KindOf(err).Retryable()
}

// RetryAfter extracts explicit retry guidance from an error chain, or
// zero when none is present.
func RetryAfter(err error) time.Duration {
	var provider RetryAfterProvider
	if errors.As(err, &provider) {
		return provider.GetRetryAfter()
	}
	return 0
}

// isNetworkError detects connectivity failures by type rather than by
// string matching where possible.
func isNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
