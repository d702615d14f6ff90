package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType classifies LLM call failures. The class decides whether an
// operation is worth retrying; transient infrastructure faults are, provider
// verdicts about the request itself are not.
type ErrorType string

const (
	// ErrorTypeTimeout: the call ran out of time. Retryable.
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeRateLimit: a limiter said no, ours or the provider's. Retryable with backoff.
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// ErrorTypeNetwork: the bytes never made it. Retryable.
	ErrorTypeNetwork ErrorType = "network"

	// ErrorTypeProvider: the provider is having a bad time (5xx, overloaded). Retryable.
	ErrorTypeProvider ErrorType = "provider_unavailable"

	// ErrorTypeCircuitBreaker: our own breaker refused the call. Retryable once it reopens.
	ErrorTypeCircuitBreaker ErrorType = "circuit_breaker"

	// ErrorTypeValidation: the request was malformed. Retrying sends the same bad request.
	ErrorTypeValidation ErrorType = "validation_failed"

	// ErrorTypeContent: a safety filter blocked the content. Not retryable.
	ErrorTypeContent ErrorType = "content_filtered"

	// ErrorTypeAuth: the credentials are wrong. Not retryable.
	ErrorTypeAuth ErrorType = "authentication"

	// ErrorTypePermission: the credentials are right but insufficient. Not retryable.
	ErrorTypePermission ErrorType = "permission_denied"

	// ErrorTypeQuota: the account is out of budget. Not retryable.
	ErrorTypeQuota ErrorType = "quota_exceeded"

	// ErrorTypeUnknown: nothing recognized the failure.
	ErrorTypeUnknown ErrorType = "unknown"
)

// Sentinel errors shared across the LLM stack.
var (
	ErrProviderUnavailable = errors.New("provider service unavailable")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	ErrCircuitBreakerOpen  = errors.New("circuit breaker open")
	ErrCacheMiss           = errors.New("cache miss")
	ErrUnknownProvider     = errors.New("unknown provider")
	ErrUnknownModel        = errors.New("unknown model")
	ErrInvalidResponse     = errors.New("invalid provider response")
	ErrEmptyCompletion     = errors.New("provider returned empty completion")
	ErrMaxRetriesExceeded  = errors.New("maximum retries exceeded")
)

// Usage normalization errors.
var (
	ErrUnsupportedUsageType       = errors.New("unsupported usage type")
	ErrUnsupportedProvider        = errors.New("unsupported provider for usage mapping")
	ErrUsageNil                   = errors.New("usage is nil")
	ErrNegativePromptTokens       = errors.New("negative prompt tokens")
	ErrNegativeCompletionTokens   = errors.New("negative completion tokens")
	ErrNegativeTotalTokens        = errors.New("negative total tokens")
	ErrInconsistentTokenCounts    = errors.New("inconsistent token counts")
	ErrSuspiciouslyHighTokenCount = errors.New("suspiciously high token count")
)

// ProviderError is a structured failure reported by an LLM provider. It keeps
// the HTTP status, the provider's own error code, and any Retry-After value,
// so a caller can decide whether and when to try again without re-parsing the
// provider's response.
type ProviderError struct {
	Provider   string    `json:"provider"`
	StatusCode int       `json:"status_code"`
	Message    string    `json:"message"`
	Code       string    `json:"code"` // provider's machine-readable code
	Type       ErrorType `json:"type"`
	RetryAfter int       `json:"retry_after"` // seconds, from the Retry-After header
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsRetryable reports whether the classified type is a transient one.
func (e *ProviderError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeNetwork, ErrorTypeProvider:
		return true
	default:
		return false
	}
}

// GetRetryAfter implements the RetryAfterProvider interface.
func (e *ProviderError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// RateLimitError reports a limiter rejection with enough context to back off
// well. LocalLimit separates this instance's token bucket from provider-side
// limits; the two call for different operator responses.
type RateLimitError struct {
	Provider   string `json:"provider"`
	RetryAfter int    `json:"retry_after"` // seconds until a retry may succeed
	ResetAt    int64  `json:"reset_at"`    // unix time the window resets
	Limit      int    `json:"limit"`
	Remaining  int    `json:"remaining"`
	LocalLimit bool   `json:"local_limit"`
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded for %s, retry after %d seconds", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded for %s", e.Provider)
}

// GetRetryAfter implements the RetryAfterProvider interface.
func (e *RateLimitError) GetRetryAfter() time.Duration {
	if e.RetryAfter > 0 {
		return time.Duration(e.RetryAfter) * time.Second
	}
	return 0
}

// CircuitBreakerError means the breaker refused the call before it left the
// process. Callers holding one should fall back to another provider rather
// than wait out the breaker.
type CircuitBreakerError struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	State    string `json:"state"`    // "open" or "half-open"
	ResetAt  int64  `json:"reset_at"` // unix time the breaker may close
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker %s for %s/%s", e.State, e.Provider, e.Model)
}

// ValidationError is an input rejection with the offending field attached.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// IsRetryableError is the single retry predicate for the whole stack. It
// consults structured errors first, then sentinels, then any HTTP status the
// error exposes; errors nothing recognizes are not retried, which keeps an
// unknown bug from turning into a retry storm.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var wfErr *WorkflowError
	if errors.As(err, &wfErr) {
		return wfErr.ShouldRetry()
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.IsRetryable()
	}

	if errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrCircuitBreakerOpen) ||
		errors.Is(err, ErrProviderUnavailable) {
		return true
	}

	type statusCoder interface {
		StatusCode() int
	}
	if sc, ok := err.(statusCoder); ok {
		code := sc.StatusCode()
		return code == http.StatusTooManyRequests ||
			code == http.StatusRequestTimeout ||
			code == http.StatusGatewayTimeout ||
			code >= 500
	}

	return false
}

// IsRateLimitError reports whether err is a rate limit in any of its
// representations.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	var wfErr *WorkflowError
	if errors.As(err, &wfErr) {
		return wfErr.Type == ErrorTypeRateLimit
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Type == ErrorTypeRateLimit
	}

	return errors.Is(err, ErrRateLimitExceeded)
}

// GetRetryAfter extracts retry-after seconds from err, or 0 when the error
// carries no guidance.
func GetRetryAfter(err error) int {
	if err == nil {
		return 0
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return rateLimitErr.RetryAfter
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.RetryAfter
	}

	return 0
}
