// Package errors defines the error taxonomy for LLM provider calls.
// It classifies failures into retryable and permanent categories and converts
// raw provider errors into structured WorkflowError values that carry retry
// guidance across activity boundaries.
package errors

import (
	"errors"
	"strings"
)

// ClassifyLLMError converts an LLM operation error into a WorkflowError with
// retry guidance. Typed errors are inspected first, then sentinels, and
// message pattern matching is the last resort for errors that arrive with no
// type information at all.
func ClassifyLLMError(err error) *WorkflowError {
	if err == nil {
		return nil
	}

	if workflowErr := classifyTypedErrors(err); workflowErr != nil {
		return workflowErr
	}

	if workflowErr := classifySentinelErrors(err); workflowErr != nil {
		return workflowErr
	}

	return classifyStringPatternErrors(err)
}

// classifyTypedErrors maps the concrete error types in this package. Each
// carries structured fields worth preserving in Details, so these cases do
// not share a constructor with the sentinel path.
func classifyTypedErrors(err error) *WorkflowError {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return &WorkflowError{
			Type:      providerErr.Type,
			Message:   providerErr.Message,
			Code:      providerErr.Code,
			Retryable: providerErr.IsRetryable(),
			Details: map[string]any{
				"provider":    providerErr.Provider,
				"status_code": providerErr.StatusCode,
			},
			Cause: err,
		}
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return &WorkflowError{
			Type:      ErrorTypeRateLimit,
			Message:   rateLimitErr.Error(),
			Code:      "RATE_LIMIT",
			Retryable: true,
			Details: map[string]any{
				"provider":    rateLimitErr.Provider,
				"retry_after": rateLimitErr.RetryAfter,
			},
			Cause: err,
		}
	}

	var cbErr *CircuitBreakerError
	if errors.As(err, &cbErr) {
		return &WorkflowError{
			Type:      ErrorTypeCircuitBreaker,
			Message:   cbErr.Error(),
			Code:      "CIRCUIT_BREAKER",
			Retryable: true,
			Details: map[string]any{
				"provider": cbErr.Provider,
				"model":    cbErr.Model,
				"state":    cbErr.State,
			},
			Cause: err,
		}
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return &WorkflowError{
			Type:      ErrorTypeValidation,
			Message:   valErr.Error(),
			Code:      "VALIDATION",
			Retryable: false,
			Details: map[string]any{
				"field": valErr.Field,
				"value": valErr.Value,
			},
			Cause: err,
		}
	}

	return nil
}

func sentinelWorkflowError(err error, class ErrorType, code string, retryable bool) *WorkflowError {
	return &WorkflowError{
		Type:      class,
		Message:   err.Error(),
		Code:      code,
		Retryable: retryable,
		Cause:     err,
	}
}

// classifySentinelErrors maps the package sentinels via errors.Is, so wrapped
// sentinels classify the same as bare ones.
func classifySentinelErrors(err error) *WorkflowError {
	switch {
	case errors.Is(err, ErrRateLimitExceeded):
		return sentinelWorkflowError(err, ErrorTypeRateLimit, "RATE_LIMIT", true)
	case errors.Is(err, ErrCircuitBreakerOpen):
		return sentinelWorkflowError(err, ErrorTypeCircuitBreaker, "CIRCUIT_BREAKER", true)
	case errors.Is(err, ErrProviderUnavailable):
		return sentinelWorkflowError(err, ErrorTypeProvider, "PROVIDER_UNAVAILABLE", true)
	case errors.Is(err, ErrEmptyCompletion):
		return sentinelWorkflowError(err, ErrorTypeProvider, "EMPTY_COMPLETION", true)
	case errors.Is(err, ErrMaxRetriesExceeded):
		we := sentinelWorkflowError(err, ErrorTypeProvider, "MAX_RETRIES", false)
		we.Details = map[string]any{"original_error": err.Error()}
		return we
	}

	return nil
}

// messagePatternClasses drives last-resort classification of untyped errors.
// Order matters: the first marker found in the lowercased message wins.
var messagePatternClasses = []struct {
	markers   []string
	class     ErrorType
	message   string
	code      string
	retryable bool
}{
	{[]string{"rate limit"}, ErrorTypeRateLimit, "Rate limit exceeded", "RATE_LIMIT", true},
	{[]string{"timeout", "deadline"}, ErrorTypeTimeout, "Request timeout", "TIMEOUT", true},
	{[]string{"unauthorized", "authentication"}, ErrorTypeAuth, "Authentication failed", "AUTH_FAILED", false},
	{[]string{"forbidden", "permission"}, ErrorTypePermission, "Permission denied", "PERMISSION_DENIED", false},
	{[]string{"quota"}, ErrorTypeQuota, "Quota exceeded", "QUOTA_EXCEEDED", false},
	{[]string{"network", "connection"}, ErrorTypeNetwork, "Network error", "NETWORK_ERROR", true},
}

// classifyStringPatternErrors scans the error message for known failure
// vocabulary. The original text always survives in Details since the
// classified Message is generic by construction.
func classifyStringPatternErrors(err error) *WorkflowError {
	errMsg := strings.ToLower(err.Error())

	for _, pc := range messagePatternClasses {
		for _, marker := range pc.markers {
			if strings.Contains(errMsg, marker) {
				return &WorkflowError{
					Type:      pc.class,
					Message:   pc.message,
					Code:      pc.code,
					Retryable: pc.retryable,
					Details:   map[string]any{"original_error": err.Error()},
					Cause:     err,
				}
			}
		}
	}

	return &WorkflowError{
		Type:      ErrorTypeUnknown,
		Message:   "Unknown error",
		Code:      "UNKNOWN",
		Retryable: false,
		Details:   map[string]any{"original_error": err.Error()},
		Cause:     err,
	}
}
