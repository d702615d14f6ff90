package errors

import (
	"fmt"
)

// WorkflowError is the serializable error shape handed across activity
// boundaries. Temporal flattens Go error chains, so everything a workflow
// needs for its retry decision rides in plain fields; Cause stays local to
// the process that built the error.
type WorkflowError struct {
	Type      ErrorType      `json:"type"`
	Message   string         `json:"message"`
	Code      string         `json:"code"`
	Retryable bool           `json:"retryable"` // explicit verdict, may override the type's default
	Details   map[string]any `json:"details"`
	Cause     error          `json:"-"`
}

func (e *WorkflowError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap exposes the underlying error to errors.Is and errors.As.
func (e *WorkflowError) Unwrap() error {
	return e.Cause
}

// ShouldRetry returns the classifier's explicit verdict. Prefer this over
// IsRetryable: classification can mark a normally-transient type permanent,
// such as a rate limit that has already exhausted its retry budget.
func (e *WorkflowError) ShouldRetry() bool {
	return e.Retryable
}

// IsRetryable judges by type alone, ignoring any explicit verdict.
func (e *WorkflowError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeNetwork, ErrorTypeProvider, ErrorTypeCircuitBreaker:
		return true
	default:
		return false
	}
}
