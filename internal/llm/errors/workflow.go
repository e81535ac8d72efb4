package errors

import (
	"fmt"
)

// WorkflowError is the classified form of a generation failure. It is what
// gets recorded on an answer or observation row and what Temporal activities
// inspect to decide between retryable and non-retryable application errors.
type WorkflowError struct {
	Type      ErrorType      `json:"type"`
	Message   string         `json:"message"`
	Code      string         `json:"code"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details"`
	Cause     error          `json:"-"`
}

func (e *WorkflowError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *WorkflowError) Unwrap() error {
	return e.Cause
}

// ShouldRetry returns the explicit retry recommendation, which may differ
// from the type default.
func (e *WorkflowError) ShouldRetry() bool {
	return e.Retryable
}

// IsRetryable reports the type default: transient types are retryable.
func (e *WorkflowError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeNetwork, ErrorTypeProvider:
		return true
	default:
		return false
	}
}
