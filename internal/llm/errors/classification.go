package errors

import (
	"context"
	"errors"
	"strings"
)

// ClassifyLLMError converts err into a WorkflowError. Typed errors are
// examined first, then sentinels, then the message text.
func ClassifyLLMError(err error) *WorkflowError {
	if err == nil {
		return nil
	}

	var wfErr *WorkflowError
	if errors.As(err, &wfErr) {
		return wfErr
	}

	if classified := classifyTypedErrors(err); classified != nil {
		return classified
	}

	if classified := classifySentinelErrors(err); classified != nil {
		return classified
	}

	return classifyStringPatternErrors(err)
}

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

func classifySentinelErrors(err error) *WorkflowError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &WorkflowError{
			Type:      ErrorTypeTimeout,
			Message:   err.Error(),
			Code:      "TIMEOUT",
			Retryable: true,
			Cause:     err,
		}
	case errors.Is(err, ErrRateLimitExceeded):
		return &WorkflowError{
			Type:      ErrorTypeRateLimit,
			Message:   err.Error(),
			Code:      "RATE_LIMIT",
			Retryable: true,
			Cause:     err,
		}
	case errors.Is(err, ErrProviderUnavailable):
		return &WorkflowError{
			Type:      ErrorTypeProvider,
			Message:   err.Error(),
			Code:      "PROVIDER_UNAVAILABLE",
			Retryable: true,
			Cause:     err,
		}
	case errors.Is(err, ErrUnknownProvider):
		return &WorkflowError{
			Type:      ErrorTypeValidation,
			Message:   err.Error(),
			Code:      "UNKNOWN_PROVIDER",
			Retryable: false,
			Cause:     err,
		}
	case errors.Is(err, ErrMaxRetriesExceeded):
		return &WorkflowError{
			Type:      ErrorTypeProvider,
			Message:   err.Error(),
			Code:      "MAX_RETRIES",
			Retryable: false,
			Cause:     err,
		}
	}

	return nil
}

func classifyStringPatternErrors(err error) *WorkflowError {
	errMsg := strings.ToLower(err.Error())

	wf := &WorkflowError{
		Details: map[string]any{"original_error": err.Error()},
		Cause:   err,
	}
	switch {
	case strings.Contains(errMsg, "rate limit"):
		wf.Type, wf.Message, wf.Code, wf.Retryable = ErrorTypeRateLimit, "Rate limit exceeded", "RATE_LIMIT", true
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline"):
		wf.Type, wf.Message, wf.Code, wf.Retryable = ErrorTypeTimeout, "Request timeout", "TIMEOUT", true
	case strings.Contains(errMsg, "unauthorized") || strings.Contains(errMsg, "authentication"):
		wf.Type, wf.Message, wf.Code = ErrorTypeAuth, "Authentication failed", "AUTH_FAILED"
	case strings.Contains(errMsg, "forbidden") || strings.Contains(errMsg, "permission"):
		wf.Type, wf.Message, wf.Code = ErrorTypePermission, "Permission denied", "PERMISSION_DENIED"
	case strings.Contains(errMsg, "quota"):
		wf.Type, wf.Message, wf.Code = ErrorTypeQuota, "Quota exceeded", "QUOTA_EXCEEDED"
	case strings.Contains(errMsg, "network") || strings.Contains(errMsg, "connection"):
		wf.Type, wf.Message, wf.Code, wf.Retryable = ErrorTypeNetwork, "Network error", "NETWORK_ERROR", true
	default:
		wf.Type, wf.Message, wf.Code = ErrorTypeUnknown, "Unknown error", "UNKNOWN"
	}
	return wf
}
