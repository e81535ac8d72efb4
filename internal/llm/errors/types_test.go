package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProviderError(t *testing.T) {
	err := &ProviderError{
		Provider:   "openai",
		StatusCode: http.StatusServiceUnavailable,
		Message:    "overloaded",
		Type:       ErrorTypeProvider,
		RetryAfter: 3,
	}

	assert.Equal(t, "openai error (status 503): overloaded", err.Error())
	assert.True(t, err.IsRetryable())
	assert.Equal(t, 3*time.Second, err.GetRetryAfter())

	tests := []struct {
		errType   ErrorType
		retryable bool
	}{
		{ErrorTypeTimeout, true},
		{ErrorTypeRateLimit, true},
		{ErrorTypeNetwork, true},
		{ErrorTypeProvider, true},
		{ErrorTypeValidation, false},
		{ErrorTypeAuth, false},
		{ErrorTypeQuota, false},
		{ErrorTypeContent, false},
		{ErrorTypeUnknown, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			e := &ProviderError{Type: tt.errType}
			assert.Equal(t, tt.retryable, e.IsRetryable())
			assert.Zero(t, e.GetRetryAfter())
		})
	}
}

func TestRateLimitError(t *testing.T) {
	err := &RateLimitError{Provider: "local", RetryAfter: 2, LocalLimit: true}
	assert.Equal(t, "rate limit exceeded for local, retry after 2 seconds", err.Error())
	assert.Equal(t, 2*time.Second, err.GetRetryAfter())

	noHint := &RateLimitError{Provider: "global"}
	assert.Equal(t, "rate limit exceeded for global", noHint.Error())
	assert.Zero(t, noHint.GetRetryAfter())
}

func TestValidationError(t *testing.T) {
	assert.Equal(t, "validation failed for field tools: not supported",
		(&ValidationError{Field: "tools", Message: "not supported"}).Error())
	assert.Equal(t, "validation failed: empty request",
		(&ValidationError{Message: "empty request"}).Error())
}

type statusErr int

func (s statusErr) Error() string   { return fmt.Sprintf("status %d", int(s)) }
func (s statusErr) StatusCode() int { return int(s) }

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit error", &RateLimitError{Provider: "local"}, true},
		{"wrapped rate limit error", fmt.Errorf("call: %w", &RateLimitError{Provider: "global"}), true},
		{"retryable provider error", &ProviderError{Type: ErrorTypeNetwork}, true},
		{"auth provider error", &ProviderError{Type: ErrorTypeAuth}, false},
		{"workflow override", &WorkflowError{Type: ErrorTypeTimeout, Retryable: false}, false},
		{"sentinel rate limit", ErrRateLimitExceeded, true},
		{"sentinel unavailable", fmt.Errorf("x: %w", ErrProviderUnavailable), true},
		{"status 429", statusErr(http.StatusTooManyRequests), true},
		{"status 500", statusErr(http.StatusInternalServerError), true},
		{"status 400", statusErr(http.StatusBadRequest), false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}

func TestIsRateLimitError(t *testing.T) {
	assert.False(t, IsRateLimitError(nil))
	assert.True(t, IsRateLimitError(&RateLimitError{}))
	assert.True(t, IsRateLimitError(&ProviderError{Type: ErrorTypeRateLimit}))
	assert.True(t, IsRateLimitError(&WorkflowError{Type: ErrorTypeRateLimit}))
	assert.True(t, IsRateLimitError(fmt.Errorf("x: %w", ErrRateLimitExceeded)))
	assert.False(t, IsRateLimitError(&ProviderError{Type: ErrorTypeProvider}))
	assert.False(t, IsRateLimitError(context.DeadlineExceeded))
}

func TestGetRetryAfter(t *testing.T) {
	assert.Zero(t, GetRetryAfter(nil))
	assert.Equal(t, 7, GetRetryAfter(&RateLimitError{RetryAfter: 7}))
	assert.Equal(t, 9, GetRetryAfter(fmt.Errorf("x: %w", &ProviderError{RetryAfter: 9})))
	assert.Zero(t, GetRetryAfter(errors.New("plain")))
}
