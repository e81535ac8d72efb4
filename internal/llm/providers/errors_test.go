package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	llmerrors "github.com/ahrav/go-evalrun/internal/llm/errors"
)

func TestClassifyErrorType(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		errorCode  string
		want       llmerrors.ErrorType
	}{
		{"rate_limit_code", http.StatusOK, "rate_limit_exceeded", llmerrors.ErrorTypeRateLimit},
		{"rate_limit_code_upper", http.StatusOK, "RATE_LIMIT_ERROR", llmerrors.ErrorTypeRateLimit},
		{"quota_code_wins_over_429", http.StatusTooManyRequests, "insufficient_quota", llmerrors.ErrorTypeQuota},
		{"timeout_code", http.StatusOK, "request_timeout", llmerrors.ErrorTypeTimeout},
		{"auth_code", http.StatusOK, "invalid_auth_token", llmerrors.ErrorTypeAuth},
		{"permission_code", http.StatusOK, "permission_denied", llmerrors.ErrorTypePermission},
		{"content_filter_code", http.StatusBadRequest, "content_filter", llmerrors.ErrorTypeContent},
		{"status_429", http.StatusTooManyRequests, "", llmerrors.ErrorTypeRateLimit},
		{"status_401", http.StatusUnauthorized, "", llmerrors.ErrorTypeAuth},
		{"status_403", http.StatusForbidden, "", llmerrors.ErrorTypePermission},
		{"status_408", http.StatusRequestTimeout, "", llmerrors.ErrorTypeTimeout},
		{"status_504", http.StatusGatewayTimeout, "", llmerrors.ErrorTypeTimeout},
		{"status_400", http.StatusBadRequest, "invalid_request_error", llmerrors.ErrorTypeValidation},
		{"status_404", http.StatusNotFound, "", llmerrors.ErrorTypeValidation},
		{"status_500", http.StatusInternalServerError, "", llmerrors.ErrorTypeProvider},
		{"status_529", 529, "", llmerrors.ErrorTypeProvider},
		{"status_418", http.StatusTeapot, "", llmerrors.ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyErrorType(tt.statusCode, tt.errorCode))
		})
	}
}

func TestTranslateError_PassThrough(t *testing.T) {
	assert.NoError(t, translateError("openai", nil))

	wrapped := fmt.Errorf("call: %w", context.DeadlineExceeded)
	assert.Same(t, wrapped, translateError("openai", wrapped))
	assert.ErrorIs(t, translateError("openai", context.Canceled), context.Canceled)

	plain := errors.New("boom")
	assert.Equal(t, plain, translateError("openai", plain))
}

func TestTranslateError_GoogleAPI(t *testing.T) {
	gErr := &googleapi.Error{
		Code:    http.StatusTooManyRequests,
		Message: "resource exhausted",
		Header:  http.Header{"Retry-After": []string{"12"}},
		Errors:  []googleapi.ErrorItem{{Reason: "rateLimitExceeded"}},
	}

	err := translateError("google", fmt.Errorf("send: %w", gErr))

	var provErr *llmerrors.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "google", provErr.Provider)
	assert.Equal(t, http.StatusTooManyRequests, provErr.StatusCode)
	assert.Equal(t, llmerrors.ErrorTypeRateLimit, provErr.Type)
	assert.Equal(t, 12, provErr.RetryAfter)
	assert.True(t, llmerrors.IsRetryableError(err))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 0, parseRetryAfter(""))
	assert.Equal(t, 5, parseRetryAfter("5"))
	assert.Equal(t, 5, parseRetryAfter(" 5 "))
	assert.Equal(t, 0, parseRetryAfter("-3"))
	assert.Equal(t, 0, parseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
	assert.Equal(t, 0, retryAfterFrom(nil))
}
