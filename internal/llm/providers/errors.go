package providers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/api/googleapi"

	"github.com/ahrav/go-evalrun/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-evalrun/internal/llm/errors"
)

// translateError converts an SDK failure into a ProviderError. Context errors
// pass through untouched so callers can still match them with errors.Is.
func translateError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		code := oaErr.Code
		if code == "" {
			code = oaErr.Type
		}
		msg := oaErr.Message
		if msg == "" {
			msg = oaErr.Error()
		}
		return newProviderError(provider, oaErr.StatusCode, code, msg, retryAfterFrom(oaErr.Response))
	}

	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return newProviderError(provider, antErr.StatusCode, "", antErr.Error(), retryAfterFrom(antErr.Response))
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		var code string
		if len(gErr.Errors) > 0 {
			code = gErr.Errors[0].Reason
		}
		msg := gErr.Message
		if msg == "" {
			msg = gErr.Error()
		}
		return newProviderError(provider, gErr.Code, code, msg, parseRetryAfter(gErr.Header.Get("Retry-After")))
	}

	return err
}

func newProviderError(provider string, status int, code, msg string, retryAfter int) *llmerrors.ProviderError {
	return &llmerrors.ProviderError{
		Provider:   provider,
		StatusCode: status,
		Message:    msg,
		Code:       code,
		Type:       classifyErrorType(status, code),
		RetryAfter: retryAfter,
	}
}

func retryAfterFrom(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return parseRetryAfter(resp.Header.Get("Retry-After"))
}

// parseRetryAfter reads the delay-seconds form of Retry-After. HTTP dates are
// left to the retry middleware's computed backoff.
func parseRetryAfter(v string) int {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return secs
}

// classifyErrorType determines the ErrorType from the HTTP status and the
// provider error code. A recognized code wins over the status.
func classifyErrorType(statusCode int, errorCode string) llmerrors.ErrorType {
	lowerCode := strings.ToLower(errorCode)
	switch {
	case strings.Contains(lowerCode, "quota"):
		return llmerrors.ErrorTypeQuota
	case strings.Contains(lowerCode, "rate"), strings.Contains(lowerCode, "limit"):
		return llmerrors.ErrorTypeRateLimit
	case strings.Contains(lowerCode, "timeout"):
		return llmerrors.ErrorTypeTimeout
	case strings.Contains(lowerCode, "auth"), strings.Contains(lowerCode, "unauthorized"):
		return llmerrors.ErrorTypeAuth
	case strings.Contains(lowerCode, "permission"), strings.Contains(lowerCode, "forbidden"):
		return llmerrors.ErrorTypePermission
	case strings.Contains(lowerCode, "content_filter"), strings.Contains(lowerCode, "safety"):
		return llmerrors.ErrorTypeContent
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		return llmerrors.ErrorTypeRateLimit
	case http.StatusUnauthorized:
		return llmerrors.ErrorTypeAuth
	case http.StatusForbidden:
		return llmerrors.ErrorTypePermission
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return llmerrors.ErrorTypeTimeout
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return llmerrors.ErrorTypeValidation
	default:
		if statusCode >= configuration.ServerErrorStatusThreshold {
			return llmerrors.ErrorTypeProvider
		}
		return llmerrors.ErrorTypeUnknown
	}
}
