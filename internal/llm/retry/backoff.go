package retry

import (
	"errors"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/ahrav/go-evalrun/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-evalrun/internal/llm/errors"
)

// calculateBackoff returns the delay after a failed attempt. A Retry-After
// hint carried by err takes precedence over the exponential delay.
func (r *Retrier) calculateBackoff(attempt int, err error) time.Duration {
	if retryAfter := extractRetryAfter(err); retryAfter > 0 {
		return retryAfter
	}
	return ExponentialBackoff(attempt, r.config)
}

// ExponentialBackoff returns InitialInterval * Multiplier^(attempt-1), capped
// at MaxInterval. With UseJitter the result is drawn uniformly from [0, d]
// (full jitter). Non-positive attempts return zero.
func ExponentialBackoff(attempt int, config configuration.RetryConfig) time.Duration {
	if attempt <= 0 {
		return 0
	}

	backoff := config.InitialInterval
	if backoff <= 0 {
		backoff = time.Millisecond
	}
	multiplier := config.Multiplier
	if multiplier < 1.0 {
		multiplier = 1.0
	}
	for i := 1; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * multiplier)
		if config.MaxInterval > 0 && backoff >= config.MaxInterval {
			backoff = config.MaxInterval
			break
		}
	}

	if config.UseJitter {
		jitterMs := rand.Int64N(backoff.Milliseconds() + 1) // #nosec G404 -- non-cryptographic jitter is appropriate here
		return time.Duration(jitterMs) * time.Millisecond
	}
	return backoff
}

// extractRetryAfter returns the server-specified delay carried by err, or 0.
func extractRetryAfter(err error) time.Duration {
	var provider RetryAfterProvider
	if errors.As(err, &provider) {
		return provider.GetRetryAfter()
	}

	var workflowErr *llmerrors.WorkflowError
	if errors.As(err, &workflowErr) && workflowErr.Details != nil {
		if raw, ok := workflowErr.Details["retry_after"]; ok {
			return parseRetryAfterValue(raw)
		}
	}

	return 0
}

// parseRetryAfterValue accepts seconds as a number or string, an HTTP date,
// or a time.Duration.
func parseRetryAfterValue(value any) time.Duration {
	switch v := value.(type) {
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	case time.Duration:
		return v
	case string:
		if seconds, err := strconv.Atoi(v); err == nil {
			return time.Duration(seconds) * time.Second
		}
		for _, layout := range []string{time.RFC1123, time.RFC1123Z, time.RFC850, time.ANSIC} {
			if t, err := time.Parse(layout, v); err == nil {
				return max(time.Until(t), 0)
			}
		}
	}
	return 0
}
