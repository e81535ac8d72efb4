// Package retry provides the retry middleware of the generation client. It
// retries transient failures with exponential backoff and full jitter, and
// honors Retry-After hints from providers and rate limiters.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/ahrav/go-evalrun/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-evalrun/internal/llm/errors"
	"github.com/ahrav/go-evalrun/internal/llm/transport"
)

var (
	errMaxAttemptsInvalid     = errors.New("maxAttempts must be greater than 0")
	errInitialIntervalInvalid = errors.New("initialInterval must be greater than 0")
	errMaxIntervalInvalid     = errors.New("maxInterval must be >= initialInterval")
	errMultiplierInvalid      = errors.New("multiplier must be >= 1.0")
	errMaxElapsedTimeInvalid  = errors.New("maxElapsedTime must be >= 0")

	errContextCancelledBeforeRetry = errors.New("context cancelled before retry")
	errContextCancelledDuringRetry = errors.New("context cancelled during retry")
)

// RetryAfterProvider is implemented by errors that carry a server-specified
// delay before the next attempt.
type RetryAfterProvider interface {
	GetRetryAfter() time.Duration
}

// Retrier retries transient failures of the handler it wraps.
type Retrier struct {
	config configuration.RetryConfig
	logger *slog.Logger
	stats  retryStats

	// sleep waits for d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error
}

// New validates cfg and returns a Retrier. A MaxAttempts of zero is treated
// as a single attempt.
func New(cfg configuration.RetryConfig) (*Retrier, error) {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxAttempts < 0 {
		return nil, fmt.Errorf("%w, got %d", errMaxAttemptsInvalid, cfg.MaxAttempts)
	}
	if cfg.InitialInterval <= 0 {
		return nil, fmt.Errorf("%w, got %v", errInitialIntervalInvalid, cfg.InitialInterval)
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		return nil, fmt.Errorf("%w, MaxInterval: %v, InitialInterval: %v",
			errMaxIntervalInvalid, cfg.MaxInterval, cfg.InitialInterval)
	}
	if cfg.Multiplier < 1.0 {
		return nil, fmt.Errorf("%w, got %f", errMultiplierInvalid, cfg.Multiplier)
	}
	if cfg.MaxElapsedTime < 0 {
		return nil, fmt.Errorf("%w, got %v", errMaxElapsedTimeInvalid, cfg.MaxElapsedTime)
	}

	return &Retrier{
		config: cfg,
		logger: slog.Default().With("component", "retry"),
		sleep:  sleepContext,
	}, nil
}

// Middleware returns the retry middleware.
func (r *Retrier) Middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			return r.do(ctx, next, req)
		})
	}
}

func (r *Retrier) do(ctx context.Context, next transport.Handler, req *transport.Request) (*transport.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", errContextCancelledBeforeRetry, err)
	}

	var lastErr error
	start := time.Now()
	attempts := 0

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		resp, err := next.Handle(ctx, req)
		attempts = attempt
		r.stats.totalAttempts.Add(1)

		if err == nil {
			if attempt > 1 {
				r.stats.successfulRetries.Add(1)
				r.logger.Info("request succeeded after retry",
					"attempt", attempt,
					"provider", req.Provider,
					"model", req.Model)
			} else {
				r.stats.successfulFirstAttempts.Add(1)
			}
			return resp, nil
		}

		if !r.isRetryable(err) {
			r.logger.Debug("non-retryable error",
				"error", err,
				"attempt", attempt,
				"provider", req.Provider)
			r.stats.nonRetryable.Add(1)
			return nil, err
		}
		lastErr = err

		if attempt == r.config.MaxAttempts {
			break
		}

		backoff, ok := r.nextBackoff(attempt, err, time.Since(start))
		if !ok {
			r.logger.Warn("max elapsed time exceeded",
				"elapsed", time.Since(start),
				"attempts", attempt,
				"last_error", err)
			break
		}
		r.recordBackoff(backoff)

		r.logger.Debug("retrying after backoff",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
			"provider", req.Provider)

		if err := r.sleep(ctx, backoff); err != nil {
			return nil, fmt.Errorf("%w: %w", errContextCancelledDuringRetry, err)
		}
	}

	r.stats.failedRetries.Add(1)
	return nil, fmt.Errorf("%w after %d attempts: %w", llmerrors.ErrMaxRetriesExceeded, attempts, lastErr)
}

// nextBackoff returns the delay before the attempt following attempt. It
// reports false when no delay fits in the remaining elapsed-time budget. A
// Retry-After hint that does not fit falls back to the exponential delay.
func (r *Retrier) nextBackoff(attempt int, err error, elapsed time.Duration) (time.Duration, bool) {
	backoff := r.calculateBackoff(attempt, err)
	if r.config.MaxElapsedTime <= 0 || elapsed+backoff <= r.config.MaxElapsedTime {
		return backoff, true
	}
	if extractRetryAfter(err) > 0 {
		if exp := ExponentialBackoff(attempt, r.config); elapsed+exp <= r.config.MaxElapsedTime {
			return exp, true
		}
	}
	return 0, false
}

func (r *Retrier) isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var rateLimitErr *llmerrors.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	var providerErr *llmerrors.ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.IsRetryable()
	}

	var workflowErr *llmerrors.WorkflowError
	if errors.As(err, &workflowErr) {
		return workflowErr.Retryable
	}

	var valErr *llmerrors.ValidationError
	if errors.As(err, &valErr) {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if isNetworkError(err) {
		return true
	}

	var provider RetryAfterProvider
	return errors.As(err, &provider)
}

// isNetworkError reports connectivity failures by type, falling back to
// well-known message fragments.
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
		var netErr net.Error
		if errors.As(urlErr.Err, &netErr) {
			return netErr.Timeout()
		}
		return isNetworkErrorByString(urlErr.Err.Error())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return isNetworkErrorByString(err.Error())
}

var networkErrorIndicators = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"i/o timeout",
	"eof",
}

func isNetworkErrorByString(errStr string) bool {
	lowered := strings.ToLower(errStr)
	for _, indicator := range networkErrorIndicators {
		if strings.Contains(lowered, indicator) {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
