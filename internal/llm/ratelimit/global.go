package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	llmerrors "github.com/ahrav/go-evalrun/internal/llm/errors"
)

// Global window constants.
const (
	MillisecondsPerSecond       = 1000
	MinRetryAfterSeconds        = 1
	MaxRetryAfterSecondsPerHour = 3600

	// DefaultInitialInterval is used when Redis returns no usable TTL.
	DefaultInitialInterval = 1 * time.Second
)

// fixedWindowScript counts requests in a window of ARGV[1] milliseconds and
// allows at most ARGV[2]. It returns {1, remaining} or {0, ttl_ms}.
var fixedWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local window = tonumber(ARGV[1])
	local limit = tonumber(ARGV[2])

	local current = redis.call('GET', key)
	if current == false then
		redis.call('SET', key, 1, 'PX', window)
		return {1, limit - 1}
	end

	local count = tonumber(current)
	if count < limit then
		local newCount = redis.call('INCR', key)
		if redis.call('PTTL', key) == -1 then
			redis.call('PEXPIRE', key, window)
		end
		return {1, limit - newCount}
	end

	return {0, redis.call('PTTL', key)}
`)

func (l *Limiter) checkGlobalLimit(ctx context.Context, key string) error {
	if l.globalClient == nil {
		return nil
	}

	limit := int64(l.globalConfig.RequestsPerSecond)
	if limit < 0 {
		return fmt.Errorf("%w (got %d)", errNegativeRequestsPerSecond, limit)
	}
	if limit == 0 {
		return nil
	}

	result, err := fixedWindowScript.Run(ctx, l.globalClient, []string{"rl:global:" + key},
		int64(MillisecondsPerSecond), limit).Result()
	if err != nil {
		return fmt.Errorf("global rate limit check failed: %w", err)
	}

	res, ok := result.([]any)
	if !ok || len(res) < 2 {
		l.logger.Warn("invalid Redis response format, switching to degraded mode", "response", result)
		l.degraded.Store(true)
		return nil
	}

	allowed, ok := res[0].(int64)
	if !ok {
		l.logger.Warn("invalid Redis allowed value format, switching to degraded mode", "allowed", res[0])
		l.degraded.Store(true)
		return nil
	}
	if allowed == 1 {
		return nil
	}

	retryAfterMs, ok := res[1].(int64)
	if !ok || retryAfterMs <= 0 {
		retryAfterMs = DefaultInitialInterval.Milliseconds()
	}
	retryAfter := int(retryAfterMs / MillisecondsPerSecond)
	retryAfter = min(max(retryAfter, MinRetryAfterSeconds), MaxRetryAfterSecondsPerHour)

	return &llmerrors.RateLimitError{
		Provider:   "global",
		Limit:      int(limit),
		RetryAfter: retryAfter,
		ResetAt:    time.Now().Add(time.Duration(retryAfterMs) * time.Millisecond).Unix(),
	}
}
