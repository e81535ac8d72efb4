package ratelimit

import (
	"math"
	"time"

	"golang.org/x/time/rate"

	llmerrors "github.com/ahrav/go-evalrun/internal/llm/errors"
)

// DefaultRateLimit is the rate and burst of the fallback bucket used when
// Redis is down and local limiting is disabled.
const DefaultRateLimit = 10

func (l *Limiter) checkLocalLimit(key string) error {
	lim := l.getOrCreateLimiter(key, rate.Limit(l.localConfig.TokensPerSecond), l.localConfig.BurstSize)
	return deny(lim, "local", int(l.localConfig.TokensPerSecond), true)
}

func (l *Limiter) checkFallbackLimit(key string) error {
	lim := l.getOrCreateLimiter("fallback:"+key, rate.Limit(DefaultRateLimit), DefaultRateLimit)
	return deny(lim, "fallback", DefaultRateLimit, true)
}

// deny takes a token from lim or returns a RateLimitError. The retry delay is
// measured with a cancelled reservation so a denied request consumes nothing.
func deny(lim *rate.Limiter, provider string, limit int, local bool) error {
	if lim.Allow() {
		return nil
	}

	reservation := lim.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()

	retryAfter := max(int(math.Ceil(delay.Seconds())), 1)
	return &llmerrors.RateLimitError{
		Provider:   provider,
		Limit:      limit,
		RetryAfter: retryAfter,
		ResetAt:    time.Now().Add(delay).Unix(),
		LocalLimit: local,
	}
}

// getOrCreateLimiter returns the bucket for key, creating it on first use.
func (l *Limiter) getOrCreateLimiter(key string, r rate.Limit, burst int) *rate.Limiter {
	now := time.Now().UnixNano()

	l.localMu.RLock()
	if tl, ok := l.localLimiters[key]; ok {
		// Touch under the read lock so CleanupStale cannot evict first.
		tl.lastUsed.Store(now)
		lim := tl.limiter
		l.localMu.RUnlock()
		return lim
	}
	l.localMu.RUnlock()

	l.localMu.Lock()
	defer l.localMu.Unlock()
	if tl, ok := l.localLimiters[key]; ok {
		tl.lastUsed.Store(now)
		return tl.limiter
	}

	tl := &timedLimiter{limiter: rate.NewLimiter(r, burst)}
	tl.lastUsed.Store(now)
	l.localLimiters[key] = tl
	return tl.limiter
}
