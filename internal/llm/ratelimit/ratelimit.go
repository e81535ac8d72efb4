// Package ratelimit throttles generation calls with a per-key token bucket
// and an optional Redis fixed window shared by every worker process.
//
// Keys have the form "provider:model:operation". When Redis is unreachable
// the limiter switches to degraded mode and stops consulting it; if local
// limiting is also disabled a conservative fallback bucket applies so the
// limiter never fails open. Denials are RateLimitError values carrying a
// retry-after hint, which the retry middleware honors.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-evalrun/internal/llm/configuration"
	"github.com/ahrav/go-evalrun/internal/llm/transport"
)

// Redis client and cleanup constants.
const (
	RedisReadTimeoutSeconds  = 5
	RedisWriteTimeoutSeconds = 5
	RedisPoolSize            = 10

	// CleanupInterval is how often stale local limiters are evicted.
	CleanupInterval = 1 * time.Hour

	// LimiterTTL is how long an unused local limiter is kept.
	LimiterTTL = 1 * time.Hour
)

var (
	errNegativeTokensPerSecond   = errors.New("invalid local rate limit: TokensPerSecond cannot be negative")
	errNegativeBurstSize         = errors.New("invalid local rate limit: BurstSize cannot be negative")
	errBurstWithoutRate          = errors.New("invalid local rate limit: BurstSize must be 0 when TokensPerSecond is 0")
	errNegativeRequestsPerSecond = errors.New("invalid global rate limit: RequestsPerSecond cannot be negative")
)

type timedLimiter struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64 // Unix nanoseconds.
}

// Limiter enforces local and global request rates.
type Limiter struct {
	localMu       sync.RWMutex
	localLimiters map[string]*timedLimiter
	localConfig   configuration.LocalRateLimitConfig
	limiterMinTTL time.Duration

	globalClient *redis.Client
	globalConfig configuration.GlobalRateLimitConfig
	degraded     atomic.Bool

	cleanupMu     sync.Mutex
	cleanupTicker *time.Ticker
	cleanupStop   chan struct{}
	cleanupDone   sync.WaitGroup

	logger *slog.Logger
}

func validateConfig(cfg configuration.RateLimitConfig) error {
	if cfg.Local.Enabled {
		if cfg.Local.TokensPerSecond < 0 {
			return fmt.Errorf("%w (got %f)", errNegativeTokensPerSecond, cfg.Local.TokensPerSecond)
		}
		if cfg.Local.BurstSize < 0 {
			return fmt.Errorf("%w (got %d)", errNegativeBurstSize, cfg.Local.BurstSize)
		}
		if cfg.Local.TokensPerSecond == 0 && cfg.Local.BurstSize > 0 {
			return errBurstWithoutRate
		}
	}
	if cfg.Global.Enabled && cfg.Global.RequestsPerSecond < 0 {
		return fmt.Errorf("%w (got %d)", errNegativeRequestsPerSecond, cfg.Global.RequestsPerSecond)
	}
	return nil
}

// New validates cfg and builds a Limiter. When global limiting is enabled and
// client is nil a Redis client is created from cfg; a failed ping puts the
// limiter in degraded mode instead of failing construction. New starts the
// background cleanup goroutine, which Stop terminates.
func New(cfg configuration.RateLimitConfig, client *redis.Client) (*Limiter, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	limiterMinTTL := LimiterTTL
	if cfg.Local.TokensPerSecond > 0 {
		refill := time.Duration(float64(cfg.Local.BurstSize)/cfg.Local.TokensPerSecond) * time.Second
		limiterMinTTL = max(refill*10, LimiterTTL)
	}

	l := &Limiter{
		localLimiters: make(map[string]*timedLimiter),
		localConfig:   cfg.Local,
		limiterMinTTL: limiterMinTTL,
		globalConfig:  cfg.Global,
		logger:        slog.Default().With("component", "ratelimit"),
	}

	if cfg.Global.Enabled {
		if client == nil {
			connectTimeout := cfg.Global.ConnectTimeout
			if connectTimeout <= 0 {
				connectTimeout = configuration.DefaultConnectTimeout
			}
			client = redis.NewClient(&redis.Options{
				Addr:         cfg.Global.RedisAddr,
				Password:     cfg.Global.RedisPassword,
				DB:           cfg.Global.RedisDB,
				DialTimeout:  connectTimeout,
				ReadTimeout:  RedisReadTimeoutSeconds * time.Second,
				WriteTimeout: RedisWriteTimeoutSeconds * time.Second,
				PoolSize:     RedisPoolSize,
			})

			ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
			defer cancel()
			if err := client.Ping(ctx).Err(); err != nil {
				l.logger.Warn("Redis connection failed, using local-only rate limiting", "error", err)
				l.degraded.Store(true)
			}
		}
		l.globalClient = client
	}

	l.Start()
	return l, nil
}

// Middleware returns the rate limiting middleware.
func (l *Limiter) Middleware() transport.Middleware {
	return func(next transport.Handler) transport.Handler {
		return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
			if err := l.Allow(ctx, buildKey(req)); err != nil {
				return nil, err
			}
			return next.Handle(ctx, req)
		})
	}
}

// Allow checks key against the local and global limits.
func (l *Limiter) Allow(ctx context.Context, key string) error {
	if l.localConfig.Enabled {
		if err := l.checkLocalLimit(key); err != nil {
			return err
		}
	}

	if !l.globalConfig.Enabled {
		return nil
	}

	if !l.degraded.Load() {
		err := l.checkGlobalLimit(ctx, key)
		if err == nil {
			return nil
		}
		if !isRedisError(err) {
			return err
		}
		l.logger.Warn("Redis error, switching to degraded mode", "error", err)
		l.degraded.Store(true)
	}

	if !l.localConfig.Enabled {
		return l.checkFallbackLimit(key)
	}
	return nil
}

// Degraded reports whether the global limit has been abandoned.
func (l *Limiter) Degraded() bool {
	return l.degraded.Load()
}

func buildKey(req *transport.Request) string {
	return fmt.Sprintf("%s:%s:%s", req.Provider, req.Model, req.Operation)
}

func isRedisError(err error) bool {
	if err == nil {
		return false
	}

	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return true
	}

	if errors.Is(err, redis.ErrClosed) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// CleanupStale evicts local limiters unused since before minus the limiter
// TTL.
func (l *Limiter) CleanupStale(before time.Time) {
	l.localMu.Lock()
	defer l.localMu.Unlock()

	cutoff := before.Add(-l.limiterMinTTL).UnixNano()
	for key, tl := range l.localLimiters {
		if tl.lastUsed.Load() < cutoff {
			delete(l.localLimiters, key)
		}
	}
}

// Start launches the cleanup goroutine. It is idempotent.
func (l *Limiter) Start() {
	l.cleanupMu.Lock()
	defer l.cleanupMu.Unlock()

	if l.cleanupTicker != nil {
		return
	}

	l.cleanupStop = make(chan struct{})
	l.cleanupTicker = time.NewTicker(CleanupInterval)
	l.cleanupDone.Add(1)
	go l.cleanupLoop(l.cleanupTicker, l.cleanupStop)
}

// Stop terminates the cleanup goroutine and waits for it. It is idempotent.
func (l *Limiter) Stop() {
	l.cleanupMu.Lock()
	defer l.cleanupMu.Unlock()

	if l.cleanupTicker == nil {
		return
	}

	close(l.cleanupStop)
	l.cleanupTicker.Stop()
	l.cleanupDone.Wait()
	l.cleanupTicker = nil
}

func (l *Limiter) cleanupLoop(ticker *time.Ticker, stop <-chan struct{}) {
	defer l.cleanupDone.Done()
	for {
		select {
		case <-ticker.C:
			l.CleanupStale(time.Now())
		case <-stop:
			return
		}
	}
}
