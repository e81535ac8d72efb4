// Package llm provides the generation client used for answers and judge
// calls. A call flows through a middleware pipeline before it reaches the
// provider adapter:
//
//	logging (per call) -> retry -> rate limit (per attempt) -> provider
//
// Rate limit denials carry a Retry-After hint, so the retry middleware waits
// them out like any other transient failure.
package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-evalrun/internal/llm/configuration"
	"github.com/ahrav/go-evalrun/internal/llm/providers"
	"github.com/ahrav/go-evalrun/internal/llm/ratelimit"
	"github.com/ahrav/go-evalrun/internal/llm/retry"
	"github.com/ahrav/go-evalrun/internal/llm/transport"
)

// Client performs chat completions through the middleware pipeline.
type Client struct {
	handler transport.Handler
	router  transport.Router
	retrier *retry.Retrier
	limiter *ratelimit.Limiter // nil when rate limiting is off
}

// Stats is a snapshot of the client's middleware counters.
type Stats struct {
	Retry     retry.Stats
	RateLimit *ratelimit.Stats `json:",omitempty"`
}

type clientOptions struct {
	router      transport.Router
	redisClient *redis.Client
	logger      *slog.Logger
}

// Option customizes NewClient.
type Option func(*clientOptions)

// WithRouter replaces the SDK-backed provider router.
func WithRouter(r transport.Router) Option {
	return func(o *clientOptions) { o.router = r }
}

// WithRedisClient supplies the client used by the global rate limit instead
// of dialing one from the configuration.
func WithRedisClient(c *redis.Client) Option {
	return func(o *clientOptions) { o.redisClient = c }
}

// WithLogger sets the logger of the logging middleware.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// NewClient builds the pipeline described by cfg. A nil cfg uses
// configuration.DefaultConfig.
func NewClient(cfg *configuration.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = configuration.DefaultConfig()
	}
	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default().With("component", "llm")
	}

	router := o.router
	if router == nil {
		r, err := providers.NewRouter(cfg.Providers, cfg.HTTPTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize router: %w", err)
		}
		router = r
	}

	c := &Client{router: router}

	// Attempt-level middlewares run once per retry attempt.
	var attempt []transport.Middleware
	if cfg.RateLimit.Local.Enabled || cfg.RateLimit.Global.Enabled {
		limiter, err := ratelimit.New(cfg.RateLimit, o.redisClient)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
		}
		c.limiter = limiter
		attempt = append(attempt, limiter.Middleware())
	}
	attemptHandler := transport.Chain(transport.NewProviderHandler(router), attempt...)

	retrier, err := retry.New(cfg.Retry)
	if err != nil {
		c.closeLimiter()
		return nil, fmt.Errorf("failed to initialize retry middleware: %w", err)
	}
	c.retrier = retrier

	c.handler = transport.Chain(attemptHandler,
		NewLoggingMiddleware(cfg.Observability, o.logger),
		retrier.Middleware(),
	)
	return c, nil
}

// Complete runs req through the pipeline.
func (c *Client) Complete(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	return c.handler.Handle(ctx, req)
}

// Stats returns the retry and rate limit counters.
func (c *Client) Stats() Stats {
	s := Stats{Retry: c.retrier.Stats()}
	if c.limiter != nil {
		rl := c.limiter.Stats()
		s.RateLimit = &rl
	}
	return s
}

// Close stops the rate limiter and releases provider clients.
func (c *Client) Close() error {
	c.closeLimiter()
	if closer, ok := c.router.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func (c *Client) closeLimiter() {
	if c.limiter != nil {
		c.limiter.Stop()
	}
}
