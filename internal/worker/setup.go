package worker

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-evalrun/internal/llm"
	"github.com/ahrav/go-evalrun/internal/llm/configuration"
	"github.com/ahrav/go-evalrun/internal/metrics"
)

// InitializeLLMClient creates the generation client shared by answer
// generation and judge metrics. A nil cfg uses the defaults. redisClient backs
// the global rate limiter and may be nil when it is disabled.
func InitializeLLMClient(cfg *configuration.Config, redisClient *redis.Client) (*llm.Client, error) {
	var opts []llm.Option
	if redisClient != nil {
		opts = append(opts, llm.WithRedisClient(redisClient))
	}
	client, err := llm.NewClient(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	return client, nil
}

// InitializeMetrics builds the registry of built-in and judge metrics. The
// registry is read-only once returned.
func InitializeMetrics(gen metrics.Generator, judge metrics.JudgeConfig) (*metrics.Registry, error) {
	r := metrics.NewRegistry()
	if err := metrics.RegisterBuiltins(r); err != nil {
		return nil, fmt.Errorf("failed to register builtin metrics: %w", err)
	}
	if err := metrics.RegisterJudges(r, gen, judge); err != nil {
		return nil, fmt.Errorf("failed to register judge metrics: %w", err)
	}
	return r, nil
}
