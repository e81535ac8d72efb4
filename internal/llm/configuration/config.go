// Package configuration holds the settings of the generation client: provider
// credentials, retry policy, rate limits and logging behavior.
package configuration

import (
	"os"
	"time"
)

// Config configures the generation client.
type Config struct {
	// HTTPTimeout bounds every SDK HTTP call. Request.Timeout, when set,
	// bounds a single attempt more tightly.
	HTTPTimeout time.Duration `yaml:"http_timeout" validate:"gte=0"`

	// Providers holds per-provider defaults keyed by provider name. A model's
	// own base URL and API key take precedence.
	Providers map[string]ProviderConfig `yaml:"providers" validate:"dive"`

	Retry         RetryConfig         `yaml:"retry"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ProviderConfig holds the endpoint and credentials of one provider.
type ProviderConfig struct {
	Endpoint  string            `yaml:"endpoint" validate:"omitempty,url"`
	APIKey    string            `yaml:"api_key"`
	APIKeyEnv string            `yaml:"api_key_env"`
	Timeout   time.Duration     `yaml:"timeout" validate:"gte=0"`
	Headers   map[string]string `yaml:"headers"`
}

// ResolveAPIKey returns the literal key, falling back to the named
// environment variable.
func (p ProviderConfig) ResolveAPIKey() string {
	if p.APIKey != "" {
		return p.APIKey
	}
	if p.APIKeyEnv != "" {
		return os.Getenv(p.APIKeyEnv)
	}
	return ""
}

// RetryConfig controls the retry middleware. Backoff is exponential with full
// jitter, capped at MaxInterval, and a provider Retry-After hint takes
// precedence over the computed delay.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" validate:"gte=0"`     // 0 or 1 means a single attempt.
	MaxElapsedTime  time.Duration `yaml:"max_elapsed_time" validate:"gte=0"` // 0 means unbounded.
	InitialInterval time.Duration `yaml:"initial_interval" validate:"gte=0"`
	MaxInterval     time.Duration `yaml:"max_interval" validate:"gte=0"`
	Multiplier      float64       `yaml:"multiplier" validate:"gte=0"`
	UseJitter       bool          `yaml:"use_jitter"`
}

// RateLimitConfig combines an in-process token bucket per key with an
// optional Redis fixed window shared by every process.
type RateLimitConfig struct {
	Local  LocalRateLimitConfig  `yaml:"local"`
	Global GlobalRateLimitConfig `yaml:"global"`
}

// LocalRateLimitConfig configures the in-memory token buckets.
type LocalRateLimitConfig struct {
	Enabled         bool    `yaml:"enabled"`
	TokensPerSecond float64 `yaml:"tokens_per_second" validate:"gte=0"`
	BurstSize       int     `yaml:"burst_size" validate:"gte=0"`
}

// GlobalRateLimitConfig configures the Redis fixed window limit. When Redis
// is unreachable the limiter degrades to a local fallback bucket.
type GlobalRateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerSecond int           `yaml:"requests_per_second" validate:"gte=0"`
	RedisAddr         string        `yaml:"redis_addr" validate:"required_if=Enabled true"`
	RedisPassword     string        `yaml:"redis_password"`
	RedisDB           int           `yaml:"redis_db" validate:"gte=0"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout" validate:"gte=0"`
}

// ObservabilityConfig controls logging.
type ObservabilityConfig struct {
	LogLevel      string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFormat     string `yaml:"log_format" validate:"omitempty,oneof=json text"`
	RedactPrompts bool   `yaml:"redact_prompts"`
}
