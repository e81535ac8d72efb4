package configuration

import (
	"time"
)

// HTTP constants.
const (
	DefaultHTTPTimeoutSeconds  = 30
	ServerErrorStatusThreshold = 500
)

// Retry constants.
const (
	DefaultMaxAttempts       = 3
	DefaultMaxElapsedTime    = 45 * time.Second
	DefaultInitialInterval   = 250 * time.Millisecond
	DefaultMaxInterval       = 5 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// Rate limiting constants.
const (
	DefaultTokensPerSecond = 10
	DefaultBurstSize       = 20
	DefaultConnectTimeout  = 5 * time.Second
)

// Provider names and their API key environment variables.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"

	DefaultOpenAIKeyEnv    = "OPENAI_API_KEY"
	DefaultAnthropicKeyEnv = "ANTHROPIC_API_KEY"
	DefaultGoogleKeyEnv    = "GOOGLE_API_KEY"
)

// DefaultConfig returns the client configuration used when nothing is
// configured: every provider reads its key from the conventional environment
// variable, local rate limiting is on and the global limit is off.
func DefaultConfig() *Config {
	return &Config{
		HTTPTimeout: DefaultHTTPTimeoutSeconds * time.Second,
		Providers: map[string]ProviderConfig{
			ProviderOpenAI:    {APIKeyEnv: DefaultOpenAIKeyEnv},
			ProviderAnthropic: {APIKeyEnv: DefaultAnthropicKeyEnv},
			ProviderGoogle:    {APIKeyEnv: DefaultGoogleKeyEnv},
		},
		Retry: RetryConfig{
			MaxAttempts:     DefaultMaxAttempts,
			MaxElapsedTime:  DefaultMaxElapsedTime,
			InitialInterval: DefaultInitialInterval,
			MaxInterval:     DefaultMaxInterval,
			Multiplier:      DefaultBackoffMultiplier,
			UseJitter:       true,
		},
		RateLimit: RateLimitConfig{
			Local: LocalRateLimitConfig{
				Enabled:         true,
				TokensPerSecond: DefaultTokensPerSecond,
				BurstSize:       DefaultBurstSize,
			},
			Global: GlobalRateLimitConfig{
				RequestsPerSecond: DefaultTokensPerSecond,
				ConnectTimeout:    DefaultConnectTimeout,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:      "info",
			LogFormat:     "json",
			RedactPrompts: true,
		},
	}
}
