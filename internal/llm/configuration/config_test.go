package configuration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, DefaultMaxAttempts, cfg.Retry.MaxAttempts)
	assert.Equal(t, DefaultInitialInterval, cfg.Retry.InitialInterval)
	assert.True(t, cfg.Retry.UseJitter)
	assert.True(t, cfg.RateLimit.Local.Enabled)
	assert.False(t, cfg.RateLimit.Global.Enabled)
	assert.Equal(t, DefaultConnectTimeout, cfg.RateLimit.Global.ConnectTimeout)
	assert.True(t, cfg.Observability.RedactPrompts)

	for _, name := range []string{ProviderOpenAI, ProviderAnthropic, ProviderGoogle} {
		assert.Contains(t, cfg.Providers, name)
	}
}

func TestProviderConfig_ResolveAPIKey(t *testing.T) {
	t.Setenv("EVALRUN_TEST_KEY", "from-env")

	tests := []struct {
		name string
		cfg  ProviderConfig
		want string
	}{
		{"literal wins", ProviderConfig{APIKey: "literal", APIKeyEnv: "EVALRUN_TEST_KEY"}, "literal"},
		{"env fallback", ProviderConfig{APIKeyEnv: "EVALRUN_TEST_KEY"}, "from-env"},
		{"unset", ProviderConfig{APIKeyEnv: "EVALRUN_TEST_UNSET_KEY"}, ""},
		{"empty", ProviderConfig{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.ResolveAPIKey())
		})
	}
}
