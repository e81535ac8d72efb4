package providers

import (
	"context"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-evalrun/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-evalrun/internal/llm/errors"
	"github.com/ahrav/go-evalrun/internal/llm/transport"
)

func TestGoogle_RejectsTools(t *testing.T) {
	adapter := NewGoogle(configuration.ProviderConfig{APIKey: "k"})

	_, err := adapter.Complete(context.Background(), &transport.Request{
		Provider: configuration.ProviderGoogle,
		Model:    "gemini-1.5-flash",
		Messages: []transport.Message{{Role: transport.RoleUser, Content: "hi"}},
		Tools:    []transport.Tool{{Name: "search"}},
	})

	var valErr *llmerrors.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "tools", valErr.Field)
	assert.False(t, llmerrors.IsRetryableError(err))
	assert.NoError(t, adapter.Close())
}

func TestGeminiContents(t *testing.T) {
	system, history, last := geminiContents([]transport.Message{
		{Role: transport.RoleSystem, Content: "sys"},
		{Role: transport.RoleUser, Content: "first"},
		{Role: transport.RoleAssistant, Content: "reply"},
		{Role: transport.RoleUser, Content: "second"},
	})

	assert.Equal(t, "sys", system)
	assert.Equal(t, "second", last)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "model", history[1].Role)
	assert.Equal(t, genai.Text("reply"), history[1].Parts[0])
}

func TestGeminiContents_TrailingAssistant(t *testing.T) {
	_, history, last := geminiContents([]transport.Message{
		{Role: transport.RoleUser, Content: "q"},
		{Role: transport.RoleAssistant, Content: "a"},
	})
	assert.Empty(t, last)
	assert.Len(t, history, 2)
}

func TestGeminiFinishReason(t *testing.T) {
	assert.Equal(t, transport.FinishStop, geminiFinishReason(genai.FinishReasonStop))
	assert.Equal(t, transport.FinishLength, geminiFinishReason(genai.FinishReasonMaxTokens))
	assert.Equal(t, transport.FinishContentFilter, geminiFinishReason(genai.FinishReasonSafety))
	assert.Empty(t, geminiFinishReason(genai.FinishReasonUnspecified))
}
