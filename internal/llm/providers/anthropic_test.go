package providers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-evalrun/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-evalrun/internal/llm/errors"
	"github.com/ahrav/go-evalrun/internal/llm/transport"
)

func TestAnthropic_CompleteToolUse(t *testing.T) {
	srv := newFakeChatServer(t, http.StatusOK, `{
		"id": "msg_1",
		"type": "message",
		"role": "assistant",
		"model": "claude-3-5-haiku-latest",
		"content": [
			{"type": "text", "text": "Let me look."},
			{"type": "tool_use", "id": "toolu_1", "name": "search_docs", "input": {"q": "go"}}
		],
		"stop_reason": "tool_use",
		"stop_sequence": null,
		"usage": {"input_tokens": 30, "output_tokens": 9}
	}`, nil)

	adapter := NewAnthropic(configuration.ProviderConfig{Endpoint: srv.URL + "/", APIKey: "k"}, 0)
	resp, err := adapter.Complete(context.Background(), &transport.Request{
		Provider:   configuration.ProviderAnthropic,
		Model:      "claude-3-5-haiku-latest",
		ToolChoice: transport.ToolChoiceAuto,
		Tools: []transport.Tool{{
			Name:       "search_docs",
			Parameters: map[string]any{"type": "object", "properties": map[string]any{"q": map[string]any{"type": "string"}}, "required": []any{"q"}},
		}},
		Messages: []transport.Message{
			{Role: transport.RoleSystem, Content: "be helpful"},
			{Role: transport.RoleUser, Content: "find go"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Let me look.", resp.Content)
	assert.Equal(t, transport.FinishToolCalls, resp.FinishReason)
	assert.Equal(t, "msg_1", resp.RequestID)
	assert.EqualValues(t, 30, resp.Usage.PromptTokens)
	assert.EqualValues(t, 9, resp.Usage.CompletionTokens)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "search_docs", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"q":"go"}`, resp.ToolCalls[0].Arguments)

	sent := srv.request()
	assert.EqualValues(t, DefaultAnthropicMaxTokens, sent["max_tokens"])
	assert.NotNil(t, sent["system"])
	msgs := sent["messages"].([]any)
	require.Len(t, msgs, 1, "system prompt is not a message")
	tools := sent["tools"].([]any)
	require.Len(t, tools, 1)
	assert.Equal(t, "search_docs", tools[0].(map[string]any)["name"])
}

func TestAnthropic_ErrorTranslation(t *testing.T) {
	srv := newFakeChatServer(t, 529,
		`{"type": "error", "error": {"type": "overloaded_error", "message": "Overloaded"}}`, nil)

	adapter := NewAnthropic(configuration.ProviderConfig{Endpoint: srv.URL + "/", APIKey: "k"}, 0)
	_, err := adapter.Complete(context.Background(), &transport.Request{
		Provider: configuration.ProviderAnthropic,
		Model:    "claude-3-5-haiku-latest",
		Messages: []transport.Message{{Role: transport.RoleUser, Content: "hi"}},
	})

	var provErr *llmerrors.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, 529, provErr.StatusCode)
	assert.Equal(t, llmerrors.ErrorTypeProvider, provErr.Type)
	assert.True(t, provErr.IsRetryable())
	assert.EqualValues(t, 1, srv.calls.Load())
}

func TestAnthropicMessages_FoldsToolResults(t *testing.T) {
	system, msgs := anthropicMessages([]transport.Message{
		{Role: transport.RoleSystem, Content: "a"},
		{Role: transport.RoleSystem, Content: "b"},
		{Role: transport.RoleUser, Content: "q"},
		{Role: transport.RoleAssistant, ToolCalls: []transport.ToolCall{
			{ID: "t1", Name: "search", Arguments: `{"q":1}`},
			{ID: "t2", Name: "search", Arguments: `not json`},
		}},
		{Role: transport.RoleTool, ToolCallID: "t1", Content: "r1"},
		{Role: transport.RoleTool, ToolCallID: "t2", Content: "r2"},
	})

	assert.Equal(t, "a\n\nb", system)
	require.Len(t, msgs, 3)
	assert.Len(t, msgs[1].Content, 2)
	assert.Len(t, msgs[2].Content, 2, "tool results share one user turn")
}

func TestAnthropicFinishReason(t *testing.T) {
	tests := map[string]string{
		"end_turn":      transport.FinishStop,
		"stop_sequence": transport.FinishStop,
		"max_tokens":    transport.FinishLength,
		"tool_use":      transport.FinishToolCalls,
		"refusal":       transport.FinishContentFilter,
		"pause_turn":    "pause_turn",
	}
	for in, want := range tests {
		assert.Equal(t, want, anthropicFinishReason(in), in)
	}
}

func TestToolInput(t *testing.T) {
	assert.Equal(t, map[string]any{}, toolInput(""))
	assert.Equal(t, map[string]any{}, toolInput("{broken"))
	assert.Equal(t, map[string]any{"q": "go"}, toolInput(`{"q":"go"}`))
}
