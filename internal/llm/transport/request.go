// Package transport defines the request and response types of the generation
// client and the handler pipeline they flow through.
package transport

import (
	"fmt"
	"time"

	llmerrors "github.com/ahrav/go-evalrun/internal/llm/errors"
)

// OperationType distinguishes answer generation from judge calls. It is part
// of the rate limit key and is logged with every call.
type OperationType string

const (
	// OpGeneration produces an answer for a dataset line.
	OpGeneration OperationType = "generation"

	// OpJudge asks a judge model to score an answer.
	OpJudge OperationType = "judge"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Finish reasons, normalized across providers to the OpenAI vocabulary.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishToolCalls     = "tool_calls"
	FinishContentFilter = "content_filter"
)

// Tool choice values.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceNone     = "none"
	ToolChoiceRequired = "required"
)

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // Raw JSON as produced by the model.
}

// Message is one conversation turn. Assistant turns may carry ToolCalls, and
// tool turns carry the ToolCallID they answer.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Tool is a function schema offered to the model.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"` // JSON Schema object.
}

// Request is a provider-agnostic chat completion request.
type Request struct {
	Operation OperationType `json:"operation"`
	Provider  string        `json:"provider"` // "openai"|"anthropic"|"google"
	Model     string        `json:"model"`

	// BaseURL and APIKey override the provider configuration when set.
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"-"`

	Messages   []Message `json:"messages"`
	Tools      []Tool    `json:"tools,omitempty"`
	ToolChoice string    `json:"tool_choice,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   int64    `json:"max_tokens,omitempty"`

	Timeout time.Duration `json:"timeout"`
	TraceID string        `json:"trace_id,omitempty"`
}

// Validate rejects requests no provider could serve.
func (r *Request) Validate() error {
	switch {
	case r.Provider == "":
		return &llmerrors.ValidationError{Field: "provider", Message: "provider is required"}
	case r.Model == "":
		return &llmerrors.ValidationError{Field: "model", Message: "model is required"}
	case len(r.Messages) == 0:
		return &llmerrors.ValidationError{Field: "messages", Message: "at least one message is required"}
	}
	switch r.ToolChoice {
	case "", ToolChoiceAuto, ToolChoiceNone, ToolChoiceRequired:
	default:
		return &llmerrors.ValidationError{
			Field:   "tool_choice",
			Value:   r.ToolChoice,
			Message: fmt.Sprintf("unsupported tool choice %q", r.ToolChoice),
		}
	}
	return nil
}

// NormalizedUsage is token and latency accounting for one call.
type NormalizedUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	LatencyMs        int64 `json:"latency_ms"`
}

// Response is a provider-agnostic chat completion result.
type Response struct {
	Content      string          `json:"content"`
	FinishReason string          `json:"finish_reason"`
	ToolCalls    []ToolCall      `json:"tool_calls,omitempty"`
	Usage        NormalizedUsage `json:"usage"`
	RequestID    string          `json:"request_id,omitempty"`
}

// AssistantMessage returns the conversation turn that records r.
func (r *Response) AssistantMessage() Message {
	return Message{Role: RoleAssistant, Content: r.Content, ToolCalls: r.ToolCalls}
}
