package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/ahrav/go-evalrun/internal/llm/configuration"
	"github.com/ahrav/go-evalrun/internal/llm/transport"
)

// DefaultAnthropicMaxTokens is sent when a request sets no limit; the
// Messages API requires one.
const DefaultAnthropicMaxTokens = 4096

// Anthropic serves chat completions through the Messages API.
type Anthropic struct {
	config      configuration.ProviderConfig
	httpTimeout time.Duration
	clients     sync.Map // clientKey -> *anthropic.Client
}

// NewAnthropic creates the Anthropic adapter.
func NewAnthropic(cfg configuration.ProviderConfig, httpTimeout time.Duration) *Anthropic {
	return &Anthropic{config: cfg, httpTimeout: httpTimeout}
}

// Name returns the provider name.
func (a *Anthropic) Name() string { return configuration.ProviderAnthropic }

func (a *Anthropic) client(req *transport.Request) *anthropic.Client {
	key := resolveClientKey(a.config, req)
	if c, ok := a.clients.Load(key); ok {
		return c.(*anthropic.Client)
	}

	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if key.apiKey != "" {
		opts = append(opts, option.WithAPIKey(key.apiKey))
	}
	if key.baseURL != "" {
		opts = append(opts, option.WithBaseURL(key.baseURL))
	}
	if a.httpTimeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: a.httpTimeout}))
	}
	for k, v := range a.config.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}

	c := anthropic.NewClient(opts...)
	actual, _ := a.clients.LoadOrStore(key, &c)
	return actual.(*anthropic.Client)
}

// Complete implements transport.Provider.
func (a *Anthropic) Complete(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	resp, err := a.client(req).Messages.New(ctx, anthropicParams(req))
	if err != nil {
		return nil, translateError(a.Name(), err)
	}

	out := &transport.Response{
		FinishReason: anthropicFinishReason(string(resp.StopReason)),
		RequestID:    resp.ID,
		Usage: transport.NormalizedUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
		},
	}

	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			use := block.AsToolUse()
			out.ToolCalls = append(out.ToolCalls, transport.ToolCall{
				ID:        use.ID,
				Name:      use.Name,
				Arguments: string(use.Input),
			})
		}
	}
	out.Content = text.String()
	return out, nil
}

func anthropicFinishReason(stop string) string {
	switch stop {
	case "end_turn", "stop_sequence":
		return transport.FinishStop
	case "max_tokens":
		return transport.FinishLength
	case "tool_use":
		return transport.FinishToolCalls
	case "refusal":
		return transport.FinishContentFilter
	default:
		return stop
	}
}

func anthropicParams(req *transport.Request) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultAnthropicMaxTokens
	}

	system, messages := anthropicMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}

	if len(req.Tools) > 0 {
		params.Tools = make([]anthropic.ToolUnionParam, len(req.Tools))
		for i, tool := range req.Tools {
			params.Tools[i] = anthropicTool(tool)
		}
		switch req.ToolChoice {
		case transport.ToolChoiceNone:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
		case transport.ToolChoiceRequired:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		case transport.ToolChoiceAuto:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}
	return params
}

func anthropicTool(tool transport.Tool) anthropic.ToolUnionParam {
	schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
	if props, ok := tool.Parameters["properties"]; ok {
		schema.Properties = props
	}
	switch required := tool.Parameters["required"].(type) {
	case []string:
		schema.Required = required
	case []any:
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}

	union := anthropic.ToolUnionParamOfTool(schema, tool.Name)
	if tool.Description != "" && union.OfTool != nil {
		union.OfTool.Description = anthropic.String(tool.Description)
	}
	return union
}

// anthropicMessages splits out the system prompt and folds consecutive tool
// results into the single user turn the Messages API expects after a
// tool_use turn.
func anthropicMessages(msgs []transport.Message) (string, []anthropic.MessageParam) {
	var (
		system  []string
		out     []anthropic.MessageParam
		results []anthropic.ContentBlockParamUnion
	)
	flush := func() {
		if len(results) > 0 {
			out = append(out, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, m := range msgs {
		if m.Role == transport.RoleTool {
			results = append(results, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
			continue
		}
		flush()

		switch m.Role {
		case transport.RoleSystem:
			system = append(system, m.Content)
		case transport.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, toolInput(tc.Arguments), tc.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	flush()

	return strings.Join(system, "\n\n"), out
}

// toolInput decodes model-produced arguments, falling back to an empty
// object when they are not valid JSON.
func toolInput(arguments string) any {
	input := map[string]any{}
	if arguments == "" {
		return input
	}
	if err := json.Unmarshal([]byte(arguments), &input); err != nil {
		return map[string]any{}
	}
	return input
}
