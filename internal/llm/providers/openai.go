package providers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ahrav/go-evalrun/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-evalrun/internal/llm/errors"
	"github.com/ahrav/go-evalrun/internal/llm/transport"
)

// OpenAI serves chat completions through the openai-go SDK. Any
// OpenAI-compatible endpoint works through a base URL override.
type OpenAI struct {
	config      configuration.ProviderConfig
	httpTimeout time.Duration
	clients     sync.Map // clientKey -> *openai.Client
}

// NewOpenAI creates the OpenAI adapter.
func NewOpenAI(cfg configuration.ProviderConfig, httpTimeout time.Duration) *OpenAI {
	return &OpenAI{config: cfg, httpTimeout: httpTimeout}
}

// Name returns the provider name.
func (a *OpenAI) Name() string { return configuration.ProviderOpenAI }

func (a *OpenAI) client(req *transport.Request) *openai.Client {
	key := resolveClientKey(a.config, req)
	if c, ok := a.clients.Load(key); ok {
		return c.(*openai.Client)
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

	c := openai.NewClient(opts...)
	actual, _ := a.clients.LoadOrStore(key, &c)
	return actual.(*openai.Client)
}

// Complete implements transport.Provider.
func (a *OpenAI) Complete(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	resp, err := a.client(req).Chat.Completions.New(ctx, openAIParams(req))
	if err != nil {
		return nil, translateError(a.Name(), err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", llmerrors.ErrInvalidResponse)
	}

	choice := resp.Choices[0]
	out := &transport.Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		RequestID:    resp.ID,
		Usage: transport.NormalizedUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, transport.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func openAIParams(req *transport.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: openAIMessages(req.Messages),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(req.MaxTokens)
	}

	if len(req.Tools) > 0 {
		params.Tools = make([]openai.ChatCompletionToolParam, len(req.Tools))
		for i, tool := range req.Tools {
			params.Tools[i] = openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  tool.Parameters,
				},
			}
		}
		if req.ToolChoice != "" {
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
				OfAuto: openai.String(req.ToolChoice),
			}
		}
	}
	return params
}

func openAIMessages(msgs []transport.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case transport.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case transport.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			assistant := &openai.ChatCompletionAssistantMessageParam{
				ToolCalls: make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls)),
			}
			if m.Content != "" {
				assistant.Content.OfString = openai.String(m.Content)
			}
			for i, tc := range m.ToolCalls {
				assistant.ToolCalls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case transport.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
