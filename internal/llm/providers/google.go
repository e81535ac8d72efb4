package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/ahrav/go-evalrun/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-evalrun/internal/llm/errors"
	"github.com/ahrav/go-evalrun/internal/llm/transport"
)

// Google serves Gemini models through generative-ai-go. It is text only:
// requests that offer tools are rejected.
type Google struct {
	config configuration.ProviderConfig

	mu      sync.Mutex
	clients map[clientKey]*genai.Client
}

// NewGoogle creates the Google adapter.
func NewGoogle(cfg configuration.ProviderConfig) *Google {
	return &Google{config: cfg, clients: make(map[clientKey]*genai.Client)}
}

// Name returns the provider name.
func (a *Google) Name() string { return configuration.ProviderGoogle }

func (a *Google) client(ctx context.Context, req *transport.Request) (*genai.Client, error) {
	key := resolveClientKey(a.config, req)

	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.clients[key]; ok {
		return c, nil
	}

	opts := []option.ClientOption{option.WithAPIKey(key.apiKey)}
	if key.baseURL != "" {
		opts = append(opts, option.WithEndpoint(key.baseURL))
	}
	// The client outlives the request, so it must not inherit its deadline.
	c, err := genai.NewClient(context.WithoutCancel(ctx), opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	a.clients[key] = c
	return c, nil
}

// Complete implements transport.Provider.
func (a *Google) Complete(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if len(req.Tools) > 0 {
		return nil, &llmerrors.ValidationError{
			Field:   "tools",
			Message: "tool calling is not supported by the google provider",
		}
	}

	client, err := a.client(ctx, req)
	if err != nil {
		return nil, err
	}

	model := client.GenerativeModel(req.Model)
	if req.Temperature != nil {
		model.SetTemperature(float32(*req.Temperature))
	}
	if req.TopP != nil {
		model.SetTopP(float32(*req.TopP))
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	system, history, last := geminiContents(req.Messages)
	if system != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}
	chat := model.StartChat()
	chat.History = history

	resp, err := chat.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return nil, translateError(a.Name(), err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates returned", llmerrors.ErrInvalidResponse)
	}

	cand := resp.Candidates[0]
	out := &transport.Response{FinishReason: geminiFinishReason(cand.FinishReason)}
	if cand.Content != nil {
		var text strings.Builder
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text.WriteString(string(t))
			}
		}
		out.Content = text.String()
	}
	if resp.UsageMetadata != nil {
		out.Usage.PromptTokens = int64(resp.UsageMetadata.PromptTokenCount)
		out.Usage.CompletionTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
		out.Usage.TotalTokens = int64(resp.UsageMetadata.TotalTokenCount)
	}
	return out, nil
}

// Close releases every cached client.
func (a *Google) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	for key, c := range a.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(a.clients, key)
	}
	return errors.Join(errs...)
}

func geminiFinishReason(r genai.FinishReason) string {
	switch r {
	case genai.FinishReasonStop:
		return transport.FinishStop
	case genai.FinishReasonMaxTokens:
		return transport.FinishLength
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		return transport.FinishContentFilter
	default:
		return ""
	}
}

// geminiContents splits messages into the system instruction, the chat
// history and the final user text sent with SendMessage. Tool turns have no
// place in a text-only conversation and are folded into user text.
func geminiContents(msgs []transport.Message) (string, []*genai.Content, string) {
	var (
		system []string
		turns  []transport.Message
	)
	for _, m := range msgs {
		if m.Role == transport.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}

	var last string
	if n := len(turns); n > 0 && turns[n-1].Role != transport.RoleAssistant {
		last = turns[n-1].Content
		turns = turns[:n-1]
	}

	history := make([]*genai.Content, 0, len(turns))
	for _, m := range turns {
		role := "user"
		if m.Role == transport.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return strings.Join(system, "\n\n"), history, last
}
