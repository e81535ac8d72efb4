package transport_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmerrors "github.com/ahrav/go-evalrun/internal/llm/errors"
	"github.com/ahrav/go-evalrun/internal/llm/transport"
)

type stubProvider struct {
	name     string
	resp     *transport.Response
	err      error
	deadline bool
	calls    int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Complete(ctx context.Context, _ *transport.Request) (*transport.Response, error) {
	p.calls++
	_, p.deadline = ctx.Deadline()
	if p.err != nil {
		return nil, p.err
	}
	resp := *p.resp
	return &resp, nil
}

type stubRouter map[string]transport.Provider

func (r stubRouter) Pick(name string) (transport.Provider, error) {
	p, ok := r[name]
	if !ok {
		return nil, llmerrors.ErrUnknownProvider
	}
	return p, nil
}

func userRequest() *transport.Request {
	return &transport.Request{
		Operation: transport.OpGeneration,
		Provider:  "openai",
		Model:     "gpt-4o-mini",
		Messages:  []transport.Message{{Role: transport.RoleUser, Content: "hi"}},
	}
}

func TestProviderHandler(t *testing.T) {
	provider := &stubProvider{
		name: "openai",
		resp: &transport.Response{
			Content:      "hello",
			FinishReason: transport.FinishStop,
			Usage:        transport.NormalizedUsage{PromptTokens: 3, CompletionTokens: 4},
		},
	}
	h := transport.NewProviderHandler(stubRouter{"openai": provider})

	t.Run("routes and fills usage", func(t *testing.T) {
		req := userRequest()
		req.Timeout = time.Minute
		resp, err := h.Handle(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "hello", resp.Content)
		assert.EqualValues(t, 7, resp.Usage.TotalTokens)
		assert.True(t, provider.deadline)
	})

	t.Run("no timeout leaves context unbounded", func(t *testing.T) {
		_, err := h.Handle(context.Background(), userRequest())
		require.NoError(t, err)
		assert.False(t, provider.deadline)
	})

	t.Run("unknown provider", func(t *testing.T) {
		req := userRequest()
		req.Provider = "mistral"
		_, err := h.Handle(context.Background(), req)
		assert.ErrorIs(t, err, llmerrors.ErrUnknownProvider)
	})

	t.Run("invalid request never reaches the provider", func(t *testing.T) {
		before := provider.calls
		req := userRequest()
		req.Messages = nil
		_, err := h.Handle(context.Background(), req)
		var valErr *llmerrors.ValidationError
		require.ErrorAs(t, err, &valErr)
		assert.Equal(t, "messages", valErr.Field)
		assert.Equal(t, before, provider.calls)
	})

	t.Run("provider error passes through", func(t *testing.T) {
		boom := errors.New("boom")
		failing := transport.NewProviderHandler(stubRouter{"openai": &stubProvider{name: "openai", err: boom}})
		_, err := failing.Handle(context.Background(), userRequest())
		assert.ErrorIs(t, err, boom)
	})
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*transport.Request)
		field  string
	}{
		{"missing provider", func(r *transport.Request) { r.Provider = "" }, "provider"},
		{"missing model", func(r *transport.Request) { r.Model = "" }, "model"},
		{"bad tool choice", func(r *transport.Request) { r.ToolChoice = "sometimes" }, "tool_choice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := userRequest()
			tt.mutate(req)
			var valErr *llmerrors.ValidationError
			require.ErrorAs(t, req.Validate(), &valErr)
			assert.Equal(t, tt.field, valErr.Field)
		})
	}

	req := userRequest()
	req.ToolChoice = transport.ToolChoiceNone
	assert.NoError(t, req.Validate())
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) transport.Middleware {
		return func(next transport.Handler) transport.Handler {
			return transport.HandlerFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
				order = append(order, name)
				return next.Handle(ctx, req)
			})
		}
	}
	core := transport.HandlerFunc(func(context.Context, *transport.Request) (*transport.Response, error) {
		order = append(order, "core")
		return &transport.Response{}, nil
	})

	_, err := transport.Chain(core, mw("outer"), mw("inner")).Handle(context.Background(), userRequest())
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner", "core"}, order)
}
