package transport

import (
	"context"
	"fmt"
	"time"
)

// Provider performs a chat completion against one vendor SDK.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Router selects the Provider for a request.
type Router interface {
	Pick(provider string) (Provider, error)
}

// Handler processes generation requests. Middlewares wrap a Handler to add
// cross-cutting behavior such as logging, retries and rate limiting.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, *Request) (*Response, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Middleware decorates a Handler.
type Middleware func(Handler) Handler

// Chain wraps h with middlewares. The first middleware is the outermost.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// NewProviderHandler returns the core handler that validates a request,
// applies its timeout and hands it to the routed provider.
func NewProviderHandler(router Router) Handler {
	return &providerHandler{router: router}
}

type providerHandler struct {
	router Router
}

// Handle implements Handler.
func (h *providerHandler) Handle(ctx context.Context, req *Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	provider, err := h.router.Pick(req.Provider)
	if err != nil {
		return nil, fmt.Errorf("failed to select provider: %w", err)
	}

	reqCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := provider.Complete(reqCtx, req)
	latency := time.Since(start)
	if err != nil {
		return nil, err
	}

	resp.Usage.LatencyMs = latency.Milliseconds()
	if resp.Usage.TotalTokens == 0 {
		resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
	}
	return resp, nil
}
