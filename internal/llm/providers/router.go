// Package providers adapts vendor SDKs to the transport.Provider interface.
//
// Each adapter converts a transport.Request into the vendor's chat format,
// calls the SDK with its own retries disabled, and normalizes the reply into a
// transport.Response. SDK failures are translated into llm/errors types so the
// retry middleware can classify them.
package providers

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ahrav/go-evalrun/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-evalrun/internal/llm/errors"
	"github.com/ahrav/go-evalrun/internal/llm/transport"
)

// Router holds one adapter per configured provider.
type Router struct {
	adapters map[string]transport.Provider
}

var _ transport.Router = (*Router)(nil)

// NewRouter creates a router with one adapter per configured provider.
// httpTimeout bounds every SDK HTTP call; zero leaves the SDK default.
func NewRouter(configs map[string]configuration.ProviderConfig, httpTimeout time.Duration) (*Router, error) {
	adapters := make(map[string]transport.Provider, len(configs))

	for name, cfg := range configs {
		var adapter transport.Provider
		switch name {
		case configuration.ProviderOpenAI:
			adapter = NewOpenAI(cfg, httpTimeout)
		case configuration.ProviderAnthropic:
			adapter = NewAnthropic(cfg, httpTimeout)
		case configuration.ProviderGoogle:
			adapter = NewGoogle(cfg)
		default:
			return nil, fmt.Errorf("%w: %s", llmerrors.ErrUnknownProvider, name)
		}
		adapters[name] = adapter
	}

	return &Router{adapters: adapters}, nil
}

// Pick returns the adapter for provider.
func (r *Router) Pick(provider string) (transport.Provider, error) {
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", llmerrors.ErrUnknownProvider, provider)
	}
	return adapter, nil
}

// Names lists the configured providers in sorted order.
func (r *Router) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases SDK clients that hold connections.
func (r *Router) Close() error {
	var errs []error
	for _, adapter := range r.adapters {
		if c, ok := adapter.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// clientKey identifies a cached SDK client. Models may carry their own base
// URL and key, so one adapter can serve several endpoints.
type clientKey struct {
	baseURL string
	apiKey  string
}

// resolveClientKey applies the request overrides on top of the provider
// configuration.
func resolveClientKey(cfg configuration.ProviderConfig, req *transport.Request) clientKey {
	key := clientKey{baseURL: cfg.Endpoint, apiKey: cfg.ResolveAPIKey()}
	if req.BaseURL != "" {
		key.baseURL = req.BaseURL
	}
	if req.APIKey != "" {
		key.apiKey = req.APIKey
	}
	return key
}
