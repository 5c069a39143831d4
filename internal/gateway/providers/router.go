// Package providers implements the HTTP adapters for each supported
// generative service. Every adapter translates a normalized gateway
// request into the provider's wire format and parses the response back,
// so the rest of the gateway never sees provider-specific shapes.
package providers

import (
	"fmt"

	"github.com/aelwyn/go-drafter/internal/gateway/gerrors"
	"github.com/aelwyn/go-drafter/internal/gateway/transport"
)

// Supported provider identifiers. These constants must match the
// provider names used in configuration.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// Config holds the connection settings for one provider.
type Config struct {
	// APIKey authenticates with the provider.
	APIKey string `json:"-" yaml:"api_key" validate:"required"`

	// Endpoint overrides the provider's default API base URL. Used for
	// proxies and test servers.
	Endpoint string `json:"endpoint" yaml:"endpoint" validate:"omitempty,url"`

	// Headers are added to every request to this provider.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// NewRouter creates a router with an adapter per configured provider.
// Unknown provider names are rejected at construction rather than at
// request time.
func NewRouter(configs map[string]Config) (transport.Router, error) {
	adapters := make(map[string]transport.ProviderAdapter, len(configs))
	for name, cfg := range configs {
		switch name {
		case ProviderOpenAI:
			adapters[name] = NewOpenAIAdapter(cfg)
		case ProviderAnthropic:
			adapters[name] = NewAnthropicAdapter(cfg)
		case ProviderGoogle:
			adapters[name] = NewGoogleAdapter(cfg)
		default:
			return nil, fmt.Errorf("%w: %s", gerrors.ErrUnknownProvider, name)
		}
	}
	return &router{adapters: adapters}, nil
}

type router struct {
	adapters map[string]transport.ProviderAdapter
}

// Pick selects the adapter for the given provider name.
func (r *router) Pick(provider, _ string) (transport.ProviderAdapter, error) {
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", gerrors.ErrUnknownProvider, provider)
	}
	return adapter, nil
}
