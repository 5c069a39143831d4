package gateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/aelwyn/go-drafter/internal/gateway/cache"
	"github.com/aelwyn/go-drafter/internal/gateway/providers"
	"github.com/aelwyn/go-drafter/internal/gateway/ratelimit"
	"github.com/aelwyn/go-drafter/internal/gateway/retry"
)

// HTTP and connection constants.
const (
	DefaultMaxIdleConns       = 100
	DefaultIdleTimeoutSeconds = 90
	DefaultTLSTimeoutSeconds  = 10
	DefaultHTTPTimeout        = 60 * time.Second
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config holds the full gateway configuration: provider credentials plus
// the settings of every middleware in the stack.
type Config struct {
	// HTTPTimeout bounds one provider exchange when the request itself
	// carries no timeout.
	HTTPTimeout time.Duration `json:"http_timeout" yaml:"http_timeout"`

	// HTTPClient overrides the default pooled client, mainly for tests.
	HTTPClient *http.Client `json:"-" yaml:"-"`

	// Providers maps provider name to its connection settings.
	Providers map[string]providers.Config `json:"providers" yaml:"providers" validate:"required,min=1"`

	// Retry configures the retry middleware.
	Retry retry.Config `json:"retry" yaml:"retry"`

	// RateLimit configures the local admission limiter.
	RateLimit ratelimit.Config `json:"rate_limit" yaml:"rate_limit"`

	// Cache configures the Redis response cache.
	Cache cache.Config `json:"cache" yaml:"cache"`

	// RedactPrompts suppresses prompt content in logs.
	RedactPrompts bool `json:"redact_prompts" yaml:"redact_prompts"`
}

// DefaultConfig returns a configuration with production-safe middleware
// settings and no providers; callers must add at least one provider.
func DefaultConfig() *Config {
	return &Config{
		HTTPTimeout: DefaultHTTPTimeout,
		Providers:   map[string]providers.Config{},
		Retry:       retry.DefaultConfig(),
		RateLimit:   ratelimit.DefaultConfig(),
		Cache:       cache.DefaultConfig(),
	}
}

// Validate checks the configuration for structural problems before the
// client is assembled.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid gateway config: %w", err)
	}
	return nil
}
