// Package config loads and validates the drafter configuration: gateway
// providers and middleware, drafting settings, Temporal connection, and
// artifact storage. Configuration is YAML with environment overrides for
// secrets, so API keys never need to live in the file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/aelwyn/go-drafter/internal/drafting"
	"github.com/aelwyn/go-drafter/internal/gateway"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Defaults applied when a config file leaves a field unset.
const (
	DefaultTemporalHostPort = "localhost:7233"
	DefaultNamespace        = "default"
	DefaultTaskQueue        = "report-drafting"
	DefaultSQLitePath       = "drafter-artifacts.db"

	envPrefix = "DRAFTER_"
)

// Artifact store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// TemporalConfig holds the Temporal client connection settings.
type TemporalConfig struct {
	// HostPort is the Temporal frontend address.
	HostPort string `yaml:"host_port" validate:"required"`

	// Namespace scopes workflows and task queues.
	Namespace string `yaml:"namespace" validate:"required"`

	// TaskQueue is the queue the worker polls and clients submit to.
	TaskQueue string `yaml:"task_queue" validate:"required"`
}

// ArtifactsConfig selects and parameterizes the artifact store backend.
type ArtifactsConfig struct {
	// Backend picks the store implementation.
	Backend string `yaml:"backend" validate:"required,oneof=memory sqlite"`

	// Path is the SQLite database file; ignored by the memory backend.
	Path string `yaml:"path"`
}

// Config is the complete drafter configuration.
type Config struct {
	// Gateway configures providers and the middleware stack.
	Gateway gateway.Config `yaml:"gateway"`

	// Drafting configures the generation settings shared by all
	// drafting activities.
	Drafting drafting.Config `yaml:"drafting"`

	// Temporal configures the workflow client and worker.
	Temporal TemporalConfig `yaml:"temporal"`

	// Artifacts configures draft and bundle storage.
	Artifacts ArtifactsConfig `yaml:"artifacts"`

	// Concurrency bounds simultaneous gateway-bound work units per run.
	// Zero means unlimited.
	Concurrency int `yaml:"concurrency" validate:"min=0"`

	// LogLevel sets the slog level for the process.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// Default returns a configuration with production-safe settings. The
// gateway carries no providers; a usable config needs at least one,
// normally from the file plus an API key from the environment.
func Default() *Config {
	return &Config{
		Gateway: *gateway.DefaultConfig(),
		Drafting: drafting.Config{
			Provider:    "google",
			Model:       "gemini-2.0-flash",
			Temperature: 0.2,
		},
		Temporal: TemporalConfig{
			HostPort:  DefaultTemporalHostPort,
			Namespace: DefaultNamespace,
			TaskQueue: DefaultTaskQueue,
		},
		Artifacts: ArtifactsConfig{
			Backend: BackendMemory,
			Path:    DefaultSQLitePath,
		},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides, and validates the result. Unknown YAML fields are rejected so
// typos surface at startup rather than as silently ignored settings.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides secrets from the environment. Supported variables:
// DRAFTER_<PROVIDER>_API_KEY per configured provider and
// DRAFTER_REDIS_PASSWORD for the cache.
func (c *Config) applyEnv() {
	for name, pc := range c.Gateway.Providers {
		key := envPrefix + strings.ToUpper(name) + "_API_KEY"
		if v, ok := os.LookupEnv(key); ok && v != "" {
			pc.APIKey = v
			c.Gateway.Providers[name] = pc
		}
	}
	if v, ok := os.LookupEnv(envPrefix + "REDIS_PASSWORD"); ok && v != "" {
		c.Gateway.Cache.RedisPassword = v
	}
}

// Validate checks the whole configuration, delegating to each component's
// own validator so error messages name the offending section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Gateway.Validate(); err != nil {
		return err
	}
	if err := c.Drafting.Validate(); err != nil {
		return fmt.Errorf("invalid drafting config: %w", err)
	}
	if c.Artifacts.Backend == BackendSQLite && c.Artifacts.Path == "" {
		return fmt.Errorf("invalid config: sqlite backend requires artifacts.path")
	}
	return nil
}
