package worker

import (
	"context"
	"fmt"

	"github.com/aelwyn/go-drafter/internal/artifacts"
	"github.com/aelwyn/go-drafter/internal/config"
	"github.com/aelwyn/go-drafter/internal/gateway"
)

// InitializeGatewayClient assembles the gateway client with its full
// middleware stack from configuration. Returned for dependency injection
// rather than stored in package state.
func InitializeGatewayClient(ctx context.Context, cfg *gateway.Config) (gateway.Client, error) {
	client, err := gateway.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize gateway client: %w", err)
	}
	return client, nil
}

// InitializeArtifactStore creates the artifact store selected by the
// configuration: in-memory for development and one-shot runs, SQLite for
// worker deployments. The caller owns the store and must Close it.
func InitializeArtifactStore(cfg config.ArtifactsConfig) (artifacts.Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		store, err := artifacts.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite artifact store: %w", err)
		}
		return store, nil
	case config.BackendMemory, "":
		return artifacts.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", cfg.Backend)
	}
}
