package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/aelwyn/go-drafter/internal/worker"
	"github.com/aelwyn/go-drafter/pkg/events"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the Temporal worker hosting the report workflow",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			c, err := client.Dial(client.Options{
				HostPort:  cfg.Temporal.HostPort,
				Namespace: cfg.Temporal.Namespace,
			})
			if err != nil {
				return fmt.Errorf("connect to temporal at %s: %w", cfg.Temporal.HostPort, err)
			}
			defer c.Close()

			gw, err := worker.InitializeGatewayClient(cmd.Context(), &cfg.Gateway)
			if err != nil {
				return err
			}
			store, err := worker.InitializeArtifactStore(cfg.Artifacts)
			if err != nil {
				return err
			}
			defer store.Close()

			w := sdkworker.New(c, cfg.Temporal.TaskQueue, sdkworker.Options{
				BackgroundActivityContext: context.Background(),
			})
			worker.RegisterAll(w, gw, store, events.NewNoOpEventSink(), cfg.Drafting)

			slog.Info("worker starting",
				"task_queue", cfg.Temporal.TaskQueue,
				"namespace", cfg.Temporal.Namespace,
				"artifact_backend", cfg.Artifacts.Backend)
			if err := w.Run(sdkworker.InterruptCh()); err != nil {
				return fmt.Errorf("worker stopped: %w", err)
			}
			return nil
		},
	}
}
