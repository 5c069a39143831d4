// Command drafterd runs the report-drafting pipeline: either as a Temporal
// worker polling for report workflows, or as a one-shot local run that
// executes the pipeline directly without a Temporal server.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aelwyn/go-drafter/internal/config"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "drafterd",
		Short:        "Report drafting pipeline",
		Long:         "drafterd drives a generative model through a multi-step report pipeline,\nextracting typed records from free-form output and bundling the results.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "drafter.yaml", "path to the configuration file")

	root.AddCommand(newWorkerCmd())
	root.AddCommand(newDraftCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration and installs the process logger at
// the configured level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return cfg, nil
}
