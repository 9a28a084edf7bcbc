package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/site-indexer/internal/server"
)

// newServeCmd creates the 'serve' subcommand.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the REST API that triggers indexing runs",
		Long: `Starts the HTTP server exposing /api/startIndexing, /api/status,
/api/sites, health checks and Prometheus metrics. SIGINT or SIGTERM shuts the
server down and interrupts any in-flight run.`,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	app, err := server.Build(cmd.Context(), e.cfg, e.logger)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	if err := app.Run(cmd.Context()); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
