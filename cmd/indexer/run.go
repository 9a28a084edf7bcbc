package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-indexer/internal/crawler"
	"github.com/JakeFAU/site-indexer/internal/server"
)

const closeTimeout = 30 * time.Second

// newRunCmd creates the 'run' subcommand.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Indexes every configured site once and exits",
		Long: `Performs one full indexing run over the configured sites, in order,
and exits. The command fails when any site ends in the FAILED status.`,
		RunE: runRunCommand,
	}
}

func runRunCommand(cmd *cobra.Command, _ []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	app, err := server.Build(cmd.Context(), e.cfg, e.logger)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if cerr := app.Close(ctx); cerr != nil {
			e.logger.Warn("close application failed", zap.Error(cerr))
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run, err := app.Coordinator().RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("indexing run: %w", err)
	}

	results := run.Results()
	failed := 0
	for _, res := range results {
		fields := []zap.Field{
			zap.String("url", res.Seed.URL),
			zap.String("site_id", res.SiteID),
			zap.String("status", string(res.Status)),
			zap.Int("pages", res.Outcome.PagesRecorded),
			zap.Int("fetch_failures", res.Outcome.FetchFailures),
		}
		if res.Err != nil || res.Status != crawler.SiteStatusIndexed {
			failed++
			e.logger.Warn("site not indexed", append(fields, zap.Error(res.Err))...)
			continue
		}
		e.logger.Info("site indexed", fields...)
	}
	e.logger.Info("indexing run complete",
		zap.String("run_id", run.ID),
		zap.Int("sites", len(results)),
		zap.Int("failed", failed),
		zap.Duration("duration", run.FinishedAt().Sub(run.StartedAt)),
	)
	if failed > 0 {
		return fmt.Errorf("%d of %d sites were not indexed", failed, len(results))
	}
	return nil
}
