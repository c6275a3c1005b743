package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tessera-ai/tessera/internal/app"
	"github.com/tessera-ai/tessera/internal/config"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Run a dispatcher-only node",
	Long: `Claims queued ingestion jobs and drives them through the vectorizing
worker. Use this to scale dispatch independently of the API; job claims
are exclusive, so any number of dispatch nodes can share one queue.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runDispatch(cmd.Context())
	},
}

func runDispatch(parent context.Context) error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		configHint()
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing application", "error", err)
		}
	}()

	a.Dispatcher.Start(ctx)
	logger.Info("dispatcher running",
		"workers", cfg.DispatchWorkers, "poll_ms", cfg.DispatchPollMs)

	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}
