package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tessera-ai/tessera/api"
	"github.com/tessera-ai/tessera/internal/app"
	"github.com/tessera-ai/tessera/internal/config"
)

var flagNoDispatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with embedded ingestion dispatchers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&flagNoDispatch, "no-dispatch", false,
		"serve the API only; leave job dispatch to dedicated dispatch nodes")
}

func runServe(parent context.Context) error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		configHint()
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validating serve configuration: %w", err)
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

	if !flagNoDispatch {
		a.Dispatcher.Start(ctx)
		logger.Info("embedded dispatcher started",
			"workers", cfg.DispatchWorkers, "poll_ms", cfg.DispatchPollMs)
	}

	server := api.NewServer(api.Deps{
		Queue:     a.Queue,
		Router:    a.Router,
		Knowledge: a.Knowledge,
		Queries:   a.Queries,
		Loader:    a.Loader,
		DB:        a.DBPool,

		JWTSecret:   []byte(cfg.JWTSecret),
		WorkerToken: []byte(cfg.WorkerToken),
		RatePerSec:  cfg.RatePerSec,
		RateBurst:   cfg.RateBurst,
		TrustProxy:  cfg.TrustProxy,

		Logger: logger,
	})

	return server.Run(ctx, cfg.ListenAddr)
}
