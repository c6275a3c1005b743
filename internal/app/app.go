// Package app provides application initialization and dependency wiring.
//
// App is the container that owns shared resources (database pool, Genkit,
// tracing) and the domain services built on them: the ingestion queue and
// dispatcher, the authorization loader, and the query router.
package app

import (
	"context"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tessera-ai/tessera/internal/authz"
	"github.com/tessera-ai/tessera/internal/config"
	"github.com/tessera-ai/tessera/internal/ingest"
	"github.com/tessera-ai/tessera/internal/knowledge"
	"github.com/tessera-ai/tessera/internal/log"
	"github.com/tessera-ai/tessera/internal/router"
	"github.com/tessera-ai/tessera/internal/store"
)

// App is the application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool
	Queries  *store.Queries

	Queue      *ingest.Queue
	Dispatcher *ingest.Dispatcher
	Loader     *authz.Loader
	Knowledge  *knowledge.Service
	Router     *router.Router

	otelCleanup func()
	cancel      context.CancelFunc
}

// Close releases all resources in reverse initialization order. Safe to call
// on a partially initialized App.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	if a.cancel != nil {
		a.cancel()
	}
	if a.Dispatcher != nil {
		a.Dispatcher.Stop()
	}
	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Info("database pool closed")
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}
