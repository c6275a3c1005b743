// Package api exposes the ingestion pipeline and query router over HTTP.
//
// Endpoints:
//
//	GET   /health                   liveness probe
//	GET   /ready                    readiness probe (database ping)
//	POST  /api/jobs                 submit an ingestion job
//	GET   /api/jobs/{id}            job status
//	POST  /api/jobs/{id}/complete   worker completion callback
//	GET   /api/documents            list visible documents
//	PATCH /api/documents/{id}/retag change a document's audience
//	POST  /api/query                routed question answering
//
// Everything under /api requires a user bearer token, except the completion
// callback, which requires the vectorizing worker's service token instead;
// probes require nothing.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tessera-ai/tessera/internal/authz"
	"github.com/tessera-ai/tessera/internal/ingest"
	"github.com/tessera-ai/tessera/internal/knowledge"
	"github.com/tessera-ai/tessera/internal/log"
	"github.com/tessera-ai/tessera/internal/router"
	"github.com/tessera-ai/tessera/internal/store"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:3400"

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout guards against slow-header clients.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing a response.
	WriteTimeout = 60 * time.Second

	// IdleTimeout bounds keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Deps carries everything the server routes to.
type Deps struct {
	Queue     *ingest.Queue
	Router    *router.Router
	Knowledge *knowledge.Service
	Queries   *store.Queries
	Loader    *authz.Loader
	DB        Pinger

	JWTSecret []byte
	// WorkerToken authenticates the vectorizing worker's completion
	// callback. User tokens never pass that route.
	WorkerToken []byte
	RatePerSec  float64
	RateBurst   int
	TrustProxy  bool

	Logger log.Logger
}

// Server is the HTTP server for the REST API.
type Server struct {
	mux     *http.ServeMux
	limiter *rateLimiter
	deps    Deps
}

// NewServer creates the server with all routes registered.
func NewServer(deps Deps) *Server {
	mux := http.NewServeMux()

	health := NewHealthHandler(deps.DB)
	health.RegisterRoutes(mux)

	// Authenticated API surface.
	jobs := NewJobsHandler(deps.Queue, deps.Loader, deps.Logger)
	apiMux := http.NewServeMux()
	jobs.RegisterRoutes(apiMux)
	NewQueryHandler(deps.Router, deps.Loader, deps.Logger).RegisterRoutes(apiMux)
	NewDocumentsHandler(deps.Knowledge, deps.Queries, deps.Loader, deps.Logger).RegisterRoutes(apiMux)

	auth := NewAuthenticator(deps.JWTSecret, deps.Logger)
	mux.Handle("/api/", auth.Middleware(apiMux))

	// The completion callback is the worker's route, not a user's: it is
	// mounted outside the JWT middleware and gated on the service token.
	// The more specific pattern wins over the /api/ prefix above.
	workerAuth := workerAuthMiddleware(deps.WorkerToken, deps.Logger)
	mux.Handle("POST /api/jobs/{id}/complete", workerAuth(http.HandlerFunc(jobs.complete)))

	return &Server{
		mux:     mux,
		limiter: newRateLimiter(deps.RatePerSec, deps.RateBurst),
		deps:    deps,
	}
}

// Handler returns the handler with middleware applied.
// Order: recovery, logging, rate limiting, routes.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.deps.Logger),
		loggingMiddleware(s.deps.Logger),
		rateLimitMiddleware(s.limiter, s.deps.TrustProxy, s.deps.Logger),
	)
}

// Run starts the server and blocks until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.deps.Logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
