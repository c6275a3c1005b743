// Package knowledge serves retrieval over the document base. Every search is
// bounded by a caller-specific visibility filter; there is no unscoped path.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/pgvector/pgvector-go"

	"github.com/tessera-ai/tessera/internal/log"
	"github.com/tessera-ai/tessera/internal/store"
)

// Querier is the slice of the store the service needs.
type Querier interface {
	SearchVisibleDocuments(ctx context.Context, arg store.SearchVisibleDocumentsParams) ([]store.SearchVisibleDocumentsRow, error)
	ListVisibleDocuments(ctx context.Context, arg store.ListVisibleDocumentsParams) ([]store.Document, error)
}

// Result is one retrieval hit.
type Result struct {
	Document   store.Document
	Similarity float32
}

// Service runs scoped semantic search.
type Service struct {
	queries  Querier
	embedder ai.Embedder
	logger   log.Logger
}

// New builds a Service over the given querier and embedder.
func New(queries Querier, embedder ai.Embedder, logger log.Logger) *Service {
	return &Service{queries: queries, embedder: embedder, logger: logger}
}

type searchConfig struct {
	topK    int32
	timeout time.Duration
}

// SearchOption tunes one search call.
type SearchOption func(*searchConfig)

// WithTopK sets the number of results to return.
func WithTopK(k int32) SearchOption {
	return func(c *searchConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithTimeout bounds the embedding plus search round trip.
func WithTimeout(d time.Duration) SearchOption {
	return func(c *searchConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func buildSearchConfig(opts []SearchOption) searchConfig {
	cfg := searchConfig{topK: 5, timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Search embeds the query and returns the most similar documents inside the
// caller's visibility scope, ordered by similarity.
func (s *Service) Search(ctx context.Context, query string, scope store.VisibilityFilter, opts ...SearchOption) ([]Result, error) {
	cfg := buildSearchConfig(opts)

	queryCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	embedding, err := s.embed(queryCtx, query)
	if err != nil {
		return nil, err
	}

	rows, err := s.queries.SearchVisibleDocuments(queryCtx, store.SearchVisibleDocumentsParams{
		QueryEmbedding: embedding,
		Filter:         scope,
		ResultLimit:    cfg.topK,
	})
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}

	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		results = append(results, Result{Document: row.Document, Similarity: row.Similarity})
	}
	s.logger.Debug("search completed", "results", len(results), "top_k", cfg.topK)
	return results, nil
}

// List returns the caller's visible documents, newest first.
func (s *Service) List(ctx context.Context, scope store.VisibilityFilter, limit int32) ([]store.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	docs, err := s.queries.ListVisibleDocuments(ctx, store.ListVisibleDocumentsParams{
		Filter:      scope,
		ResultLimit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

func (s *Service) embed(ctx context.Context, text string) (*pgvector.Vector, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{Content: []*ai.Part{ai.NewTextPart(text)}},
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("embedding timeout: %w", err)
		}
		return nil, fmt.Errorf("generate query embedding: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, errors.New("empty embedding returned for query")
	}
	v := pgvector.NewVector(resp.Embeddings[0].Embedding)
	return &v, nil
}
