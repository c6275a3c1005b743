package knowledge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/google/uuid"

	"github.com/tessera-ai/tessera/internal/log"
	"github.com/tessera-ai/tessera/internal/store"
)

// mockEmbedder implements ai.Embedder for testing.
type mockEmbedder struct {
	embedErr    error
	returnEmpty bool
	delay       time.Duration
	lastInput   string
	callCount   int
}

func (m *mockEmbedder) Name() string { return "mock-embedder" }

func (m *mockEmbedder) Register(_ api.Registry) {}

func (m *mockEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	m.callCount++
	if len(req.Input) > 0 && len(req.Input[0].Content) > 0 {
		m.lastInput = req.Input[0].Content[0].Text
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	if m.returnEmpty {
		return &ai.EmbedResponse{Embeddings: []*ai.Embedding{{Embedding: []float32{}}}}, nil
	}
	return &ai.EmbedResponse{
		Embeddings: []*ai.Embedding{{Embedding: []float32{0.1, 0.2, 0.3}}},
	}, nil
}

type fakeQuerier struct {
	searchRows   []store.SearchVisibleDocumentsRow
	searchErr    error
	lastSearch   *store.SearchVisibleDocumentsParams
	listDocs     []store.Document
	lastListArgs *store.ListVisibleDocumentsParams
}

func (f *fakeQuerier) SearchVisibleDocuments(_ context.Context, arg store.SearchVisibleDocumentsParams) ([]store.SearchVisibleDocumentsRow, error) {
	f.lastSearch = &arg
	return f.searchRows, f.searchErr
}

func (f *fakeQuerier) ListVisibleDocuments(_ context.Context, arg store.ListVisibleDocumentsParams) ([]store.Document, error) {
	f.lastListArgs = &arg
	return f.listDocs, nil
}

func TestServiceSearch(t *testing.T) {
	ctx := context.Background()
	caller := uuid.New()
	scope := store.VisibilityFilter{CallerID: caller}

	t.Run("passes scope and topK through", func(t *testing.T) {
		querier := &fakeQuerier{searchRows: []store.SearchVisibleDocumentsRow{
			{Document: store.Document{Filename: "a.pdf"}, Similarity: 0.91},
		}}
		svc := New(querier, &mockEmbedder{}, log.NewNop())

		results, err := svc.Search(ctx, "refund policy", scope, WithTopK(7))
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(results) != 1 || results[0].Similarity != 0.91 {
			t.Errorf("results = %+v", results)
		}
		if querier.lastSearch.ResultLimit != 7 {
			t.Errorf("topK = %d, want 7", querier.lastSearch.ResultLimit)
		}
		if querier.lastSearch.Filter.CallerID != caller {
			t.Error("visibility filter did not reach the query")
		}
		if querier.lastSearch.QueryEmbedding == nil {
			t.Error("query embedding missing")
		}
	})

	t.Run("default topK", func(t *testing.T) {
		querier := &fakeQuerier{}
		svc := New(querier, &mockEmbedder{}, log.NewNop())
		if _, err := svc.Search(ctx, "q", scope); err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if querier.lastSearch.ResultLimit != 5 {
			t.Errorf("default topK = %d, want 5", querier.lastSearch.ResultLimit)
		}
	})

	t.Run("embedder failure", func(t *testing.T) {
		svc := New(&fakeQuerier{}, &mockEmbedder{embedErr: errors.New("quota exceeded")}, log.NewNop())
		if _, err := svc.Search(ctx, "q", scope); err == nil {
			t.Error("Search() error = nil, want embedding error")
		}
	})

	t.Run("empty embedding", func(t *testing.T) {
		svc := New(&fakeQuerier{}, &mockEmbedder{returnEmpty: true}, log.NewNop())
		if _, err := svc.Search(ctx, "q", scope); err == nil {
			t.Error("Search() error = nil, want empty embedding error")
		}
	})

	t.Run("timeout cancels embedding", func(t *testing.T) {
		svc := New(&fakeQuerier{}, &mockEmbedder{delay: time.Second}, log.NewNop())
		_, err := svc.Search(ctx, "q", scope, WithTimeout(20*time.Millisecond))
		if err == nil {
			t.Error("Search() error = nil, want timeout")
		}
	})
}

func TestServiceList(t *testing.T) {
	querier := &fakeQuerier{listDocs: []store.Document{{Filename: "a.pdf"}}}
	svc := New(querier, &mockEmbedder{}, log.NewNop())

	docs, err := svc.List(context.Background(), store.VisibilityFilter{}, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("docs = %d, want 1", len(docs))
	}
	if querier.lastListArgs.ResultLimit != 50 {
		t.Errorf("default limit = %d, want 50", querier.lastListArgs.ResultLimit)
	}
}
