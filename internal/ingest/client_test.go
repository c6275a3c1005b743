package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tessera-ai/tessera/internal/log"
)

func TestHTTPClientProcess(t *testing.T) {
	t.Run("synchronous verdict", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req WorkerRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode request: %v", err)
			}
			if req.SourceRef != "s3://bucket/a.pdf" {
				t.Errorf("source_ref = %q", req.SourceRef)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"success": true, "total_chunks": 9}`))
		}))
		defer srv.Close()

		c := NewHTTPClient(srv.URL, 5*time.Second, log.NewNop())
		resp, err := c.Process(context.Background(), WorkerRequest{
			JobID:     uuid.New(),
			SourceRef: "s3://bucket/a.pdf",
			Layer:     "app",
		})
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if resp.Success == nil || !*resp.Success {
			t.Errorf("Success = %v, want true", resp.Success)
		}
		if resp.TotalChunks != 9 {
			t.Errorf("TotalChunks = %d, want 9", resp.TotalChunks)
		}
		if len(resp.Raw) == 0 {
			t.Error("Raw reply body not preserved")
		}
	})

	t.Run("accepted without verdict", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"accepted": true}`))
		}))
		defer srv.Close()

		c := NewHTTPClient(srv.URL, 5*time.Second, log.NewNop())
		resp, err := c.Process(context.Background(), WorkerRequest{JobID: uuid.New(), Layer: "app"})
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if resp.Success != nil {
			t.Errorf("Success = %v, want nil for deferred verdict", *resp.Success)
		}
	})

	t.Run("server error is a transport failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "boom", http.StatusBadRequest)
		}))
		defer srv.Close()

		c := NewHTTPClient(srv.URL, 5*time.Second, log.NewNop())
		_, err := c.Process(context.Background(), WorkerRequest{JobID: uuid.New(), Layer: "app"})
		if !errors.Is(err, ErrTransport) {
			t.Errorf("Process() error = %v, want ErrTransport", err)
		}
	})

	t.Run("unreachable worker is a transport failure", func(t *testing.T) {
		c := NewHTTPClient("http://127.0.0.1:1", 500*time.Millisecond, log.NewNop())
		_, err := c.Process(context.Background(), WorkerRequest{JobID: uuid.New(), Layer: "app"})
		if !errors.Is(err, ErrTransport) {
			t.Errorf("Process() error = %v, want ErrTransport", err)
		}
	})
}
