package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/tessera-ai/tessera/internal/log"
)

// WorkerRequest is the payload sent to the vectorizing worker.
type WorkerRequest struct {
	JobID          uuid.UUID   `json:"job_id"`
	DocumentID     uuid.UUID   `json:"document_id"`
	SourceRef      string      `json:"source_ref"`
	Filename       string      `json:"filename,omitempty"`
	MimeType       string      `json:"mime_type,omitempty"`
	Layer          string      `json:"layer"`
	OrgID          *uuid.UUID  `json:"org_id,omitempty"`
	TargetProjects []uuid.UUID `json:"target_projects,omitempty"`
	AudienceTags   []string    `json:"audience_tags,omitempty"`
}

// WorkerResponse is the worker's synchronous reply. Success is a pointer on
// purpose: a missing field means the worker accepted the job and will report
// the verdict later through the completion callback.
type WorkerResponse struct {
	Success     *bool  `json:"success"`
	TotalChunks int32  `json:"total_chunks"`
	Error       string `json:"error"`

	// Raw is the undecoded reply body, persisted for diagnosis.
	Raw []byte `json:"-"`
}

// Client sends ingestion work to the vectorizing worker.
type Client interface {
	Process(ctx context.Context, req WorkerRequest) (*WorkerResponse, error)
}

// HTTPClient talks to the worker over HTTP with bounded retries on
// transport-level failures.
type HTTPClient struct {
	endpoint string
	client   *retryablehttp.Client
}

// NewHTTPClient builds a worker client for the given endpoint.
func NewHTTPClient(endpoint string, timeout time.Duration, logger log.Logger) *HTTPClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = timeout
	rc.Logger = nil
	if logger != nil {
		rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
			if attempt > 0 {
				logger.Debug("retrying worker request", "url", req.URL.String(), "attempt", attempt)
			}
		}
	}
	return &HTTPClient{endpoint: endpoint, client: rc}
}

// Process posts the job to the worker and decodes its reply.
// Transport failures and non-2xx statuses return ErrTransport.
func (c *HTTPClient) Process(ctx context.Context, req WorkerRequest) (*WorkerResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode worker request: %w", err)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build worker request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read reply: %v", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: worker returned %d", ErrTransport, resp.StatusCode)
	}

	var wr WorkerResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &wr); err != nil {
			return nil, fmt.Errorf("%w: decode reply: %v", ErrTransport, err)
		}
	}
	wr.Raw = raw
	return &wr, nil
}
