// Package ingest runs the document ingestion pipeline: durable job queue,
// dispatch to the vectorizing worker, and the completion arbiter that makes
// every job converge on exactly one terminal outcome.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tessera-ai/tessera/internal/log"
	"github.com/tessera-ai/tessera/internal/store"
)

// Sentinel errors for the pipeline's failure modes.
var (
	// ErrValidation indicates a submission that violates a layer invariant.
	ErrValidation = errors.New("ingest: invalid submission")
	// ErrTransport indicates the worker could not be reached or replied
	// with a transport-level failure.
	ErrTransport = errors.New("ingest: worker transport failure")
	// ErrJobNotFound indicates a completion for an unknown job id.
	ErrJobNotFound = errors.New("ingest: job not found")
)

// DB is the connection surface the queue needs: plain queries plus
// transactions. *pgxpool.Pool satisfies it.
type DB interface {
	store.DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Options tune retry and backoff behavior.
type Options struct {
	// MaxAttempts is the per-job retry budget.
	MaxAttempts int32
	// BackoffBase is the base of the exponential backoff, in minutes:
	// attempt n schedules the next retry BackoffBase^n minutes out.
	BackoffBase int32
	// StaleAfter is how long a job may sit in dispatched before the reaper
	// treats its dispatcher as dead and returns it to the queue. Must be
	// comfortably longer than the worker timeout.
	StaleAfter time.Duration
	// Now is the clock, overridable in tests.
	Now func() time.Time
}

func (o *Options) fill() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 5
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 5 * time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Queue owns the ingestion job lifecycle.
type Queue struct {
	db      DB
	queries *store.Queries
	client  Client
	opts    Options
	logger  log.Logger
}

// NewQueue builds a Queue over the given database and worker client.
func NewQueue(db DB, client Client, opts Options, logger log.Logger) *Queue {
	opts.fill()
	return &Queue{
		db:      db,
		queries: store.New(db),
		client:  client,
		opts:    opts,
		logger:  logger,
	}
}

// SubmitParams describes one source artifact and its target audience.
type SubmitParams struct {
	SourceRef      string
	Filename       string
	MimeType       string
	Layer          string
	OrgID          *uuid.UUID
	TargetProjects []uuid.UUID
	AudienceTags   []string
	CreatedBy      uuid.UUID
}

// Submission is the durable result of accepting a job.
type Submission struct {
	JobID      uuid.UUID
	DocumentID uuid.UUID
}

// ValidateTags checks the layer invariants shared by submission and
// re-tagging. Authorization is a separate question: an admin may be allowed
// to write into a layer and still hand it an impossible shape, which must
// surface as a validation error, not a database constraint violation.
func ValidateTags(layer string, orgID *uuid.UUID, targetProjects []uuid.UUID) error {
	switch layer {
	case store.LayerApp:
		// App-wide documents carry no audience metadata.
	case store.LayerOrg:
		if orgID == nil {
			return fmt.Errorf("%w: org layer requires org_id", ErrValidation)
		}
	case store.LayerProject:
		if orgID == nil {
			return fmt.Errorf("%w: project layer requires org_id", ErrValidation)
		}
		if len(targetProjects) == 0 {
			return fmt.Errorf("%w: project layer requires at least one target project", ErrValidation)
		}
	case store.LayerUser:
		// Creator is always recorded; nothing more to require.
	default:
		return fmt.Errorf("%w: unknown layer %q", ErrValidation, layer)
	}
	return nil
}

func validateSubmit(p SubmitParams) error {
	if p.SourceRef == "" {
		return fmt.Errorf("%w: source_ref is required", ErrValidation)
	}
	return ValidateTags(p.Layer, p.OrgID, p.TargetProjects)
}

// Submit validates the layer invariants, then durably records the document
// shell and its queued job in one transaction. The document starts in
// pending so a job that later exhausts its retries still has a visible row
// to carry the error.
func (q *Queue) Submit(ctx context.Context, p SubmitParams) (Submission, error) {
	if err := validateSubmit(p); err != nil {
		return Submission{}, err
	}

	if p.Layer == store.LayerProject {
		n, err := q.queries.CountProjectsInOrg(ctx, *p.OrgID, p.TargetProjects)
		if err != nil {
			return Submission{}, fmt.Errorf("verify target projects: %w", err)
		}
		if n != int64(len(p.TargetProjects)) {
			return Submission{}, fmt.Errorf("%w: target projects must belong to the organization", ErrValidation)
		}
	}

	tx, err := q.db.Begin(ctx)
	if err != nil {
		return Submission{}, fmt.Errorf("begin submit: %w", err)
	}
	defer tx.Rollback(ctx)

	qtx := q.queries.WithTx(tx)

	docID, err := qtx.CreateDocument(ctx, store.CreateDocumentParams{
		Layer:          p.Layer,
		OrgID:          p.OrgID,
		TargetProjects: p.TargetProjects,
		AudienceTags:   p.AudienceTags,
		CreatedBy:      &p.CreatedBy,
		SourceRef:      p.SourceRef,
		Filename:       p.Filename,
		MimeType:       p.MimeType,
	})
	if err != nil {
		return Submission{}, fmt.Errorf("create document: %w", err)
	}

	jobID, err := qtx.CreateJob(ctx, store.CreateJobParams{
		DocumentID:     docID,
		SourceRef:      p.SourceRef,
		Filename:       p.Filename,
		MimeType:       p.MimeType,
		Layer:          p.Layer,
		OrgID:          p.OrgID,
		TargetProjects: p.TargetProjects,
		AudienceTags:   p.AudienceTags,
		CreatedBy:      p.CreatedBy,
		MaxAttempts:    q.opts.MaxAttempts,
	})
	if err != nil {
		return Submission{}, fmt.Errorf("create job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Submission{}, fmt.Errorf("commit submit: %w", err)
	}

	q.logger.Info("job submitted",
		"job_id", jobID, "document_id", docID, "layer", p.Layer, "source_ref", p.SourceRef)
	return Submission{JobID: jobID, DocumentID: docID}, nil
}

// DispatchNext claims at most one eligible job, sends it to the worker, and
// applies the worker's synchronous verdict. It returns false when the queue
// had nothing eligible.
//
// The worker call happens outside any transaction: the claim is already
// committed, so a crash mid-call leaves the job dispatched rather than a
// transaction pinning a row across a network wait. ReclaimStale returns such
// stranded jobs to the queue once they exceed the staleness window.
func (q *Queue) DispatchNext(ctx context.Context) (bool, error) {
	job, err := q.claim(ctx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	if err := q.queries.MarkDocumentProcessing(ctx, job.DocumentID); err != nil {
		return true, fmt.Errorf("mark document processing: %w", err)
	}

	resp, err := q.client.Process(ctx, WorkerRequest{
		JobID:          job.ID,
		DocumentID:     job.DocumentID,
		SourceRef:      job.SourceRef,
		Filename:       job.Filename,
		MimeType:       job.MimeType,
		Layer:          job.Layer,
		OrgID:          job.OrgID,
		TargetProjects: job.TargetProjects,
		AudienceTags:   job.AudienceTags,
	})
	if err != nil {
		q.logger.Warn("worker call failed", "job_id", job.ID, "error", err)
		_, cerr := q.Complete(ctx, job.ID, Completion{Success: false, Error: err.Error()})
		if cerr != nil {
			return true, fmt.Errorf("record transport failure: %w", cerr)
		}
		return true, nil
	}

	switch {
	case resp.Success == nil:
		// Worker accepted without a verdict; it will call back.
		if err := q.queries.MarkJobSent(ctx, job.ID, resp.Raw); err != nil {
			return true, fmt.Errorf("mark job sent: %w", err)
		}
		q.logger.Info("job sent, awaiting callback", "job_id", job.ID)
	case *resp.Success:
		if _, err := q.Complete(ctx, job.ID, Completion{
			Success: true, ChunkCount: resp.TotalChunks, Raw: resp.Raw,
		}); err != nil {
			return true, fmt.Errorf("record success: %w", err)
		}
	default:
		if _, err := q.Complete(ctx, job.ID, Completion{
			Success: false, Error: resp.Error, Raw: resp.Raw,
		}); err != nil {
			return true, fmt.Errorf("record worker failure: %w", err)
		}
	}
	return true, nil
}

func (q *Queue) claim(ctx context.Context) (store.IngestionJob, error) {
	tx, err := q.db.Begin(ctx)
	if err != nil {
		return store.IngestionJob{}, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback(ctx)

	job, err := q.queries.WithTx(tx).ClaimNextJob(ctx)
	if err != nil {
		return store.IngestionJob{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return store.IngestionJob{}, fmt.Errorf("commit claim: %w", err)
	}

	q.logger.Info("job claimed", "job_id", job.ID, "attempt", job.AttemptCount+1)
	return job, nil
}

// Completion is one reported verdict, from either the synchronous reply or
// the asynchronous callback. Both paths converge here.
type Completion struct {
	Success    bool
	ChunkCount int32
	Error      string
	Raw        []byte
}

// Outcome is the job's state after arbitration.
type Outcome struct {
	JobID        uuid.UUID
	DocumentID   uuid.UUID
	Status       string
	AttemptCount int32
	NextRetryAt  *time.Time
	// Applied is false when the job was already terminal and the
	// completion was discarded.
	Applied bool
}

// Complete is the completion arbiter. It locks the job row, discards
// completions for jobs that already reached a terminal state, and otherwise
// applies the verdict: success finalizes the job and publishes the document;
// failure spends one attempt and either schedules a retry or, with the
// budget exhausted, fails the document permanently.
//
// Duplicate or racing completions are safe: the row lock serializes them and
// the terminal check makes every call after the first a no-op.
func (q *Queue) Complete(ctx context.Context, jobID uuid.UUID, c Completion) (Outcome, error) {
	tx, err := q.db.Begin(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("begin complete: %w", err)
	}
	defer tx.Rollback(ctx)

	qtx := q.queries.WithTx(tx)

	job, err := qtx.GetJobForUpdate(ctx, jobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Outcome{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return Outcome{}, fmt.Errorf("lock job: %w", err)
	}

	if job.Terminal() {
		q.logger.Info("duplicate completion discarded", "job_id", jobID, "status", job.Status)
		return Outcome{
			JobID:        job.ID,
			DocumentID:   job.DocumentID,
			Status:       job.Status,
			AttemptCount: job.AttemptCount,
		}, nil
	}

	out := Outcome{JobID: job.ID, DocumentID: job.DocumentID, Applied: true}

	if c.Success {
		if err := qtx.MarkJobCompleted(ctx, job.ID, c.Raw); err != nil {
			return Outcome{}, fmt.Errorf("mark job completed: %w", err)
		}
		if err := qtx.MarkDocumentReady(ctx, job.DocumentID, c.ChunkCount); err != nil {
			return Outcome{}, fmt.Errorf("mark document ready: %w", err)
		}
		out.Status = store.JobCompleted
		out.AttemptCount = job.AttemptCount
	} else {
		newAttempt := job.AttemptCount + 1
		message := c.Error
		if message == "" {
			message = "worker reported failure"
		}

		params := store.MarkJobFailedParams{
			ID:             job.ID,
			LastError:      message,
			WorkerResponse: c.Raw,
		}
		if newAttempt < job.MaxAttempts {
			retryAt := q.opts.Now().Add(q.backoff(newAttempt))
			params.NextRetryAt = &retryAt
			out.NextRetryAt = &retryAt
		}
		if err := qtx.MarkJobFailed(ctx, params); err != nil {
			return Outcome{}, fmt.Errorf("mark job failed: %w", err)
		}
		if params.NextRetryAt == nil {
			// Budget exhausted: the document row carries the failure.
			if err := qtx.MarkDocumentError(ctx, job.DocumentID, message); err != nil {
				return Outcome{}, fmt.Errorf("mark document error: %w", err)
			}
		} else if err := qtx.MarkDocumentPending(ctx, job.DocumentID); err != nil {
			return Outcome{}, fmt.Errorf("mark document pending: %w", err)
		}
		out.Status = store.JobFailed
		out.AttemptCount = newAttempt
	}

	if err := tx.Commit(ctx); err != nil {
		return Outcome{}, fmt.Errorf("commit complete: %w", err)
	}

	q.logger.Info("completion applied",
		"job_id", out.JobID, "status", out.Status,
		"attempt", out.AttemptCount, "retry_scheduled", out.NextRetryAt != nil)
	return out, nil
}

// ReclaimStale returns jobs stranded in dispatched by a crashed dispatcher
// to the queue so they get retried instead of silently rotting. Claims are
// row-exclusive, so a job is only ever stale when its dispatcher died between
// the claim and the outcome.
func (q *Queue) ReclaimStale(ctx context.Context) (int, error) {
	cutoff := q.opts.Now().Add(-q.opts.StaleAfter)
	ids, err := q.queries.ReclaimStaleJobs(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	for _, id := range ids {
		q.logger.Warn("stale dispatched job returned to queue",
			"job_id", id, "stale_after", q.opts.StaleAfter)
	}
	return len(ids), nil
}

// backoff returns the delay before retry attempt n: base^n minutes.
func (q *Queue) backoff(attempt int32) time.Duration {
	minutes := math.Pow(float64(q.opts.BackoffBase), float64(attempt))
	return time.Duration(minutes * float64(time.Minute))
}

// Job fetches current job state, for status endpoints.
func (q *Queue) Job(ctx context.Context, jobID uuid.UUID) (store.IngestionJob, error) {
	job, err := q.queries.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.IngestionJob{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return store.IngestionJob{}, err
	}
	return job, nil
}
