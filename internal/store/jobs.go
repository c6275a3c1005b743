package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const jobColumns = `id, document_id, source_ref, filename, mime_type, layer, org_id,
	target_projects, audience_tags, created_by, status, attempt_count, max_attempts,
	next_retry_at, last_error, worker_response, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (IngestionJob, error) {
	var j IngestionJob
	err := row.Scan(
		&j.ID, &j.DocumentID, &j.SourceRef, &j.Filename, &j.MimeType, &j.Layer, &j.OrgID,
		&j.TargetProjects, &j.AudienceTags, &j.CreatedBy, &j.Status, &j.AttemptCount,
		&j.MaxAttempts, &j.NextRetryAt, &j.LastError, &j.WorkerResponse,
		&j.CreatedAt, &j.UpdatedAt,
	)
	return j, err
}

// CreateJobParams identifies the source artifact and its target audience.
type CreateJobParams struct {
	DocumentID     uuid.UUID
	SourceRef      string
	Filename       string
	MimeType       string
	Layer          string
	OrgID          *uuid.UUID
	TargetProjects []uuid.UUID
	AudienceTags   []string
	CreatedBy      uuid.UUID
	MaxAttempts    int32
}

const createJob = `
INSERT INTO ingestion_jobs (
	document_id, source_ref, filename, mime_type, layer, org_id,
	target_projects, audience_tags, created_by, max_attempts
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id`

// CreateJob inserts a new job in state queued and returns its id.
func (q *Queries) CreateJob(ctx context.Context, arg CreateJobParams) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.db.QueryRow(ctx, createJob,
		arg.DocumentID, arg.SourceRef, arg.Filename, arg.MimeType, arg.Layer, arg.OrgID,
		arg.TargetProjects, arg.AudienceTags, arg.CreatedBy, arg.MaxAttempts,
	).Scan(&id)
	return id, err
}

// claimNextJob atomically claims one eligible job. FOR UPDATE SKIP LOCKED
// makes the claim safe under concurrent dispatchers: a row being claimed by
// one transaction is invisible to the others, so at most one dispatcher
// transitions any given job to dispatched.
const claimNextJob = `
WITH candidate AS (
	SELECT id FROM ingestion_jobs
	WHERE status = 'queued'
	   OR (status = 'failed' AND attempt_count < max_attempts AND next_retry_at <= now())
	ORDER BY created_at
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
UPDATE ingestion_jobs j
SET status = 'dispatched', updated_at = now()
FROM candidate
WHERE j.id = candidate.id
RETURNING ` + jobColumns

// ClaimNextJob claims one eligible job (queued, or failed and retry-eligible)
// and marks it dispatched. Returns pgx.ErrNoRows when no job is eligible.
func (q *Queries) ClaimNextJob(ctx context.Context) (IngestionJob, error) {
	return scanJob(q.db.QueryRow(ctx, claimNextJob))
}

const reclaimStaleJobs = `
UPDATE ingestion_jobs
SET status = 'queued', updated_at = now()
WHERE status = 'dispatched' AND updated_at < $1
RETURNING id`

// ReclaimStaleJobs returns jobs stuck in dispatched since before the cutoff
// to the queue. A dispatcher that crashes between claiming a job and
// recording its outcome leaves the row this way; without the reaper it would
// sit there forever, invisible to ClaimNextJob.
func (q *Queries) ReclaimStaleJobs(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, reclaimStaleJobs, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const getJob = `SELECT ` + jobColumns + ` FROM ingestion_jobs WHERE id = $1`

// GetJob retrieves a job by id.
func (q *Queries) GetJob(ctx context.Context, id uuid.UUID) (IngestionJob, error) {
	return scanJob(q.db.QueryRow(ctx, getJob, id))
}

const getJobForUpdate = `SELECT ` + jobColumns + ` FROM ingestion_jobs WHERE id = $1 FOR UPDATE`

// GetJobForUpdate retrieves a job by id and locks its row for the duration
// of the surrounding transaction. The completion arbiter uses this to
// serialize concurrent or duplicate completion attempts.
func (q *Queries) GetJobForUpdate(ctx context.Context, id uuid.UUID) (IngestionJob, error) {
	return scanJob(q.db.QueryRow(ctx, getJobForUpdate, id))
}

const markJobSent = `
UPDATE ingestion_jobs
SET status = 'sent', worker_response = $2, updated_at = now()
WHERE id = $1`

// MarkJobSent records that the worker accepted the job without a synchronous
// verdict; completion will arrive via callback.
func (q *Queries) MarkJobSent(ctx context.Context, id uuid.UUID, workerResponse []byte) error {
	_, err := q.db.Exec(ctx, markJobSent, id, workerResponse)
	return err
}

const markJobCompleted = `
UPDATE ingestion_jobs
SET status = 'completed', worker_response = $2, last_error = NULL, updated_at = now()
WHERE id = $1`

// MarkJobCompleted transitions a job to its successful terminal state.
func (q *Queries) MarkJobCompleted(ctx context.Context, id uuid.UUID, workerResponse []byte) error {
	_, err := q.db.Exec(ctx, markJobCompleted, id, workerResponse)
	return err
}

// MarkJobFailedParams records one failed attempt.
type MarkJobFailedParams struct {
	ID             uuid.UUID
	LastError      string
	NextRetryAt    *time.Time // nil when the retry budget is exhausted
	WorkerResponse []byte
}

const markJobFailed = `
UPDATE ingestion_jobs
SET status = 'failed',
    attempt_count = attempt_count + 1,
    next_retry_at = $2,
    last_error = $3,
    worker_response = COALESCE($4, worker_response),
    updated_at = now()
WHERE id = $1`

// MarkJobFailed increments the attempt counter and schedules the next retry.
// A nil NextRetryAt leaves the job permanently failed.
func (q *Queries) MarkJobFailed(ctx context.Context, arg MarkJobFailedParams) error {
	_, err := q.db.Exec(ctx, markJobFailed, arg.ID, arg.NextRetryAt, arg.LastError, arg.WorkerResponse)
	return err
}
