package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

const documentColumns = `id, content, layer, org_id, target_projects, audience_tags,
	created_by, status, error_message, chunk_count, source_ref, filename, mime_type,
	created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (Document, error) {
	var d Document
	err := row.Scan(
		&d.ID, &d.Content, &d.Layer, &d.OrgID, &d.TargetProjects, &d.AudienceTags,
		&d.CreatedBy, &d.Status, &d.ErrorMessage, &d.ChunkCount, &d.SourceRef,
		&d.Filename, &d.MimeType, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

// CreateDocumentParams creates the pending document row a job will produce.
type CreateDocumentParams struct {
	Layer          string
	OrgID          *uuid.UUID
	TargetProjects []uuid.UUID
	AudienceTags   []string
	CreatedBy      *uuid.UUID
	SourceRef      string
	Filename       string
	MimeType       string
}

const createDocument = `
INSERT INTO documents (
	layer, org_id, target_projects, audience_tags, created_by,
	source_ref, filename, mime_type
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`

// CreateDocument inserts a pending document row and returns its id.
func (q *Queries) CreateDocument(ctx context.Context, arg CreateDocumentParams) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.db.QueryRow(ctx, createDocument,
		arg.Layer, arg.OrgID, arg.TargetProjects, arg.AudienceTags, arg.CreatedBy,
		arg.SourceRef, arg.Filename, arg.MimeType,
	).Scan(&id)
	return id, err
}

const getDocument = `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`

// GetDocument retrieves a document by id.
func (q *Queries) GetDocument(ctx context.Context, id uuid.UUID) (Document, error) {
	return scanDocument(q.db.QueryRow(ctx, getDocument, id))
}

const markDocumentPending = `
UPDATE documents SET status = 'pending', updated_at = now() WHERE id = $1`

// MarkDocumentPending returns the document to its waiting state, used when
// its job failed but a retry is scheduled.
func (q *Queries) MarkDocumentPending(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, markDocumentPending, id)
	return err
}

const markDocumentProcessing = `
UPDATE documents SET status = 'processing', updated_at = now() WHERE id = $1`

// MarkDocumentProcessing flags the document while its job is in flight.
func (q *Queries) MarkDocumentProcessing(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, markDocumentProcessing, id)
	return err
}

const markDocumentReady = `
UPDATE documents
SET status = 'ready', chunk_count = $2, error_message = NULL, updated_at = now()
WHERE id = $1`

// MarkDocumentReady makes the document queryable, recording the chunk count
// reported by the vectorizing worker.
func (q *Queries) MarkDocumentReady(ctx context.Context, id uuid.UUID, chunkCount int32) error {
	_, err := q.db.Exec(ctx, markDocumentReady, id, chunkCount)
	return err
}

const markDocumentError = `
UPDATE documents SET status = 'error', error_message = $2, updated_at = now() WHERE id = $1`

// MarkDocumentError surfaces an ingestion failure with its message.
func (q *Queries) MarkDocumentError(ctx context.Context, id uuid.UUID, message string) error {
	_, err := q.db.Exec(ctx, markDocumentError, id, message)
	return err
}

// RetagDocumentParams re-tags a document's layer and audience.
type RetagDocumentParams struct {
	ID             uuid.UUID
	Layer          string
	OrgID          *uuid.UUID
	TargetProjects []uuid.UUID
	AudienceTags   []string
}

const retagDocument = `
UPDATE documents
SET layer = $2, org_id = $3, target_projects = $4, audience_tags = $5, updated_at = now()
WHERE id = $1`

// RetagDocument replaces the layer/audience tags on a document.
// Callers must verify authorization before invoking.
func (q *Queries) RetagDocument(ctx context.Context, arg RetagDocumentParams) error {
	_, err := q.db.Exec(ctx, retagDocument,
		arg.ID, arg.Layer, arg.OrgID, arg.TargetProjects, arg.AudienceTags)
	return err
}

// VisibilityFilter is the retrieval scope derived from the caller's identity.
// It parameterizes the SQL visibility predicate; it is computed once by the
// authorization engine and never re-queries the tables it protects.
type VisibilityFilter struct {
	CallerID   uuid.UUID
	All        bool        // super admin: sees everything
	OrgID      *uuid.UUID  // caller's organization, for org-layer documents
	AdminOrgID *uuid.UUID  // set when caller is org admin of this organization
	ProjectIDs []uuid.UUID // projects the caller belongs to
}

// Clause is the shared visibility predicate over ready documents.
// Placeholders: $1 all, $2 org_id, $3 project_ids, $4 caller_id, $5 admin_org_id.
const visibilityClause = `
status = 'ready' AND (
	$1::boolean
	OR layer = 'app'
	OR ($2::uuid IS NOT NULL AND layer = 'org' AND org_id = $2)
	OR (layer = 'project' AND target_projects && $3::uuid[])
	OR (layer = 'user' AND created_by = $4)
	OR ($5::uuid IS NOT NULL AND org_id = $5)
)`

// SearchVisibleDocumentsParams runs a scoped cosine similarity search.
type SearchVisibleDocumentsParams struct {
	QueryEmbedding *pgvector.Vector
	Filter         VisibilityFilter
	ResultLimit    int32
}

// SearchVisibleDocumentsRow is one scored retrieval hit.
type SearchVisibleDocumentsRow struct {
	Document   Document
	Similarity float32
}

const searchVisibleDocuments = `
SELECT ` + documentColumns + `, 1 - (embedding <=> $6) AS similarity
FROM documents
WHERE embedding IS NOT NULL AND ` + visibilityClause + `
ORDER BY embedding <=> $6
LIMIT $7`

// SearchVisibleDocuments returns the documents most similar to the query
// embedding, restricted to the caller's visibility scope.
func (q *Queries) SearchVisibleDocuments(ctx context.Context, arg SearchVisibleDocumentsParams) ([]SearchVisibleDocumentsRow, error) {
	f := arg.Filter
	rows, err := q.db.Query(ctx, searchVisibleDocuments,
		f.All, f.OrgID, projectIDsOrEmpty(f.ProjectIDs), f.CallerID, f.AdminOrgID,
		arg.QueryEmbedding, arg.ResultLimit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchVisibleDocumentsRow
	for rows.Next() {
		var r SearchVisibleDocumentsRow
		d := &r.Document
		if err := rows.Scan(
			&d.ID, &d.Content, &d.Layer, &d.OrgID, &d.TargetProjects, &d.AudienceTags,
			&d.CreatedBy, &d.Status, &d.ErrorMessage, &d.ChunkCount, &d.SourceRef,
			&d.Filename, &d.MimeType, &d.CreatedAt, &d.UpdatedAt, &r.Similarity,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ListVisibleDocumentsParams lists scoped documents, newest first.
type ListVisibleDocumentsParams struct {
	Filter      VisibilityFilter
	ResultLimit int32
}

const listVisibleDocuments = `
SELECT ` + documentColumns + `
FROM documents
WHERE ` + visibilityClause + `
ORDER BY created_at DESC
LIMIT $6`

// ListVisibleDocuments lists the caller's visible ready documents.
func (q *Queries) ListVisibleDocuments(ctx context.Context, arg ListVisibleDocumentsParams) ([]Document, error) {
	f := arg.Filter
	rows, err := q.db.Query(ctx, listVisibleDocuments,
		f.All, f.OrgID, projectIDsOrEmpty(f.ProjectIDs), f.CallerID, f.AdminOrgID,
		arg.ResultLimit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// projectIDsOrEmpty keeps the && operator well-typed when the caller has no projects.
func projectIDsOrEmpty(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}
