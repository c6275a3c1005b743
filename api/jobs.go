package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tessera-ai/tessera/internal/authz"
	"github.com/tessera-ai/tessera/internal/ingest"
	"github.com/tessera-ai/tessera/internal/log"
)

// JobsHandler serves job submission, status, and the worker's completion
// callback.
type JobsHandler struct {
	queue  *ingest.Queue
	loader *authz.Loader
	logger log.Logger
}

// NewJobsHandler creates a JobsHandler.
func NewJobsHandler(queue *ingest.Queue, loader *authz.Loader, logger log.Logger) *JobsHandler {
	return &JobsHandler{queue: queue, loader: loader, logger: logger}
}

// RegisterRoutes registers the user-facing job endpoints on the
// authenticated mux. The completion callback is not among them: it is
// registered separately behind the worker token (see NewServer).
func (h *JobsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/jobs", h.submit)
	mux.HandleFunc("GET /api/jobs/{id}", h.status)
}

type submitJobRequest struct {
	SourceRef      string      `json:"source_ref"`
	Filename       string      `json:"filename"`
	MimeType       string      `json:"mime_type"`
	Layer          string      `json:"layer"`
	OrgID          *uuid.UUID  `json:"org_id"`
	TargetProjects []uuid.UUID `json:"target_projects"`
	AudienceTags   []string    `json:"audience_tags"`
}

type submitJobResponse struct {
	JobID      uuid.UUID `json:"job_id"`
	DocumentID uuid.UUID `json:"document_id"`
}

func (h *JobsHandler) submit(w http.ResponseWriter, r *http.Request) {
	callerID, ok := CallerID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "no caller identity")
		return
	}

	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	snap, err := h.loader.Load(r.Context(), callerID)
	if err != nil {
		if errors.Is(err, authz.ErrUnknownCaller) {
			writeError(w, http.StatusForbidden, "forbidden", "unknown caller")
			return
		}
		h.logger.Error("load caller snapshot failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	// Org defaults to the caller's for org- and project-layer submissions.
	orgID := req.OrgID
	if orgID == nil && req.Layer != "" && req.Layer != "app" && req.Layer != "user" {
		orgID = snap.OrgID
	}

	if !authz.CanSubmitDocument(snap, req.Layer, orgID, req.TargetProjects) {
		writeError(w, http.StatusForbidden, "forbidden", "not allowed to submit into this layer")
		return
	}

	sub, err := h.queue.Submit(r.Context(), ingest.SubmitParams{
		SourceRef:      req.SourceRef,
		Filename:       req.Filename,
		MimeType:       req.MimeType,
		Layer:          req.Layer,
		OrgID:          orgID,
		TargetProjects: req.TargetProjects,
		AudienceTags:   req.AudienceTags,
		CreatedBy:      callerID,
	})
	if err != nil {
		if errors.Is(err, ingest.ErrValidation) {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		h.logger.Error("job submission failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	writeJSON(w, http.StatusAccepted, submitJobResponse{JobID: sub.JobID, DocumentID: sub.DocumentID})
}

type jobStatusResponse struct {
	JobID        uuid.UUID  `json:"job_id"`
	DocumentID   uuid.UUID  `json:"document_id"`
	Status       string     `json:"status"`
	AttemptCount int32      `json:"attempt_count"`
	MaxAttempts  int32      `json:"max_attempts"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	LastError    *string    `json:"last_error,omitempty"`
}

func (h *JobsHandler) status(w http.ResponseWriter, r *http.Request) {
	callerID, ok := CallerID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "no caller identity")
		return
	}
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed job id")
		return
	}

	job, err := h.queue.Job(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, ingest.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no such job")
			return
		}
		h.logger.Error("job lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	// The submitter always sees their job; admins see jobs in jurisdiction.
	if job.CreatedBy != callerID {
		snap, err := h.loader.Load(r.Context(), callerID)
		if err != nil {
			writeError(w, http.StatusForbidden, "forbidden", "")
			return
		}
		allowed := snap.IsSuperAdmin() || (job.OrgID != nil && snap.IsOrgAdmin(*job.OrgID))
		if !allowed {
			writeError(w, http.StatusNotFound, "not_found", "no such job")
			return
		}
	}

	writeJSON(w, http.StatusOK, jobStatusResponse{
		JobID:        job.ID,
		DocumentID:   job.DocumentID,
		Status:       job.Status,
		AttemptCount: job.AttemptCount,
		MaxAttempts:  job.MaxAttempts,
		NextRetryAt:  job.NextRetryAt,
		LastError:    job.LastError,
	})
}

type completeJobRequest struct {
	Success     bool   `json:"success"`
	TotalChunks int32  `json:"total_chunks"`
	Error       string `json:"error"`
}

type completeJobResponse struct {
	JobID        uuid.UUID `json:"job_id"`
	Status       string    `json:"status"`
	AttemptCount int32     `json:"attempt_count"`
	Applied      bool      `json:"applied"`
}

// complete receives the worker's asynchronous verdict. Replaying it, or
// racing it against the synchronous path, is safe: the arbiter applies the
// first verdict and reports the recorded outcome for the rest.
//
// Only the vectorizing worker may call this. A verdict flips another
// tenant's document to ready or error, so the route is gated on the worker
// service token, not on user bearer tokens.
func (h *JobsHandler) complete(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed job id")
		return
	}

	var req completeJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	out, err := h.queue.Complete(r.Context(), jobID, ingest.Completion{
		Success:    req.Success,
		ChunkCount: req.TotalChunks,
		Error:      req.Error,
	})
	if err != nil {
		if errors.Is(err, ingest.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no such job")
			return
		}
		h.logger.Error("completion callback failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	writeJSON(w, http.StatusOK, completeJobResponse{
		JobID:        out.JobID,
		Status:       out.Status,
		AttemptCount: out.AttemptCount,
		Applied:      out.Applied,
	})
}
