package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tessera-ai/tessera/internal/authz"
	"github.com/tessera-ai/tessera/internal/ingest"
	"github.com/tessera-ai/tessera/internal/knowledge"
	"github.com/tessera-ai/tessera/internal/log"
	"github.com/tessera-ai/tessera/internal/store"
)

// DocumentsHandler serves document listing and re-tagging.
type DocumentsHandler struct {
	service *knowledge.Service
	queries *store.Queries
	loader  *authz.Loader
	logger  log.Logger
}

// NewDocumentsHandler creates a DocumentsHandler.
func NewDocumentsHandler(service *knowledge.Service, queries *store.Queries, loader *authz.Loader, logger log.Logger) *DocumentsHandler {
	return &DocumentsHandler{service: service, queries: queries, loader: loader, logger: logger}
}

// RegisterRoutes registers document endpoints on the authenticated mux.
func (h *DocumentsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/documents", h.list)
	mux.HandleFunc("PATCH /api/documents/{id}/retag", h.retag)
}

type documentResponse struct {
	ID             uuid.UUID   `json:"id"`
	Layer          string      `json:"layer"`
	OrgID          *uuid.UUID  `json:"org_id,omitempty"`
	TargetProjects []uuid.UUID `json:"target_projects,omitempty"`
	AudienceTags   []string    `json:"audience_tags,omitempty"`
	Status         string      `json:"status"`
	ChunkCount     int32       `json:"chunk_count"`
	SourceRef      string      `json:"source_ref"`
	Filename       string      `json:"filename"`
	CreatedAt      time.Time   `json:"created_at"`
}

func toDocumentResponse(d store.Document) documentResponse {
	return documentResponse{
		ID:             d.ID,
		Layer:          d.Layer,
		OrgID:          d.OrgID,
		TargetProjects: d.TargetProjects,
		AudienceTags:   d.AudienceTags,
		Status:         d.Status,
		ChunkCount:     d.ChunkCount,
		SourceRef:      d.SourceRef,
		Filename:       d.Filename,
		CreatedAt:      d.CreatedAt,
	}
}

func (h *DocumentsHandler) list(w http.ResponseWriter, r *http.Request) {
	callerID, ok := CallerID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "no caller identity")
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

	var limit int32
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = int32(n)
	}

	docs, err := h.service.List(r.Context(), snap.Scope(), limit)
	if err != nil {
		h.logger.Error("document list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	out := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocumentResponse(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out})
}

type retagRequest struct {
	Layer          string      `json:"layer"`
	OrgID          *uuid.UUID  `json:"org_id"`
	TargetProjects []uuid.UUID `json:"target_projects"`
	AudienceTags   []string    `json:"audience_tags"`
}

func (h *DocumentsHandler) retag(w http.ResponseWriter, r *http.Request) {
	callerID, ok := CallerID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "no caller identity")
		return
	}
	docID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed document id")
		return
	}

	var req retagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	// Layer invariants hold for admins too; a shape the documents table
	// would reject is a 400, not an authorization question.
	if err := ingest.ValidateTags(req.Layer, req.OrgID, req.TargetProjects); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	snap, err := h.loader.Load(r.Context(), callerID)
	if err != nil {
		writeError(w, http.StatusForbidden, "forbidden", "")
		return
	}

	doc, err := h.queries.GetDocument(r.Context(), docID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "not_found", "no such document")
			return
		}
		h.logger.Error("document lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	if !authz.CanRetagDocument(snap, &doc) {
		writeError(w, http.StatusForbidden, "forbidden", "not allowed to retag this document")
		return
	}
	// The new tags must also be within the caller's reach.
	if !authz.CanSubmitDocument(snap, req.Layer, req.OrgID, req.TargetProjects) {
		writeError(w, http.StatusForbidden, "forbidden", "not allowed to target that layer")
		return
	}

	err = h.queries.RetagDocument(r.Context(), store.RetagDocumentParams{
		ID:             docID,
		Layer:          req.Layer,
		OrgID:          req.OrgID,
		TargetProjects: req.TargetProjects,
		AudienceTags:   req.AudienceTags,
	})
	if err != nil {
		h.logger.Error("document retag failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	updated, err := h.queries.GetDocument(r.Context(), docID)
	if err != nil {
		h.logger.Error("document reload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(updated))
}
