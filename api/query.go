package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/tessera-ai/tessera/internal/authz"
	"github.com/tessera-ai/tessera/internal/log"
	"github.com/tessera-ai/tessera/internal/router"
)

// QueryHandler serves routed question answering.
type QueryHandler struct {
	router *router.Router
	loader *authz.Loader
	logger log.Logger
}

// NewQueryHandler creates a QueryHandler.
func NewQueryHandler(rt *router.Router, loader *authz.Loader, logger log.Logger) *QueryHandler {
	return &QueryHandler{router: rt, loader: loader, logger: logger}
}

// RegisterRoutes registers query endpoints on the authenticated mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/query", h.query)
}

type queryRequest struct {
	Query          string     `json:"query"`
	ProjectID      *uuid.UUID `json:"project_id"`
	Audience       string     `json:"audience"`
	GenerationMode string     `json:"generation_mode"`
}

func (h *QueryHandler) query(w http.ResponseWriter, r *http.Request) {
	callerID, ok := CallerID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "no caller identity")
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}
	if req.GenerationMode != "" && req.GenerationMode != router.ModeFast && req.GenerationMode != router.ModeDeep {
		writeError(w, http.StatusBadRequest, "invalid_request", "generation_mode must be fast or deep")
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

	resp, err := h.router.Route(r.Context(), router.Request{
		Query:        req.Query,
		OrgID:        snap.OrgID,
		Audience:     req.Audience,
		ProjectID:    req.ProjectID,
		ModeOverride: req.GenerationMode,
		Scope:        snap.Scope(),
	})
	if err != nil {
		h.logger.Error("query routing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
