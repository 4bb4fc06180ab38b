package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/datasync/engine/internal/models"
	"github.com/datasync/engine/internal/repository"
	"github.com/datasync/engine/internal/services"
)

// ConflictHandler surfaces open conflicts and accepts user resolutions
type ConflictHandler struct {
	conflicts repository.ConflictRepo
	engine    *services.SyncService
}

// NewConflictHandler creates a new ConflictHandler
func NewConflictHandler(conflicts repository.ConflictRepo, engine *services.SyncService) *ConflictHandler {
	return &ConflictHandler{conflicts: conflicts, engine: engine}
}

// ListConflicts returns all open conflicts awaiting user input
func (h *ConflictHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	records, err := h.conflicts.ListOpen(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list conflicts")
		return
	}
	writeJSON(w, http.StatusOK, models.ConflictListResponse{
		Conflicts:  records,
		TotalCount: len(records),
	})
}

// GetConflict returns one conflict by id
func (h *ConflictHandler) GetConflict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, err := h.conflicts.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read conflict")
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "conflict not found")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// ResolveConflict settles an open conflict with the user's choice
func (h *ConflictHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req models.ResolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.engine.ResolveConflict(r.Context(), id, req); err != nil {
		switch {
		case strings.Contains(err.Error(), "not found"):
			writeError(w, http.StatusNotFound, err.Error())
		case strings.Contains(err.Error(), "already resolved"),
			strings.Contains(err.Error(), "unknown resolution choice"),
			strings.Contains(err.Error(), "requires a payload"):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to resolve conflict")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}
