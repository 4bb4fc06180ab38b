package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/datasync/engine/internal/models"
	"github.com/datasync/engine/internal/services"
)

// SyncHandler exposes the engine's local status API: engine state, cycle
// triggers and journal management for the host application.
type SyncHandler struct {
	engine *services.SyncService
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(engine *services.SyncService) *SyncHandler {
	return &SyncHandler{engine: engine}
}

// GetStatus reports engine state plus journal and conflict counts
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read sync status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// TriggerSync starts a cycle without waiting for it
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	_, err := h.engine.TriggerSync()
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	case errors.Is(err, models.ErrSyncInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrEnginePaused), errors.Is(err, models.ErrEngineFailed):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// Pause stops new cycles from starting
func (h *SyncHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.engine.Pause()
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// Resume lifts a pause
func (h *SyncHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.engine.Resume()
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

// Reset clears a failed engine after the cause has been repaired
func (h *SyncHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.engine.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// EnqueueOperation journals a local mutation
func (h *SyncHandler) EnqueueOperation(w http.ResponseWriter, r *http.Request) {
	var req models.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	opID, err := h.engine.EnqueueLocalChange(r.Context(), req)
	if err != nil {
		var syncErr models.SyncError
		if errors.As(err, &syncErr) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to enqueue operation")
		return
	}

	writeJSON(w, http.StatusCreated, models.EnqueueResponse{OperationID: opID})
}

// RetryOperation re-queues a terminally failed journal entry
func (h *SyncHandler) RetryOperation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.engine.RetryOperation(r.Context(), id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}
