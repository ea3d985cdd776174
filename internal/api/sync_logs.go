package api

import (
	"net/http"
	"strconv"

	"github.com/adminhub/sync-engine/internal/store"
	"github.com/google/uuid"
)

type SyncLogHandler struct {
	store *store.PostgresStore
}

func NewSyncLogHandler(s *store.PostgresStore) *SyncLogHandler {
	return &SyncLogHandler{store: s}
}

// List returns audit rows, optionally filtered by entity_id and/or
// correlation_id.
func (h *SyncLogHandler) List(w http.ResponseWriter, r *http.Request) {
	var entityID, correlationID *uuid.UUID

	if raw := r.URL.Query().Get("entity_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "entity_id must be a UUID")
			return
		}
		entityID = &id
	}
	if raw := r.URL.Query().Get("correlation_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "correlation_id must be a UUID")
			return
		}
		correlationID = &id
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	logs, err := h.store.ListSyncLogs(r.Context(), entityID, correlationID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list sync logs")
		return
	}

	respondJSON(w, http.StatusOK, logs)
}
