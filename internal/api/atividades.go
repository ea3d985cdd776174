package api

import (
	"errors"
	"net/http"

	"github.com/adminhub/sync-engine/internal/domain"
	"github.com/adminhub/sync-engine/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type AtividadeHandler struct {
	store *store.PostgresStore
}

func NewAtividadeHandler(s *store.PostgresStore) *AtividadeHandler {
	return &AtividadeHandler{store: s}
}

// SyncStatus returns the per-entity synchronization view: status, external
// id, attempt count and last error.
func (h *AtividadeHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}

	atividade, err := h.store.GetAtividade(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrEntityNotFound) {
			respondError(w, http.StatusNotFound, "atividade not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get atividade")
		return
	}

	type syncStatusResponse struct {
		ID            string  `json:"id"`
		SyncStatus    string  `json:"sync_status"`
		ExternalID    *string `json:"external_id,omitempty"`
		LastSyncedAt  *string `json:"last_synced_at,omitempty"`
		SyncAttempts  int     `json:"sync_attempts"`
		LastSyncError *string `json:"last_sync_error,omitempty"`
	}

	resp := syncStatusResponse{
		ID:            atividade.ID.String(),
		SyncStatus:    atividade.SyncStatus.String(),
		ExternalID:    atividade.ExternalID,
		SyncAttempts:  atividade.SyncAttempts,
		LastSyncError: atividade.LastSyncError,
	}
	if atividade.LastSyncedAt != nil {
		ts := atividade.LastSyncedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		resp.LastSyncedAt = &ts
	}

	respondJSON(w, http.StatusOK, resp)
}

// SoftDelete removes the entity locally and cancels its outstanding queue
// items so the dispatcher never delivers for it again.
func (h *AtividadeHandler) SoftDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}

	cancelled, err := h.store.SoftDeleteAtividade(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrEntityNotFound) {
			respondError(w, http.StatusNotFound, "atividade not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to soft delete atividade")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "soft_deleted",
		"items_cancelled": cancelled,
	})
}
