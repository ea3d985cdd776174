package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/adminhub/sync-engine/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// QueueStore is the queue surface the operator API needs. Implemented by
// store.PostgresStore.
type QueueStore interface {
	Enqueue(ctx context.Context, queue string, entityID uuid.UUID, op domain.Operation, priority int, notBefore *time.Time) (*domain.QueueItem, error)
	ListQueueItems(ctx context.Context, status string, limit int) ([]domain.QueueItem, error)
	GetQueueItem(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error)
	CancelItem(ctx context.Context, id uuid.UUID, reason string) error
	Requeue(ctx context.Context, id uuid.UUID, delay time.Duration) error
	TouchSyncPending(ctx context.Context, id uuid.UUID) error
}

type QueueHandler struct {
	store QueueStore
}

func NewQueueHandler(s QueueStore) *QueueHandler {
	return &QueueHandler{store: s}
}

type enqueueRequest struct {
	Queue     string     `json:"queue,omitempty"`
	EntityID  string     `json:"entity_id"`
	Operation string     `json:"operation"`
	Priority  int        `json:"priority"`
	NotBefore *time.Time `json:"not_before,omitempty"`
}

// Enqueue creates a queue item for an entity change. This is the producer
// surface the CRUD layer calls after mutating an atividade.
func (h *QueueHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	entityID, err := uuid.Parse(req.EntityID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "entity_id must be a UUID")
		return
	}

	item, err := h.store.Enqueue(r.Context(), req.Queue, entityID, domain.Operation(req.Operation), req.Priority, req.NotBefore)
	if err != nil {
		if domain.IsValidation(err) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to enqueue item")
		return
	}

	// The entity leaves its synced state the moment new work is queued for
	// it. A miss here is not fatal: the dispatcher writes the authoritative
	// state when the item resolves.
	_ = h.store.TouchSyncPending(r.Context(), entityID)

	respondJSON(w, http.StatusCreated, item)
}

func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limitStr := r.URL.Query().Get("limit")

	limit := 50
	if limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	items, err := h.store.ListQueueItems(r.Context(), status, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list queue items")
		return
	}

	respondJSON(w, http.StatusOK, items)
}

func (h *QueueHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}

	item, err := h.store.GetQueueItem(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrItemNotFound) {
			respondError(w, http.StatusNotFound, "queue item not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get queue item")
		return
	}

	respondJSON(w, http.StatusOK, item)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// Cancel is the operator intervention for pending or retrying items. Items
// currently claimed by a dispatcher run to completion first.
func (h *QueueHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}

	var req cancelRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "cancelled by operator"
	}

	err = h.store.CancelItem(r.Context(), id, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrItemNotFound):
			respondError(w, http.StatusNotFound, "queue item not found")
		case errors.Is(err, domain.ErrItemTerminal):
			respondError(w, http.StatusConflict, "queue item is already in a terminal state")
		case errors.Is(err, domain.ErrClaimConflict):
			respondError(w, http.StatusConflict, "queue item is currently being processed")
		default:
			respondError(w, http.StatusInternalServerError, "failed to cancel queue item")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type requeueRequest struct {
	DelaySeconds int `json:"delay_seconds"`
}

// Requeue pushes a retrying, permanently failed or stuck in_progress item
// back to pending.
func (h *QueueHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}

	var req requeueRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	err = h.store.Requeue(r.Context(), id, time.Duration(req.DelaySeconds)*time.Second)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrItemNotFound):
			respondError(w, http.StatusNotFound, "queue item not found")
		case errors.Is(err, domain.ErrItemTerminal):
			respondError(w, http.StatusConflict, "queue item cannot be requeued from its current state")
		case errors.Is(err, domain.ErrClaimConflict):
			respondError(w, http.StatusConflict, "queue item is currently being processed")
		default:
			respondError(w, http.StatusInternalServerError, "failed to requeue item")
		}
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}
