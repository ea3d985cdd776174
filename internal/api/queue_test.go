package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adminhub/sync-engine/internal/domain"
	"github.com/google/uuid"
)

type fakeQueueStore struct {
	enqueued *domain.QueueItem
	touched  []uuid.UUID
}

func (f *fakeQueueStore) Enqueue(ctx context.Context, queue string, entityID uuid.UUID, op domain.Operation, priority int, notBefore *time.Time) (*domain.QueueItem, error) {
	item, err := domain.NewQueueItem(queue, entityID, op, priority, notBefore)
	if err != nil {
		return nil, err
	}
	f.enqueued = item
	return item, nil
}

func (f *fakeQueueStore) ListQueueItems(ctx context.Context, status string, limit int) ([]domain.QueueItem, error) {
	return nil, nil
}

func (f *fakeQueueStore) GetQueueItem(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	return nil, domain.ErrItemNotFound
}

func (f *fakeQueueStore) CancelItem(ctx context.Context, id uuid.UUID, reason string) error {
	return nil
}

func (f *fakeQueueStore) Requeue(ctx context.Context, id uuid.UUID, delay time.Duration) error {
	return nil
}

func (f *fakeQueueStore) TouchSyncPending(ctx context.Context, id uuid.UUID) error {
	f.touched = append(f.touched, id)
	return nil
}

func TestQueueHandler_EnqueueFlagsEntityPending(t *testing.T) {
	store := &fakeQueueStore{}
	h := NewQueueHandler(store)

	entityID := uuid.New()
	body, _ := json.Marshal(map[string]any{
		"entity_id": entityID.String(),
		"operation": "update",
		"priority":  3,
	})

	rec := httptest.NewRecorder()
	h.Enqueue(rec, httptest.NewRequest(http.MethodPost, "/api/v1/queue/", bytes.NewReader(body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if store.enqueued == nil || store.enqueued.EntityID != entityID {
		t.Fatal("item was not enqueued for the entity")
	}
	if len(store.touched) != 1 || store.touched[0] != entityID {
		t.Errorf("pending flags = %v, want exactly one for %s", store.touched, entityID)
	}
}

func TestQueueHandler_EnqueueRejectsBadPriorityWithoutSideEffects(t *testing.T) {
	store := &fakeQueueStore{}
	h := NewQueueHandler(store)

	body, _ := json.Marshal(map[string]any{
		"entity_id": uuid.New().String(),
		"operation": "create",
		"priority":  0,
	})

	rec := httptest.NewRecorder()
	h.Enqueue(rec, httptest.NewRequest(http.MethodPost, "/api/v1/queue/", bytes.NewReader(body)))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	if len(store.touched) != 0 {
		t.Error("a rejected enqueue must not flag the entity")
	}
}
