package domain

import (
	"time"

	"github.com/google/uuid"
)

// Atividade is the business entity tracked by the sync engine. Only the
// synchronization fields are owned by this module; the descriptive fields are
// managed by the admin CRUD layer and carried here for payload building.
type Atividade struct {
	ID          uuid.UUID `json:"id"`
	Titulo      string    `json:"titulo"`
	Descricao   string    `json:"descricao,omitempty"`
	Responsavel string    `json:"responsavel,omitempty"`

	SyncStatus    SyncStatus `json:"sync_status"`
	ExternalID    *string    `json:"external_id,omitempty"`
	LastSyncedAt  *time.Time `json:"last_synced_at,omitempty"`
	SyncAttempts  int        `json:"sync_attempts"`
	LastSyncError *string    `json:"last_sync_error,omitempty"`

	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// SoftDeleted reports whether the entity was removed locally. A soft-deleted
// entity is never re-enqueued automatically.
func (a *Atividade) SoftDeleted() bool {
	return a.DeletedAt != nil
}

// SyncResult is the entity-state change produced by one resolved delivery
// attempt. Several results from the same cycle may be applied in one batch.
type SyncResult struct {
	EntityID   uuid.UUID
	Status     SyncStatus
	ExternalID *string
	Attempts   int
	SyncedAt   *time.Time
	LastError  *string
}
