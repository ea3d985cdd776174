package domain

import (
	"time"

	"github.com/google/uuid"
)

// Priority bounds accepted by Enqueue. Lower is more urgent.
const (
	MinPriority = 1
	MaxPriority = 9
)

// DefaultQueue is the logical partition used when a producer does not name one.
const DefaultQueue = "integration"

// QueueItem is one durable unit of pending delivery work: "propagate change
// Operation for entity EntityID". Status transitions happen only through the
// dispatcher; terminal rows are kept for audit and pruned by the sweeper.
type QueueItem struct {
	ID            uuid.UUID  `json:"id"`
	Queue         string     `json:"queue"`
	EntityID      uuid.UUID  `json:"entity_id"`
	Operation     Operation  `json:"operation"`
	Priority      int        `json:"priority"`
	Status        ItemStatus `json:"status"`
	Attempts      int        `json:"attempts"`
	CorrelationID uuid.UUID  `json:"correlation_id"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	LastError     *string    `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Ready reports whether the item is eligible for dispatch at the given time.
func (q *QueueItem) Ready(now time.Time) bool {
	if q.Status != ItemPending && q.Status != ItemRetrying {
		return false
	}
	return q.NextAttemptAt == nil || !q.NextAttemptAt.After(now)
}

// NewQueueItem validates the enqueue arguments and builds a pending item with
// a fresh correlation id. The correlation id is fixed at enqueue time so that
// every retry of the same logical change reuses it and the remote system can
// deduplicate.
func NewQueueItem(queue string, entityID uuid.UUID, op Operation, priority int, notBefore *time.Time) (*QueueItem, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	if entityID == uuid.Nil {
		return nil, &ValidationError{Field: "entity_id", Reason: "entity id is required"}
	}
	if !op.IsValid() {
		return nil, &ValidationError{Field: "operation", Reason: "unknown operation kind"}
	}
	if priority < MinPriority || priority > MaxPriority {
		return nil, &ValidationError{Field: "priority", Reason: "priority must be between 1 and 9"}
	}

	now := time.Now().UTC()

	return &QueueItem{
		ID:            uuid.New(),
		Queue:         queue,
		EntityID:      entityID,
		Operation:     op,
		Priority:      priority,
		Status:        ItemPending,
		Attempts:      0,
		CorrelationID: uuid.New(),
		NextAttemptAt: notBefore,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
