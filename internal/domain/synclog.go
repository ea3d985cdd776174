package domain

import (
	"time"

	"github.com/google/uuid"
)

// LogOutcome classifies one audited delivery attempt.
type LogOutcome string

const (
	LogSuccess          LogOutcome = "success"
	LogRetry            LogOutcome = "retry"
	LogPermanentFailure LogOutcome = "permanent_failure"
	LogCancelled        LogOutcome = "cancelled"
)

// SyncLog is one append-only audit row for a delivery attempt. All attempts
// of the same logical change share a correlation id. Rows are never updated
// or deleted by the dispatcher; only the retention sweeper prunes old ones.
type SyncLog struct {
	ID            uuid.UUID  `json:"id"`
	CorrelationID uuid.UUID  `json:"correlation_id"`
	EntityID      uuid.UUID  `json:"entity_id"`
	Attempt       int        `json:"attempt"`
	Outcome       LogOutcome `json:"outcome"`
	Request       []byte     `json:"request,omitempty"`
	Response      *string    `json:"response,omitempty"`
	LatencyMs     int64      `json:"latency_ms"`
	CreatedAt     time.Time  `json:"created_at"`
}
