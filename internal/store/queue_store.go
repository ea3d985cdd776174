package store

import (
	"context"
	"fmt"
	"time"

	"github.com/adminhub/sync-engine/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const queueItemColumns = `id, queue, entity_id, operation, priority, status, attempts, correlation_id, next_attempt_at, last_error, created_at, updated_at`

// Enqueue validates the arguments and inserts a pending queue item. Rejected
// arguments surface as a domain.ValidationError and nothing is inserted.
func (s *PostgresStore) Enqueue(ctx context.Context, queue string, entityID uuid.UUID, op domain.Operation, priority int, notBefore *time.Time) (*domain.QueueItem, error) {
	item, err := domain.NewQueueItem(queue, entityID, op, priority, notBefore)
	if err != nil {
		return nil, err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO sync_queue (id, queue, entity_id, operation, priority, status, attempts, correlation_id, next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, item.ID, item.Queue, item.EntityID, string(item.Operation), item.Priority, string(item.Status),
		item.Attempts, item.CorrelationID, item.NextAttemptAt, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting queue item: %w", err)
	}

	return item, nil
}

// FetchReady returns up to limit items eligible for dispatch right now,
// ordered by priority first and insertion order within a priority band.
// Items whose next_attempt_at is still in the future are never returned.
func (s *PostgresStore) FetchReady(ctx context.Context, queue string, limit int) ([]domain.QueueItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+queueItemColumns+`
		FROM sync_queue
		WHERE queue = $1
		  AND status IN ('pending', 'retrying')
		  AND (next_attempt_at IS NULL OR next_attempt_at <= NOW())
		ORDER BY priority ASC, created_at ASC
		LIMIT $2
	`, queue, limit)
	if err != nil {
		return nil, fmt.Errorf("querying ready items: %w", err)
	}
	defer rows.Close()

	return scanQueueItems(rows)
}

// MarkInProgress atomically claims an item for this worker. The conditional
// update is the only mutual exclusion in the system: when two dispatcher
// instances race for the same item, exactly one sees an affected row.
func (s *PostgresStore) MarkInProgress(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_queue
		SET status = 'in_progress', updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'retrying')
	`, id)
	if err != nil {
		return false, fmt.Errorf("claiming queue item: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSucceeded finishes a claimed item.
func (s *PostgresStore) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	return s.finishItem(ctx, id, domain.ItemSucceeded, nil, nil)
}

// MarkRetrying schedules a claimed item for another attempt at nextAttemptAt
// and records the failure detail.
func (s *PostgresStore) MarkRetrying(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time, lastError string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_queue
		SET status = 'retrying', attempts = attempts + 1, next_attempt_at = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'in_progress'
	`, id, nextAttemptAt, lastError)
	if err != nil {
		return fmt.Errorf("rescheduling queue item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

// MarkFailed moves a claimed item to its terminal failed state.
func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	return s.finishItem(ctx, id, domain.ItemFailed, &lastError, nil)
}

func (s *PostgresStore) finishItem(ctx context.Context, id uuid.UUID, status domain.ItemStatus, lastError *string, _ *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_queue
		SET status = $2, attempts = attempts + 1, next_attempt_at = NULL, last_error = COALESCE($3, last_error), updated_at = NOW()
		WHERE id = $1 AND status = 'in_progress'
	`, id, string(status), lastError)
	if err != nil {
		return fmt.Errorf("finishing queue item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

// ReclaimStale returns claims whose worker died mid-delivery to the ready
// set. A crash between the remote call and the status write leaves the row
// in_progress forever; once updated_at falls behind the cutoff the claim is
// considered abandoned. Worst case the remote sees a duplicate resubmission,
// which it deduplicates by correlation id.
func (s *PostgresStore) ReclaimStale(ctx context.Context, queue string, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_queue
		SET status = 'pending', updated_at = NOW()
		WHERE queue = $1 AND status = 'in_progress' AND updated_at < $2
	`, queue, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaiming stale claims: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Requeue is an operator intervention: push a non-terminal item back to
// pending, eligible after the given delay. Accepting in_progress lets an
// operator release a visibly stuck claim without waiting for the reclaim
// cutoff.
func (s *PostgresStore) Requeue(ctx context.Context, id uuid.UUID, delay time.Duration) error {
	nextAt := time.Now().UTC().Add(delay)

	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_queue
		SET status = 'pending', next_attempt_at = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('retrying', 'failed', 'in_progress')
	`, id, nextAt)
	if err != nil {
		return fmt.Errorf("requeuing item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMissedUpdate(ctx, id)
	}
	return nil
}

// CancelItem cancels an item that is not currently claimed. An in-flight
// delivery runs to completion; cancellation racing it is rejected here and
// the operator retries after the outcome lands.
func (s *PostgresStore) CancelItem(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_queue
		SET status = 'cancelled', last_error = $2, next_attempt_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'retrying')
	`, id, reason)
	if err != nil {
		return fmt.Errorf("cancelling item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMissedUpdate(ctx, id)
	}
	return nil
}

// CancelPendingForEntity cancels every outstanding item for an entity. Used
// by soft delete so removed entities are never delivered.
func (s *PostgresStore) CancelPendingForEntity(ctx context.Context, entityID uuid.UUID, reason string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_queue
		SET status = 'cancelled', last_error = $2, next_attempt_at = NULL, updated_at = NOW()
		WHERE entity_id = $1 AND status IN ('pending', 'retrying')
	`, entityID, reason)
	if err != nil {
		return 0, fmt.Errorf("cancelling items for entity: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetQueueItem returns a single item by id.
func (s *PostgresStore) GetQueueItem(ctx context.Context, id uuid.UUID) (*domain.QueueItem, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+queueItemColumns+` FROM sync_queue WHERE id = $1`, id)

	item, err := scanQueueItem(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrItemNotFound
		}
		return nil, fmt.Errorf("querying queue item: %w", err)
	}
	return item, nil
}

// ListQueueItems returns items filtered by status (all when empty), newest
// first.
func (s *PostgresStore) ListQueueItems(ctx context.Context, status string, limit int) ([]domain.QueueItem, error) {
	query := `SELECT ` + queueItemColumns + ` FROM sync_queue`
	args := []interface{}{}

	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying queue items: %w", err)
	}
	defer rows.Close()

	return scanQueueItems(rows)
}

// PurgeTerminalItems deletes terminal rows older than the cutoff. Only the
// retention sweeper calls this; the dispatcher never deletes.
func (s *PostgresStore) PurgeTerminalItems(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM sync_queue
		WHERE status IN ('succeeded', 'failed', 'cancelled') AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging terminal items: %w", err)
	}
	return tag.RowsAffected(), nil
}

// explainMissedUpdate distinguishes "no such row" from "row exists but is in
// a state the operation does not apply to".
func (s *PostgresStore) explainMissedUpdate(ctx context.Context, id uuid.UUID) error {
	item, err := s.GetQueueItem(ctx, id)
	if err != nil {
		return err
	}
	if item.Status.IsTerminal() {
		return domain.ErrItemTerminal
	}
	return domain.ErrClaimConflict
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueItem(row rowScanner) (*domain.QueueItem, error) {
	var (
		item      domain.QueueItem
		operation string
		status    string
	)

	err := row.Scan(
		&item.ID, &item.Queue, &item.EntityID, &operation, &item.Priority, &status,
		&item.Attempts, &item.CorrelationID, &item.NextAttemptAt, &item.LastError,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Operation = domain.Operation(operation)
	item.Status = domain.ItemStatus(status)
	return &item, nil
}

func scanQueueItems(rows pgx.Rows) ([]domain.QueueItem, error) {
	items := []domain.QueueItem{}
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning queue item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating queue items: %w", err)
	}
	return items, nil
}
