package store

import (
	"context"
	"fmt"

	"github.com/adminhub/sync-engine/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const atividadeColumns = `id, titulo, descricao, responsavel, sync_status, external_id, last_synced_at, sync_attempts, last_sync_error, deleted_at, created_at, updated_at`

// GetAtividade returns the entity by id, soft-deleted rows included — the
// dispatcher needs to see deleted_at to decide whether to cancel.
func (s *PostgresStore) GetAtividade(ctx context.Context, id uuid.UUID) (*domain.Atividade, error) {
	var (
		a          domain.Atividade
		syncStatus string
	)

	err := s.pool.QueryRow(ctx, `SELECT `+atividadeColumns+` FROM atividades WHERE id = $1`, id).Scan(
		&a.ID, &a.Titulo, &a.Descricao, &a.Responsavel, &syncStatus, &a.ExternalID,
		&a.LastSyncedAt, &a.SyncAttempts, &a.LastSyncError, &a.DeletedAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrEntityNotFound
		}
		return nil, fmt.Errorf("querying atividade: %w", err)
	}

	a.SyncStatus = domain.SyncStatus(syncStatus)
	return &a, nil
}

// ApplySyncResult updates the sync fields of one entity after a resolved
// delivery attempt. The external id is written only when the row has none
// yet: a later failed retry never clears an id the remote system assigned.
func (s *PostgresStore) ApplySyncResult(ctx context.Context, res domain.SyncResult) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE atividades
		SET sync_status = $2,
		    external_id = COALESCE(external_id, $3),
		    last_synced_at = COALESCE($4, last_synced_at),
		    sync_attempts = $5,
		    last_sync_error = $6,
		    updated_at = NOW()
		WHERE id = $1
	`, res.EntityID, string(res.Status), res.ExternalID, res.SyncedAt, res.Attempts, res.LastError)
	if err != nil {
		return fmt.Errorf("applying sync result: %w", err)
	}
	return nil
}

// ApplySyncResults applies several results in one batch to cut round trips
// when multiple items resolve in the same dispatcher cycle. Purely an
// optimization over calling ApplySyncResult per entity.
func (s *PostgresStore) ApplySyncResults(ctx context.Context, results []domain.SyncResult) error {
	if len(results) == 0 {
		return nil
	}
	if len(results) == 1 {
		return s.ApplySyncResult(ctx, results[0])
	}

	batch := &pgx.Batch{}
	for _, res := range results {
		batch.Queue(`
			UPDATE atividades
			SET sync_status = $2,
			    external_id = COALESCE(external_id, $3),
			    last_synced_at = COALESCE($4, last_synced_at),
			    sync_attempts = $5,
			    last_sync_error = $6,
			    updated_at = NOW()
			WHERE id = $1
		`, res.EntityID, string(res.Status), res.ExternalID, res.SyncedAt, res.Attempts, res.LastError)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("applying batched sync results: %w", err)
		}
	}
	return nil
}

// SoftDeleteAtividade marks the entity removed and cancels its outstanding
// queue items so the dispatcher never attempts delivery for it again.
// Returns how many items were cancelled.
func (s *PostgresStore) SoftDeleteAtividade(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE atividades
		SET deleted_at = NOW(), sync_status = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id, string(domain.SyncSoftDeleted))
	if err != nil {
		return 0, fmt.Errorf("soft deleting atividade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, domain.ErrEntityNotFound
	}

	return s.CancelPendingForEntity(ctx, id, "entity soft deleted")
}

// TouchSyncPending resets the entity sync fields to pending. Producers call
// this right after enqueuing a change for an existing entity.
func (s *PostgresStore) TouchSyncPending(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE atividades
		SET sync_status = $2, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id, string(domain.SyncPending))
	if err != nil {
		return fmt.Errorf("resetting sync status: %w", err)
	}
	return nil
}
