package store

import (
	"context"
	"fmt"
	"time"

	"github.com/adminhub/sync-engine/internal/domain"
	"github.com/google/uuid"
)

// AppendSyncLog inserts one audit row. There is deliberately no update or
// delete counterpart: the log is the durable record of what happened.
func (s *PostgresStore) AppendSyncLog(ctx context.Context, log domain.SyncLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_logs (id, correlation_id, entity_id, attempt, outcome, request, response, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, log.ID, log.CorrelationID, log.EntityID, log.Attempt, string(log.Outcome),
		log.Request, log.Response, log.LatencyMs, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting sync log: %w", err)
	}
	return nil
}

// ListSyncLogs returns audit rows filtered by entity and/or correlation id,
// newest first.
func (s *PostgresStore) ListSyncLogs(ctx context.Context, entityID, correlationID *uuid.UUID, limit int) ([]domain.SyncLog, error) {
	query := `SELECT id, correlation_id, entity_id, attempt, outcome, request, response, latency_ms, created_at FROM sync_logs`
	args := []interface{}{}
	conditions := []string{}

	if entityID != nil {
		conditions = append(conditions, fmt.Sprintf("entity_id = $%d", len(args)+1))
		args = append(args, *entityID)
	}
	if correlationID != nil {
		conditions = append(conditions, fmt.Sprintf("correlation_id = $%d", len(args)+1))
		args = append(args, *correlationID)
	}

	if len(conditions) > 0 {
		query += " WHERE "
		for i, c := range conditions {
			if i > 0 {
				query += " AND "
			}
			query += c
		}
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sync logs: %w", err)
	}
	defer rows.Close()

	logs := []domain.SyncLog{}
	for rows.Next() {
		var (
			l       domain.SyncLog
			outcome string
		)
		err := rows.Scan(
			&l.ID, &l.CorrelationID, &l.EntityID, &l.Attempt, &outcome,
			&l.Request, &l.Response, &l.LatencyMs, &l.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning sync log: %w", err)
		}
		l.Outcome = domain.LogOutcome(outcome)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync logs: %w", err)
	}

	return logs, nil
}

// PurgeSyncLogs deletes audit rows older than the cutoff. Retention sweeper
// only.
func (s *PostgresStore) PurgeSyncLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sync_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging sync logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
