package store

import (
	"context"
	"fmt"
)

// SyncStats holds the aggregated operator view of the engine: queue depth by
// status, failure counts and delivery latency.
type SyncStats struct {
	QueueDepth        map[string]int `json:"queue_depth"`
	ReadyItems        int            `json:"ready_items"`
	FailedItems       int            `json:"failed_items"`
	SuccessCount      int            `json:"success_count"`
	RetryCount        int            `json:"retry_count"`
	PermanentFailures int            `json:"permanent_failures"`
	AvgLatencyMs      float64        `json:"avg_latency_ms"`
	EntitiesOutOfSync int            `json:"entities_out_of_sync"`
}

// GetSyncStats returns aggregated statistics from the queue, the audit log
// and the entity table.
func (s *PostgresStore) GetSyncStats(ctx context.Context) (*SyncStats, error) {
	stats := &SyncStats{QueueDepth: map[string]int{}}

	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM sync_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("querying queue depth: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning queue depth: %w", err)
		}
		stats.QueueDepth[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating queue depth: %w", err)
	}

	stats.FailedItems = stats.QueueDepth["failed"]

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM sync_queue
		WHERE status IN ('pending', 'retrying')
		  AND (next_attempt_at IS NULL OR next_attempt_at <= NOW())
	`).Scan(&stats.ReadyItems)
	if err != nil {
		return nil, fmt.Errorf("querying ready items: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE outcome = 'success') AS success,
			COUNT(*) FILTER (WHERE outcome = 'retry') AS retry,
			COUNT(*) FILTER (WHERE outcome = 'permanent_failure') AS permanent,
			COALESCE(AVG(latency_ms) FILTER (WHERE latency_ms > 0), 0) AS avg_latency
		FROM sync_logs
	`).Scan(&stats.SuccessCount, &stats.RetryCount, &stats.PermanentFailures, &stats.AvgLatencyMs)
	if err != nil {
		return nil, fmt.Errorf("querying log stats: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM atividades
		WHERE deleted_at IS NULL AND sync_status NOT IN ('synced', 'soft_deleted')
	`).Scan(&stats.EntitiesOutOfSync)
	if err != nil {
		return nil, fmt.Errorf("querying out-of-sync entities: %w", err)
	}

	return stats, nil
}
