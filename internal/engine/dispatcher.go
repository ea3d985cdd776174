package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adminhub/sync-engine/internal/domain"
	"github.com/google/uuid"
)

// Storage writes are retried a few times before a cycle gives up; the next
// scheduled cycle picks the work up again.
const (
	storageRetries    = 3
	storageRetryDelay = 200 * time.Millisecond
)

// QueueStore is the queue capability the dispatcher needs. Implemented by
// store.PostgresStore.
type QueueStore interface {
	FetchReady(ctx context.Context, queue string, limit int) ([]domain.QueueItem, error)
	ReclaimStale(ctx context.Context, queue string, cutoff time.Time) (int64, error)
	MarkInProgress(ctx context.Context, id uuid.UUID) (bool, error)
	MarkSucceeded(ctx context.Context, id uuid.UUID) error
	MarkRetrying(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
	CancelItem(ctx context.Context, id uuid.UUID, reason string) error
}

// EntityStore is the entity capability the dispatcher needs.
type EntityStore interface {
	GetAtividade(ctx context.Context, id uuid.UUID) (*domain.Atividade, error)
	ApplySyncResults(ctx context.Context, results []domain.SyncResult) error
}

// LogStore appends audit rows.
type LogStore interface {
	AppendSyncLog(ctx context.Context, log domain.SyncLog) error
}

// Submitter delivers one payload to the remote system. Implemented by
// remote.Client.
type Submitter interface {
	Submit(ctx context.Context, payload []byte, correlationID string) domain.Outcome
}

// Recorder receives delivery measurements. Implemented by metrics.Metrics.
type Recorder interface {
	RecordAttempt(outcome string, latency time.Duration)
	RecordClaimConflict()
}

// Notifier receives one notification per resolved attempt, for live operator
// feeds. Implemented by feed.Hub.
type Notifier interface {
	SyncResolved(item domain.QueueItem, outcome domain.Outcome, latency time.Duration)
}

// Config carries the dispatcher tuning knobs. ClaimTimeout is how long a
// claim may sit in_progress before it is considered abandoned by a dead
// worker and reclaimed.
type Config struct {
	Queue        string
	BatchSize    int
	MaxRetries   int
	Backoff      Backoff
	ClaimTimeout time.Duration
}

// CycleStats summarizes one dispatcher cycle.
type CycleStats struct {
	Fetched   int
	Reclaimed int
	Claimed   int
	Skipped   int
	Succeeded int
	Retried   int
	Failed    int
	Cancelled int
}

// Dispatcher drains the queue: it claims ready items, delivers them through
// the submitter and keeps queue status, entity sync state and the audit log
// consistent with each outcome. Multiple dispatcher instances may run
// against the same queue; MarkInProgress is the only mutual exclusion.
type Dispatcher struct {
	cfg      Config
	queue    QueueStore
	entities EntityStore
	logs     LogStore
	remote   Submitter
	pool     *Pool
	recorder Recorder
	notifier Notifier
	logger   *slog.Logger

	statsMu  sync.Mutex
	cycleErr error
}

// addStat bumps one cycle counter. Pool workers resolve items concurrently,
// so counter writes are serialized here.
func (d *Dispatcher) addStat(n *int) {
	d.statsMu.Lock()
	*n++
	d.statsMu.Unlock()
}

// noteCycleErr keeps the first storage failure seen while resolving items so
// RunCycle can surface it once the batch finishes. Later failures of the same
// cycle are already logged at their call sites.
func (d *Dispatcher) noteCycleErr(err error) {
	d.statsMu.Lock()
	if d.cycleErr == nil {
		d.cycleErr = err
	}
	d.statsMu.Unlock()
}

func (d *Dispatcher) takeCycleErr() error {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	err := d.cycleErr
	d.cycleErr = nil
	return err
}

// NewDispatcher wires a dispatcher. recorder and notifier may be nil.
func NewDispatcher(cfg Config, queue QueueStore, entities EntityStore, logs LogStore, remote Submitter, pool *Pool, recorder Recorder, notifier Notifier, logger *slog.Logger) *Dispatcher {
	if cfg.Queue == "" {
		cfg.Queue = domain.DefaultQueue
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 20
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 5
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = 5 * time.Minute
	}

	return &Dispatcher{
		cfg:      cfg,
		queue:    queue,
		entities: entities,
		logs:     logs,
		remote:   remote,
		pool:     pool,
		recorder: recorder,
		notifier: notifier,
		logger:   logger,
	}
}

// RunCycle processes one batch of ready items. Entity sync-state updates for
// everything that resolved in the cycle are applied in one batch at the end.
// A storage failure that survives its retries aborts the cycle with an
// error; the process stays up and the next tick retries.
func (d *Dispatcher) RunCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats
	d.takeCycleErr() // drop leftovers from an aborted cycle

	// Claims orphaned by a crashed worker go back to pending before the
	// fetch so the same cycle can pick them up again.
	var reclaimed int64
	err := d.withStorageRetry(ctx, "reclaim stale claims", func() error {
		var err error
		reclaimed, err = d.queue.ReclaimStale(ctx, d.cfg.Queue, time.Now().UTC().Add(-d.cfg.ClaimTimeout))
		return err
	})
	if err != nil {
		return stats, err
	}
	if reclaimed > 0 {
		stats.Reclaimed = int(reclaimed)
		d.logger.Warn("reclaimed stale claims", "queue", d.cfg.Queue, "count", reclaimed)
	}

	var items []domain.QueueItem
	err = d.withStorageRetry(ctx, "fetch ready items", func() error {
		var err error
		items, err = d.queue.FetchReady(ctx, d.cfg.Queue, d.cfg.BatchSize)
		return err
	})
	if err != nil {
		return stats, err
	}

	stats.Fetched = len(items)
	if len(items) == 0 {
		return stats, nil
	}

	results := d.pool.Process(ctx, items, func(ctx context.Context, item domain.QueueItem) *domain.SyncResult {
		return d.processItem(ctx, item, &stats)
	})

	if len(results) > 0 {
		err := d.withStorageRetry(ctx, "apply entity sync results", func() error {
			return d.entities.ApplySyncResults(ctx, results)
		})
		if err != nil {
			return stats, err
		}
	}

	// Per-item storage failures do not stop the rest of the batch, but the
	// cycle must not report success when one happened.
	if err := d.takeCycleErr(); err != nil {
		return stats, err
	}

	if stats.Claimed > 0 {
		d.logger.Info("dispatch cycle complete",
			"fetched", stats.Fetched,
			"claimed", stats.Claimed,
			"succeeded", stats.Succeeded,
			"retried", stats.Retried,
			"failed", stats.Failed,
			"cancelled", stats.Cancelled,
		)
	}

	return stats, nil
}

// processItem runs the full per-item algorithm and returns the entity-state
// change to batch-apply, or nil when the item produced none.
func (d *Dispatcher) processItem(ctx context.Context, item domain.QueueItem, stats *CycleStats) *domain.SyncResult {
	entity, err := d.loadEntity(ctx, item, stats)
	if err != nil || entity == nil {
		return nil
	}

	// Cancel instead of delivering when the entity was removed locally.
	// Delete operations still go out: they propagate the removal itself.
	if entity.SoftDeleted() && item.Operation != domain.OpDelete {
		d.cancelForSoftDelete(ctx, item, stats)
		return nil
	}

	claimed, err := d.claim(ctx, item)
	if err != nil {
		d.logger.Error("claim failed", "item_id", item.ID, "error", err)
		d.noteCycleErr(err)
		return nil
	}
	if !claimed {
		// Another dispatcher instance owns this item.
		d.addStat(&stats.Skipped)
		if d.recorder != nil {
			d.recorder.RecordClaimConflict()
		}
		return nil
	}
	d.addStat(&stats.Claimed)

	payload, err := buildPayload(item, entity)
	if err != nil {
		// Unserializable entity state is a permanent condition.
		return d.applyOutcome(ctx, item, entity, domain.Permanent(fmt.Sprintf("building payload: %v", err)), nil, 0, stats)
	}

	start := time.Now()
	outcome := d.remote.Submit(ctx, payload, item.CorrelationID.String())
	latency := time.Since(start)

	if d.recorder != nil {
		d.recorder.RecordAttempt(outcome.String(), latency)
	}
	if d.notifier != nil {
		d.notifier.SyncResolved(item, outcome, latency)
	}

	return d.applyOutcome(ctx, item, entity, outcome, payload, latency, stats)
}

// applyOutcome persists the queue transition and audit row for one resolved
// attempt and returns the entity-state change. Ordering is deliberate: the
// remote call already happened, so every branch below must land in the audit
// log before the in-memory outcome is discarded.
func (d *Dispatcher) applyOutcome(ctx context.Context, item domain.QueueItem, entity *domain.Atividade, outcome domain.Outcome, payload []byte, latency time.Duration, stats *CycleStats) *domain.SyncResult {
	now := time.Now().UTC()
	attempt := item.Attempts + 1

	logRow := domain.SyncLog{
		CorrelationID: item.CorrelationID,
		EntityID:      item.EntityID,
		Attempt:       attempt,
		Request:       payload,
		LatencyMs:     latency.Milliseconds(),
		CreatedAt:     now,
	}

	var (
		result *domain.SyncResult
		op     string
		write  func() error
	)

	switch outcome.Kind {
	case domain.OutcomeSuccess:
		d.addStat(&stats.Succeeded)
		logRow.Outcome = domain.LogSuccess
		logRow.Response = responseSnapshot(outcome)
		op = "mark succeeded"
		write = func() error { return d.queue.MarkSucceeded(ctx, item.ID) }

		externalID := outcome.ExternalID
		result = &domain.SyncResult{
			EntityID: item.EntityID,
			Status:   domain.SyncSynced,
			Attempts: attempt,
			SyncedAt: &now,
		}
		if externalID != "" {
			result.ExternalID = &externalID
		}
		d.logger.Info("sync succeeded",
			"item_id", item.ID,
			"entity_id", item.EntityID,
			"attempt", attempt,
			"latency_ms", latency.Milliseconds(),
		)

	case domain.OutcomeRetriable:
		if attempt >= d.cfg.MaxRetries {
			// Retry budget exhausted: this retriable failure is terminal.
			d.addStat(&stats.Failed)
			logRow.Outcome = domain.LogPermanentFailure
			logRow.Response = &outcome.Reason
			op = "mark failed"
			write = func() error { return d.queue.MarkFailed(ctx, item.ID, outcome.Reason) }

			reason := outcome.Reason
			result = &domain.SyncResult{
				EntityID:  item.EntityID,
				Status:    domain.SyncFailed,
				Attempts:  attempt,
				LastError: &reason,
			}
			d.logger.Warn("sync failed permanently (retries exhausted)",
				"item_id", item.ID,
				"entity_id", item.EntityID,
				"attempts", attempt,
				"error", outcome.Reason,
			)
		} else {
			d.addStat(&stats.Retried)
			nextAt := d.cfg.Backoff.NextAttemptAt(now, attempt)
			logRow.Outcome = domain.LogRetry
			logRow.Response = &outcome.Reason
			op = "mark retrying"
			write = func() error { return d.queue.MarkRetrying(ctx, item.ID, nextAt, outcome.Reason) }

			reason := outcome.Reason
			result = &domain.SyncResult{
				EntityID:  item.EntityID,
				Status:    domain.SyncRetrying,
				Attempts:  attempt,
				LastError: &reason,
			}
			d.logger.Warn("sync attempt failed, scheduled retry",
				"item_id", item.ID,
				"entity_id", item.EntityID,
				"attempt", attempt,
				"next_attempt_at", nextAt,
				"error", outcome.Reason,
			)
		}

	case domain.OutcomePermanent:
		// The remote rejected the payload: retrying wastes attempts and
		// delays detection, so the budget is irrelevant here.
		d.addStat(&stats.Failed)
		logRow.Outcome = domain.LogPermanentFailure
		logRow.Response = &outcome.Reason
		op = "mark failed"
		write = func() error { return d.queue.MarkFailed(ctx, item.ID, outcome.Reason) }

		reason := outcome.Reason
		result = &domain.SyncResult{
			EntityID:  item.EntityID,
			Status:    domain.SyncFailed,
			Attempts:  attempt,
			LastError: &reason,
		}
		d.logger.Warn("sync rejected by remote",
			"item_id", item.ID,
			"entity_id", item.EntityID,
			"http_status", outcome.HTTPStatus,
			"error", outcome.Reason,
		)
	}

	// The audit row lands before the status write: the remote call already
	// happened, and the outcome must not vanish just because the queue
	// update failed. The row stays in_progress in that case and the stale
	// reclaim re-delivers it later.
	if err := d.withStorageRetry(ctx, "append sync log", func() error { return d.logs.AppendSyncLog(ctx, logRow) }); err != nil {
		d.logger.Error("failed to append sync log", "item_id", item.ID, "error", err)
		d.noteCycleErr(err)
	}

	if err := d.markQueue(ctx, op, write); err != nil {
		if !isStateRace(err) {
			d.noteCycleErr(err)
		}
		return nil
	}

	// A soft-deleted entity keeps its terminal sync status; only deletes
	// reach this point for such entities and the queue row already records
	// the outcome.
	if entity.SoftDeleted() {
		return nil
	}

	return result
}

func (d *Dispatcher) loadEntity(ctx context.Context, item domain.QueueItem, stats *CycleStats) (*domain.Atividade, error) {
	var entity *domain.Atividade
	err := d.withStorageRetry(ctx, "load entity", func() error {
		var err error
		entity, err = d.entities.GetAtividade(ctx, item.EntityID)
		if errors.Is(err, domain.ErrEntityNotFound) {
			entity, err = nil, nil
		}
		return err
	})
	if err != nil {
		d.logger.Error("failed to load entity", "item_id", item.ID, "entity_id", item.EntityID, "error", err)
		d.noteCycleErr(err)
		return nil, err
	}

	if entity == nil {
		// Hard-deleted or never existed: nothing to deliver, nothing to update.
		d.addStat(&stats.Cancelled)
		if err := d.markQueue(ctx, "cancel orphan item", func() error {
			return d.queue.CancelItem(ctx, item.ID, "entity no longer exists")
		}); err == nil {
			d.appendCancelLog(ctx, item, "entity no longer exists")
		} else if !isStateRace(err) {
			d.noteCycleErr(err)
		}
		return nil, nil
	}

	return entity, nil
}

func (d *Dispatcher) cancelForSoftDelete(ctx context.Context, item domain.QueueItem, stats *CycleStats) {
	d.addStat(&stats.Cancelled)
	err := d.markQueue(ctx, "cancel soft-deleted item", func() error {
		return d.queue.CancelItem(ctx, item.ID, "entity soft deleted")
	})
	if err != nil {
		if !isStateRace(err) {
			d.noteCycleErr(err)
		}
		return
	}
	d.appendCancelLog(ctx, item, "entity soft deleted")
	d.logger.Info("cancelled item for soft-deleted entity", "item_id", item.ID, "entity_id", item.EntityID)
}

func (d *Dispatcher) appendCancelLog(ctx context.Context, item domain.QueueItem, reason string) {
	row := domain.SyncLog{
		CorrelationID: item.CorrelationID,
		EntityID:      item.EntityID,
		Attempt:       item.Attempts,
		Outcome:       domain.LogCancelled,
		Response:      &reason,
		CreatedAt:     time.Now().UTC(),
	}
	if err := d.withStorageRetry(ctx, "append cancel log", func() error { return d.logs.AppendSyncLog(ctx, row) }); err != nil {
		d.logger.Error("failed to append cancel log", "item_id", item.ID, "error", err)
		d.noteCycleErr(err)
	}
}

func (d *Dispatcher) claim(ctx context.Context, item domain.QueueItem) (bool, error) {
	var claimed bool
	err := d.withStorageRetry(ctx, "claim item", func() error {
		var err error
		claimed, err = d.queue.MarkInProgress(ctx, item.ID)
		return err
	})
	return claimed, err
}

// markQueue wraps a queue status write with the storage retry policy. A
// benign miss (the row moved under us, e.g. operator cancellation racing the
// delivery) is logged and swallowed: last write wins.
func (d *Dispatcher) markQueue(ctx context.Context, op string, fn func() error) error {
	err := d.withStorageRetry(ctx, op, fn)
	if err == nil {
		return nil
	}
	if isStateRace(err) {
		d.logger.Warn("queue status write raced another transition", "op", op, "error", err)
		return err
	}
	d.logger.Error("queue status write failed", "op", op, "error", err)
	return err
}

// isStateRace reports whether a queue write missed because the row moved
// under us, as opposed to storage failing.
func isStateRace(err error) bool {
	return errors.Is(err, domain.ErrItemNotFound) ||
		errors.Is(err, domain.ErrItemTerminal) ||
		errors.Is(err, domain.ErrClaimConflict)
}

func (d *Dispatcher) withStorageRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < storageRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		// State-machine misses are not storage failures; retrying them
		// cannot change the answer.
		if errors.Is(err, domain.ErrItemNotFound) || errors.Is(err, domain.ErrItemTerminal) ||
			errors.Is(err, domain.ErrClaimConflict) || errors.Is(err, domain.ErrEntityNotFound) {
			return err
		}
		if i < storageRetries-1 {
			select {
			case <-time.After(storageRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// syncPayload is the wire shape sent to the remote system.
type syncPayload struct {
	CorrelationID string          `json:"correlation_id"`
	Operation     domain.Operation `json:"operation"`
	Atividade     payloadEntity   `json:"atividade"`
}

type payloadEntity struct {
	ID          string  `json:"id"`
	Titulo      string  `json:"titulo"`
	Descricao   string  `json:"descricao,omitempty"`
	Responsavel string  `json:"responsavel,omitempty"`
	ExternalID  *string `json:"external_id,omitempty"`
}

// responseSnapshot renders the successful remote response for the audit row.
func responseSnapshot(outcome domain.Outcome) *string {
	snap := fmt.Sprintf("http=%d external_id=%s", outcome.HTTPStatus, outcome.ExternalID)
	return &snap
}

// buildPayload serializes the entity's current state, not a snapshot from
// enqueue time: a retried update always carries the freshest data.
func buildPayload(item domain.QueueItem, entity *domain.Atividade) ([]byte, error) {
	return json.Marshal(syncPayload{
		CorrelationID: item.CorrelationID.String(),
		Operation:     item.Operation,
		Atividade: payloadEntity{
			ID:          entity.ID.String(),
			Titulo:      entity.Titulo,
			Descricao:   entity.Descricao,
			Responsavel: entity.Responsavel,
			ExternalID:  entity.ExternalID,
		},
	})
}
