package engine

import (
	"context"
	"log/slog"
	"time"
)

// SweepStore is the housekeeping capability: purge terminal queue rows and
// old audit rows. The dispatcher itself never deletes anything.
type SweepStore interface {
	PurgeTerminalItems(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeSyncLogs(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper periodically prunes rows older than the retention window.
type Sweeper struct {
	store     SweepStore
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

func NewSweeper(store SweepStore, retention, interval time.Duration, logger *slog.Logger) *Sweeper {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{store: store, retention: retention, interval: interval, logger: logger}
}

// Start sweeps once immediately, then on every interval until the context is
// cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("retention sweeper started", "retention", s.retention, "interval", s.interval)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopping")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.retention)

	items, err := s.store.PurgeTerminalItems(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to purge terminal queue items", "error", err)
	}

	logs, err := s.store.PurgeSyncLogs(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to purge sync logs", "error", err)
	}

	if items > 0 || logs > 0 {
		s.logger.Info("retention sweep complete", "items_purged", items, "logs_purged", logs)
	}
}
