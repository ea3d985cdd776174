package engine

import (
	"context"
	"log/slog"
	"time"
)

// DepthReporter refreshes queue depth gauges. Implemented by metrics.Metrics
// fed from the stats store.
type DepthReporter interface {
	ReportDepth(ctx context.Context)
}

// Loop drives the dispatcher on a fixed interval. It stands in for the
// external cron driver: each tick is one dispatch cycle.
type Loop struct {
	dispatcher *Dispatcher
	interval   time.Duration
	depth      DepthReporter
	logger     *slog.Logger
}

// NewLoop creates a poll loop. depth may be nil.
func NewLoop(dispatcher *Dispatcher, interval time.Duration, depth DepthReporter, logger *slog.Logger) *Loop {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Loop{dispatcher: dispatcher, interval: interval, depth: depth, logger: logger}
}

// Start runs cycles until the context is cancelled. A failed cycle is
// logged and the loop keeps going; the next tick retries the same work.
func (l *Loop) Start(ctx context.Context) {
	l.logger.Info("dispatch loop started", "interval", l.interval)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("dispatch loop stopping")
			return
		case <-ticker.C:
			if _, err := l.dispatcher.RunCycle(ctx); err != nil {
				l.logger.Error("dispatch cycle failed", "error", err)
			}
			if l.depth != nil {
				l.depth.ReportDepth(ctx)
			}
		}
	}
}
