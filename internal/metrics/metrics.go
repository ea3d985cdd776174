// Package metrics exposes Prometheus collectors for the sync engine.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/adminhub/sync-engine/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. It implements
// engine.Recorder and engine.DepthReporter.
type Metrics struct {
	attempts        *prometheus.CounterVec
	claimConflicts  prometheus.Counter
	deliveryLatency prometheus.Histogram
	queueDepth      *prometheus.GaugeVec

	stats  statsProvider
	logger *slog.Logger
}

type statsProvider interface {
	GetSyncStats(ctx context.Context) (*store.SyncStats, error)
}

// New registers the collectors on reg and returns the recorder. stats feeds
// the queue depth gauges and may be nil.
func New(reg prometheus.Registerer, stats statsProvider, logger *slog.Logger) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_delivery_attempts_total",
			Help: "Delivery attempts by outcome.",
		}, []string{"outcome"}),
		claimConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "sync_claim_conflicts_total",
			Help: "Items skipped because another dispatcher instance claimed them first.",
		}),
		deliveryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sync_delivery_latency_seconds",
			Help:    "Latency of remote delivery calls.",
			Buckets: prometheus.DefBuckets,
		}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sync_queue_depth",
			Help: "Queue items by status.",
		}, []string{"status"}),
		stats:  stats,
		logger: logger,
	}
}

// RecordAttempt counts one resolved delivery attempt.
func (m *Metrics) RecordAttempt(outcome string, latency time.Duration) {
	m.attempts.WithLabelValues(outcome).Inc()
	m.deliveryLatency.Observe(latency.Seconds())
}

// RecordClaimConflict counts one benign claim race.
func (m *Metrics) RecordClaimConflict() {
	m.claimConflicts.Inc()
}

// ReportDepth refreshes the queue depth gauges from storage.
func (m *Metrics) ReportDepth(ctx context.Context) {
	if m.stats == nil {
		return
	}

	stats, err := m.stats.GetSyncStats(ctx)
	if err != nil {
		m.logger.Warn("failed to refresh queue depth gauges", "error", err)
		return
	}

	for status, count := range stats.QueueDepth {
		m.queueDepth.WithLabelValues(status).Set(float64(count))
	}
}
