package api

import (
	"net/http"

	"github.com/adminhub/sync-engine/internal/feed"
	"github.com/adminhub/sync-engine/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates and configures the HTTP router for the operator surface.
func NewRouter(pgStore *store.PostgresStore, hub *feed.Hub, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// Handlers
	queueHandler := NewQueueHandler(pgStore)
	logHandler := NewSyncLogHandler(pgStore)
	atividadeHandler := NewAtividadeHandler(pgStore)
	statsHandler := NewStatsHandler(pgStore, hub)

	// Live feed endpoint
	r.Get("/ws", hub.HandleWebSocket)

	// Prometheus scrape endpoint
	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler())

		r.Route("/queue", func(r chi.Router) {
			r.Post("/", queueHandler.Enqueue)
			r.Get("/", queueHandler.List)
			r.Get("/{id}", queueHandler.Get)
			r.Post("/{id}/cancel", queueHandler.Cancel)
			r.Post("/{id}/requeue", queueHandler.Requeue)
		})

		r.Get("/sync-logs", logHandler.List)

		r.Route("/atividades", func(r chi.Router) {
			r.Get("/{id}/sync-status", atividadeHandler.SyncStatus)
			r.Delete("/{id}", atividadeHandler.SoftDelete)
		})

		r.Get("/stats", statsHandler.Stats)
	})

	return r
}
