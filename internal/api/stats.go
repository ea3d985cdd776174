package api

import (
	"net/http"

	"github.com/adminhub/sync-engine/internal/feed"
	"github.com/adminhub/sync-engine/internal/store"
)

type StatsHandler struct {
	store *store.PostgresStore
	hub   *feed.Hub
}

func NewStatsHandler(s *store.PostgresStore, hub *feed.Hub) *StatsHandler {
	return &StatsHandler{store: s, hub: hub}
}

// Stats returns the aggregated operator view of the engine.
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetSyncStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get sync stats")
		return
	}

	type statsResponse struct {
		store.SyncStats
		FeedClients int `json:"feed_clients"`
	}

	respondJSON(w, http.StatusOK, statsResponse{
		SyncStats:   *stats,
		FeedClients: h.hub.ClientCount(),
	})
}
