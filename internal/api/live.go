package api

import (
	"net/http"

	"github.com/zoravur/livescore/internal/reactive"
)

type subscriptionsView struct {
	Total   int                         `json:"total"`
	Matches []reactive.MatchSubscribers `json:"matches"`
}

// GET /api/subscriptions
func (h *Handlers) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	snap := h.Registry.Snapshot()
	if snap == nil {
		snap = []reactive.MatchSubscribers{}
	}
	writeJSON(w, http.StatusOK, subscriptionsView{Total: h.Registry.Len(), Matches: snap})
}
