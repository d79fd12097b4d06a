// Package api is the HTTP surface: REST reads and writes of match
// documents plus the WebSocket and SSE realtime channels.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zoravur/livescore/internal/logutil"
	"github.com/zoravur/livescore/internal/metrics"
	"github.com/zoravur/livescore/internal/reactive"
	"github.com/zoravur/livescore/internal/store"
)

const maxBodyBytes = 1 << 20

// Handlers holds the shared resources injected from app.Server.
type Handlers struct {
	Store       store.MatchStore
	Registry    *reactive.Registry
	Broadcaster *reactive.Broadcaster
	Metrics     *metrics.Metrics
	Log         *zap.Logger

	// PublishOnWrite makes the write path call Publish. It is false when a
	// store change feed drives publishing instead.
	PublishOnWrite bool

	StaticDir    string
	StoreTimeout time.Duration
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
}

func (h *Handlers) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.StoreTimeout)
}

// GET /api/matches
func (h *Handlers) handleListMatches(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.storeCtx(r.Context())
	defer cancel()

	matches, err := h.Store.List(ctx)
	if err != nil {
		logutil.FromContext(r.Context()).Error("list matches failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]map[string]any, 0, len(matches))
	for _, m := range matches {
		out = append(out, store.Flatten(m.ID, m.Document))
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/match/{id}
func (h *Handlers) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := h.storeCtx(r.Context())
	defer cancel()

	doc, err := h.Store.Get(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Match not found"})
	case err != nil:
		logutil.FromContext(r.Context()).Error("get match failed", zap.String("match_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, doc)
	}
}

// POST|PUT /api/match/{id}
func (h *Handlers) handleUpsertMatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	log := logutil.FromContext(r.Context()).With(zap.String("match_id", id))

	var body any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	partial, ok := body.(map[string]any)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "request body must be a JSON object"})
		return
	}

	ctx, cancel := h.storeCtx(r.Context())
	merged, err := h.Store.UpsertMerge(ctx, id, store.Document(partial))
	cancel()
	if err != nil {
		log.Error("upsert failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	log.Debug("match updated", logutil.Doc(merged))

	if h.PublishOnWrite {
		// the write is committed; a client hanging up must not cut the fan-out short
		n := h.Broadcaster.Publish(context.WithoutCancel(r.Context()), id, merged)
		log.Debug("published on write", zap.Int("delivered", n))
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Match updated", "data": partial})
}

// GET /healthz
func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.storeCtx(r.Context())
	defer cancel()

	if err := h.Store.Ping(ctx); err != nil {
		logutil.FromContext(r.Context()).Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
