package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zoravur/livescore/internal/logutil"
	"github.com/zoravur/livescore/internal/protocol"
	"github.com/zoravur/livescore/internal/reactive"
)

// ssePing is queued by the keepalive ticker and written as a comment line.
type ssePing struct{}

// HandleEvents streams scoreUpdate events for one match over Server-Sent
// Events. The request is a session subscribed to {id} until the client
// goes away.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	log := logutil.FromContext(r.Context()).With(zap.String("match_id", id))
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		log.Warn("streaming unsupported", zap.Error(err))
		return
	}

	send := func(ctx context.Context, f reactive.Frame) error {
		if h.WriteTimeout > 0 {
			_ = rc.SetWriteDeadline(time.Now().Add(h.WriteTimeout))
		}
		switch {
		case f.Update != nil:
			b, err := json.Marshal(f.Update.Payload())
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", protocol.TypeScoreUpdate, b); err != nil {
				return err
			}
		case f.Reply == ssePing{}:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return err
			}
		default:
			return nil
		}
		return rc.Flush()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sess := reactive.NewSession(h.Registry, h.Store, send, h.sessionOptions(log, cancel)...)
	defer sess.Close()

	if err := sess.Subscribe(ctx, id); err != nil {
		log.Warn("sse subscribe failed", zap.Error(err))
		return
	}
	if h.PingInterval > 0 {
		go func() {
			t := time.NewTicker(h.PingInterval)
			defer t.Stop()
			for {
				select {
				case <-sess.Done():
					return
				case <-t.C:
					_ = sess.Reply(ssePing{})
				}
			}
		}()
	}

	log.Info("sse connected", zap.String("session", sess.ID()))
	_ = sess.Run(ctx)
	log.Info("sse disconnected", zap.String("session", sess.ID()))
}
