package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zoravur/livescore/internal/logutil"
	"github.com/zoravur/livescore/internal/protocol"
	"github.com/zoravur/livescore/internal/reactive"
)

const maxMessageBytes = 4 << 10

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (h *Handlers) sessionOptions(log *zap.Logger, onClose func()) []reactive.SessionOption {
	return []reactive.SessionOption{
		reactive.WithLogger(log),
		reactive.WithMetrics(h.Metrics),
		reactive.WithSendBuffer(h.SendBuffer),
		reactive.WithStoreTimeout(h.StoreTimeout),
		reactive.WithOnClose(onClose),
	}
}

// HandleWS upgrades the connection and runs one session on it: this
// goroutine reads client messages, the session's Run writes.
func (h *Handlers) HandleWS(w http.ResponseWriter, r *http.Request) {
	log := logutil.FromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	send := func(ctx context.Context, f reactive.Frame) error {
		var v any = f.Reply
		if f.Update != nil {
			v = protocol.NewScoreUpdate(f.Update.Payload())
		}
		if h.WriteTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(h.WriteTimeout))
		}
		return conn.WriteJSON(v)
	}
	sess := reactive.NewSession(h.Registry, h.Store, send,
		h.sessionOptions(log, func() { _ = conn.Close() })...)
	defer sess.Close()
	log = log.With(zap.String("session", sess.ID()))
	log.Info("ws connected", zap.String("remote", r.RemoteAddr))

	ctx := r.Context()
	go func() {
		if err := sess.Run(ctx); err != nil && ctx.Err() == nil {
			log.Debug("write pump stopped", zap.Error(err))
		}
	}()
	if h.PingInterval > 0 {
		go h.keepalive(conn, sess)
		_ = conn.SetReadDeadline(time.Now().Add(2 * h.PingInterval))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * h.PingInterval))
		})
	}
	conn.SetReadLimit(maxMessageBytes)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("ws read error", zap.Error(err))
			}
			break
		}
		if err := protocol.HandleMessage(ctx, sess, raw, log); err != nil {
			log.Debug("dropping connection", zap.Error(err))
			break
		}
	}
	log.Info("ws disconnected")
}

// keepalive pings until the session closes. WriteControl may run
// concurrently with the session's writes.
func (h *Handlers) keepalive(conn *websocket.Conn, sess *reactive.Session) {
	t := time.NewTicker(h.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-sess.Done():
			return
		case <-t.C:
			deadline := time.Now().Add(h.PingInterval)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				sess.Close()
				return
			}
		}
	}
}
