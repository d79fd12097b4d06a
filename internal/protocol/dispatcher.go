package protocol

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Conn is the session side of a realtime connection.
type Conn interface {
	Subscribe(ctx context.Context, matchID string) error
	Unsubscribe()
	Reply(v any) error
}

// HandleMessage handles one frame received on a realtime connection. The
// subscribed ack is queued before the subscription so it precedes the
// replay. Protocol errors are answered with an error reply; the returned
// error is only set when the connection can no longer be written to.
func HandleMessage(ctx context.Context, conn Conn, raw []byte, log *zap.Logger) error {
	msg, err := DecodeMessage(raw)
	if err != nil {
		log.Debug("decode error", zap.Error(err))
		return conn.Reply(ErrorReply(err))
	}

	switch msg.Type {
	case TypePing:
		return conn.Reply(Reply{Type: TypePong})

	case TypeSubscribe:
		if msg.MatchID == "" {
			return conn.Reply(ErrorReply(fmt.Errorf("%w: subscribe needs matchId", ErrBadMessage)))
		}
		if err := conn.Reply(Reply{Type: TypeSubscribed, MatchID: msg.MatchID}); err != nil {
			return err
		}
		return conn.Subscribe(ctx, msg.MatchID)

	case TypeUnsubscribe:
		conn.Unsubscribe()
		return conn.Reply(Reply{Type: TypeUnsubscribed})
	}

	log.Debug("unknown message type", zap.String("type", msg.Type))
	return conn.Reply(ErrorReply(fmt.Errorf("%w: unknown type %q", ErrBadMessage, msg.Type)))
}
