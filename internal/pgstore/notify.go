package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/zoravur/livescore/internal/store"
)

// Channel is the NOTIFY channel the matches trigger publishes ids on.
const Channel = "match_changes"

var reconnectDelay = 2 * time.Second

// Watch streams the id of every committed insert or update. It holds a
// dedicated connection outside the pool and reconnects after failures;
// changes committed while disconnected are not replayed.
func (s *Store) Watch(ctx context.Context) (<-chan store.Change, error) {
	conn, err := s.listen(ctx)
	if err != nil {
		return nil, unavailable("listen", err)
	}

	out := make(chan store.Change, 64)
	go func() {
		defer close(out)
		for {
			err := s.pump(ctx, conn, out)
			_ = conn.Close(context.Background())
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("notification listener lost; reconnecting", zap.Error(err))

			for conn = nil; conn == nil; {
				select {
				case <-ctx.Done():
					return
				case <-time.After(reconnectDelay):
				}
				if conn, err = s.listen(ctx); err != nil {
					s.log.Warn("listen failed", zap.Error(err))
				}
			}
		}
	}()
	return out, nil
}

func (s *Store) listen(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.ConnectConfig(ctx, s.pool.Config().ConnConfig.Copy())
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{Channel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	return conn, nil
}

func (s *Store) pump(ctx context.Context, conn *pgx.Conn, out chan<- store.Change) error {
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		select {
		case out <- store.Change{MatchID: n.Payload}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
