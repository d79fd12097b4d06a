package wal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/zoravur/livescore/internal/store"
)

const (
	standbyMessageTimeout = 10 * time.Second
	reconnectDelay        = 5 * time.Second
	// duplicate_object, returned when the slot already exists
	codeDuplicateObject = "42710"
)

// Stream follows a logical replication slot on the matches table. The
// slot is permanent, so changes committed while the stream is down are
// delivered after it reconnects.
type Stream struct {
	DSN         string
	Slot        string
	Publication string
	Table       string
	Log         *zap.Logger
}

func NewStream(dsn, slot, publication string, log *zap.Logger) *Stream {
	if log == nil {
		log = zap.NewNop()
	}
	return &Stream{DSN: dsn, Slot: slot, Publication: publication, Table: "matches", Log: log.Named("wal")}
}

// Watch starts the replication reader. The channel closes once ctx is
// done; connection failures are retried in the background.
func (s *Stream) Watch(ctx context.Context) (<-chan store.Change, error) {
	cfg, err := pgconn.ParseConfig(s.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	cfg.RuntimeParams["replication"] = "database"

	out := make(chan store.Change, 64)
	go func() {
		defer close(out)
		for {
			err := s.connectAndRead(ctx, cfg, out)
			if ctx.Err() != nil {
				return
			}
			s.Log.Warn("replication connection error; reconnecting", zap.Error(err), zap.Duration("delay", reconnectDelay))
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
		}
	}()
	return out, nil
}

func (s *Stream) connectAndRead(ctx context.Context, cfg *pgconn.Config, out chan<- store.Change) error {
	conn, err := pgconn.ConnectConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	sys, err := pglogrepl.IdentifySystem(ctx, conn)
	if err != nil {
		return err
	}
	s.Log.Info("replication connected",
		zap.String("system_id", sys.SystemID),
		zap.Int32("timeline", sys.Timeline),
		zap.String("xlogpos", sys.XLogPos.String()),
		zap.String("db", sys.DBName))

	if err := s.ensurePublication(ctx, conn); err != nil {
		return err
	}
	if _, err := pglogrepl.CreateReplicationSlot(ctx, conn, s.Slot, "pgoutput",
		pglogrepl.CreateReplicationSlotOptions{}); err != nil {
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != codeDuplicateObject {
			return fmt.Errorf("create slot %s: %w", s.Slot, err)
		}
	}

	pluginArgs := []string{
		"proto_version '1'",
		"publication_names " + pq.QuoteLiteral(s.Publication),
	}
	// LSN 0 resumes from the slot's confirmed position
	if err := pglogrepl.StartReplication(ctx, conn, s.Slot, 0,
		pglogrepl.StartReplicationOptions{PluginArgs: pluginArgs}); err != nil {
		return fmt.Errorf("start replication: %w", err)
	}
	s.Log.Info("logical replication started", zap.String("slot", s.Slot), zap.String("publication", s.Publication))

	consumer := NewConsumer(s.Table, s.Log)
	// an idle slot must still answer keepalives
	lastLSN := sys.XLogPos
	nextStandbyMessageDeadline := time.Now().Add(standbyMessageTimeout)

	for {
		if time.Now().After(nextStandbyMessageDeadline) {
			if err := pglogrepl.SendStandbyStatusUpdate(ctx, conn,
				pglogrepl.StandbyStatusUpdate{WALWritePosition: lastLSN}); err != nil {
				return fmt.Errorf("standby status update: %w", err)
			}
			nextStandbyMessageDeadline = time.Now().Add(standbyMessageTimeout)
		}

		recvCtx, cancel := context.WithDeadline(ctx, nextStandbyMessageDeadline)
		rawMsg, err := conn.ReceiveMessage(recvCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if pgconn.Timeout(err) {
				continue
			}
			return err
		}

		if errMsg, ok := rawMsg.(*pgproto3.ErrorResponse); ok {
			return fmt.Errorf("replication error: %s", errMsg.Message)
		}
		msg, ok := rawMsg.(*pgproto3.CopyData)
		if !ok {
			s.Log.Debug("unexpected replication message", zap.String("type", fmt.Sprintf("%T", rawMsg)))
			continue
		}

		if len(msg.Data) == 0 {
			continue
		}

		switch msg.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(msg.Data[1:])
			if err != nil {
				s.Log.Warn("bad keepalive", zap.Error(err))
				continue
			}
			if pkm.ServerWALEnd > lastLSN {
				lastLSN = pkm.ServerWALEnd
			}
			if pkm.ReplyRequested {
				nextStandbyMessageDeadline = time.Time{}
			}

		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(msg.Data[1:])
			if err != nil {
				s.Log.Warn("bad xlog data", zap.Error(err))
				continue
			}
			change, ok, err := consumer.OnMessage(xld.WALData)
			if err != nil {
				s.Log.Warn("wal decode error", zap.Error(err))
			} else if ok {
				select {
				case out <- change:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			lastLSN = xld.WALStart + pglogrepl.LSN(len(xld.WALData))
		}
	}
}

func (s *Stream) ensurePublication(ctx context.Context, conn *pgconn.PgConn) error {
	results, err := conn.Exec(ctx,
		"SELECT 1 FROM pg_publication WHERE pubname = "+pq.QuoteLiteral(s.Publication)).ReadAll()
	if err != nil {
		return fmt.Errorf("check publication: %w", err)
	}
	if len(results) > 0 && len(results[0].Rows) > 0 {
		return nil
	}
	sql := fmt.Sprintf("CREATE PUBLICATION %s FOR TABLE %s",
		pq.QuoteIdentifier(s.Publication), pq.QuoteIdentifier(s.Table))
	if _, err := conn.Exec(ctx, sql).ReadAll(); err != nil {
		return fmt.Errorf("create publication: %w", err)
	}
	s.Log.Info("publication created", zap.String("publication", s.Publication))
	return nil
}
