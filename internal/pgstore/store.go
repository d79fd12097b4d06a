// Package pgstore keeps match documents in a PostgreSQL jsonb column.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/zoravur/livescore/internal/store"
)

const (
	getSQL  = `SELECT doc FROM matches WHERE id = $1`
	listSQL = `SELECT id, doc FROM matches ORDER BY id`

	// the merge runs inside one statement, so concurrent writers to the
	// same match serialize on the row lock
	upsertSQL = `
INSERT INTO matches (id, doc) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE
   SET doc = jsonb_merge_deep(matches.doc, EXCLUDED.doc),
       updated_at = now()
RETURNING doc`
)

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// Open connects a pool to dsn and checks it is reachable.
func Open(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return New(pool, log), nil
}

func New(pool *pgxpool.Pool, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{pool: pool, log: log.Named("pgstore")}
}

func (s *Store) Get(ctx context.Context, matchID string) (store.Document, error) {
	var doc store.Document
	err := s.pool.QueryRow(ctx, getSQL, matchID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return doc, nil
}

func (s *Store) UpsertMerge(ctx context.Context, matchID string, partial store.Document) (store.Document, error) {
	if partial == nil {
		return nil, store.ErrInvalidDocument
	}
	var doc store.Document
	if err := s.pool.QueryRow(ctx, upsertSQL, matchID, partial).Scan(&doc); err != nil {
		return nil, unavailable("upsert", err)
	}
	s.log.Debug("match upserted", zap.String("match_id", matchID))
	return doc, nil
}

func (s *Store) List(ctx context.Context) ([]store.Match, error) {
	rows, err := s.pool.Query(ctx, listSQL)
	if err != nil {
		return nil, unavailable("list", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Match, error) {
		var m store.Match
		err := row.Scan(&m.ID, &m.Document)
		return m, err
	})
	if err != nil {
		return nil, unavailable("list", err)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", store.ErrUnavailable, op, err)
}
