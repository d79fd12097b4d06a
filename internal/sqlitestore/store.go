// Package sqlitestore keeps match documents in a single SQLite file for
// single-node deployments.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/zoravur/livescore/internal/store"
)

//go:embed migrations/*.sql
var embedded embed.FS

var migrations, _ = fs.Sub(embedded, "migrations")

// Store merges documents in Go inside a transaction. SQLite has a single
// writer anyway, so writes are serialized by mu and committed changes are
// emitted to watchers in commit order.
type Store struct {
	db   *sql.DB
	log  *zap.Logger
	mu   sync.Mutex
	feed store.Feed
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	db.SetMaxOpenConns(1)

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, log: log.Named("sqlitestore")}, nil
}

func dsn(path string) string {
	return "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL"
}

// Migrate applies every pending migration to db.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// MigratePath opens the database at path and migrates it.
func MigratePath(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return err
	}
	defer db.Close()
	return Migrate(ctx, db)
}

func (s *Store) Get(ctx context.Context, matchID string) (store.Document, error) {
	doc, err := get(ctx, s.db, matchID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, unavailable("get", err)
	}
	return doc, err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func get(ctx context.Context, q queryer, matchID string) (store.Document, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT doc FROM matches WHERE id = ?`, matchID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(raw)
}

func (s *Store) UpsertMerge(ctx context.Context, matchID string, partial store.Document) (store.Document, error) {
	if partial == nil {
		return nil, store.ErrInvalidDocument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("begin", err)
	}
	defer tx.Rollback()

	current, err := get(ctx, tx, matchID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, unavailable("upsert", err)
	}
	merged := store.Merge(current, partial)
	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidDocument, err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO matches (id, doc) VALUES (?, ?)
ON CONFLICT (id) DO UPDATE SET doc = excluded.doc, updated_at = CURRENT_TIMESTAMP`,
		matchID, string(raw)); err != nil {
		return nil, unavailable("upsert", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit", err)
	}

	// reread through json so watchers and callers see what a Get would
	doc, err := decode(string(raw))
	if err != nil {
		return nil, err
	}
	s.feed.Emit(store.Change{MatchID: matchID, Document: doc})
	return doc, nil
}

func (s *Store) List(ctx context.Context) ([]store.Match, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, doc FROM matches ORDER BY id`)
	if err != nil {
		return nil, unavailable("list", err)
	}
	defer rows.Close()

	var out []store.Match
	for rows.Next() {
		var (
			m   store.Match
			raw string
		)
		if err := rows.Scan(&m.ID, &raw); err != nil {
			return nil, unavailable("list", err)
		}
		if m.Document, err = decode(raw); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list", err)
	}
	return out, nil
}

// Watch streams every committed write made through this Store.
func (s *Store) Watch(ctx context.Context) (<-chan store.Change, error) {
	return s.feed.Watch(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func decode(raw string) (store.Document, error) {
	var doc store.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode stored document: %w", err)
	}
	return doc, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", store.ErrUnavailable, op, err)
}

// Watchers reports how many Watch calls are live.
func (s *Store) Watchers() int { return s.feed.Watchers() }
