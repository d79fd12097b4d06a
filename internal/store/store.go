// Package store defines the match document store contract and an
// in-memory implementation of it.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound reports that no document is stored under a match id.
	ErrNotFound = errors.New("match not found")
	// ErrUnavailable wraps failures of the backing store.
	ErrUnavailable = errors.New("store unavailable")
	// ErrInvalidDocument rejects partial documents that are not JSON objects.
	ErrInvalidDocument = errors.New("invalid document")
	// ErrWatchUnsupported is returned by drivers that have no change feed.
	ErrWatchUnsupported = errors.New("change feed not supported")
)

// Document is the score state of one match: field name -> value.
type Document map[string]any

// Match pairs a match id with its current document.
type Match struct {
	ID       string
	Document Document
}

// Change is one notification from a store change feed. Document is nil
// when the feed only carries the key.
type Change struct {
	MatchID  string
	Document Document
}

// Reader is the read side used by subscription replay.
type Reader interface {
	Get(ctx context.Context, matchID string) (Document, error)
}

// MatchStore is the document store the HTTP API writes through.
type MatchStore interface {
	Reader

	// UpsertMerge overlays partial onto the stored document, creating it if
	// absent, and returns the full merged document.
	UpsertMerge(ctx context.Context, matchID string, partial Document) (Document, error)

	// List returns every stored match ordered by id.
	List(ctx context.Context) ([]Match, error)

	Ping(ctx context.Context) error
	Close() error
}

// Watcher is the optional change-feed capability. The returned channel is
// closed when ctx is done or the feed fails permanently.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Change, error)
}

// Flatten renders a match as a single object with its id under "id", the
// shape used on the wire for list responses and score updates.
func Flatten(matchID string, doc Document) map[string]any {
	out := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	out["id"] = matchID
	return out
}
