package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps match documents in a map. It is safe for concurrent
// use and supports Watch through an in-process Feed.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]Document
	feed Feed
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Document)}
}

func (m *MemoryStore) Get(_ context.Context, matchID string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[matchID]
	if !ok {
		return nil, ErrNotFound
	}
	return Clone(doc), nil
}

func (m *MemoryStore) UpsertMerge(_ context.Context, matchID string, partial Document) (Document, error) {
	if partial == nil {
		return nil, ErrInvalidDocument
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	merged := Merge(m.docs[matchID], partial)
	m.docs[matchID] = merged

	// emitted under the write lock so watchers observe commit order
	m.feed.Emit(Change{MatchID: matchID, Document: merged})
	return Clone(merged), nil
}

func (m *MemoryStore) List(_ context.Context) ([]Match, error) {
	m.mu.RLock()
	out := make([]Match, 0, len(m.docs))
	for id, doc := range m.docs {
		out = append(out, Match{ID: id, Document: Clone(doc)})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Watch(ctx context.Context) (<-chan Change, error) {
	return m.feed.Watch(ctx)
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

// Watchers reports how many Watch calls are live.
func (m *MemoryStore) Watchers() int { return m.feed.Watchers() }
