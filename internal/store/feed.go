package store

import (
	"context"
	"sync"
)

const feedBuffer = 256

// Feed fans committed changes out to in-process watchers. Emit blocks
// until every live watcher has accepted the change, so watchers see
// changes in emit order and none are dropped.
type Feed struct {
	mu   sync.Mutex
	subs map[*feedSub]struct{}
}

type feedSub struct {
	ch   chan Change
	done <-chan struct{}
}

// Watch registers a watcher that lives until ctx is done.
func (f *Feed) Watch(ctx context.Context) (<-chan Change, error) {
	sub := &feedSub{ch: make(chan Change, feedBuffer), done: ctx.Done()}

	f.mu.Lock()
	if f.subs == nil {
		f.subs = make(map[*feedSub]struct{})
	}
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, sub)
		close(sub.ch)
		f.mu.Unlock()
	}()
	return sub.ch, nil
}

// Emit delivers c to every watcher.
func (f *Feed) Emit(c Change) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs {
		select {
		case sub.ch <- Change{MatchID: c.MatchID, Document: Clone(c.Document)}:
		case <-sub.done:
		}
	}
}

// Watchers reports how many watchers are registered.
func (f *Feed) Watchers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
