package reactive

import (
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/zoravur/livescore/internal/metrics"
)

// Registry maps match ids to the subscribers currently registered for
// them. Each subscriber is registered under at most one match.
//
// Match sets are split across shards by match id so that subscribe and
// publish traffic on unrelated matches does not contend. The reverse
// index (subscriber -> match) is sharded by subscriber id. Lock order is
// always handle shard, then match shard.
type Registry struct {
	matches []*matchShard
	handles []*handleShard
	size    atomic.Int64
	metrics *metrics.Metrics
}

type matchShard struct {
	mu   sync.RWMutex
	subs map[string]map[Subscriber]struct{}
}

type handleShard struct {
	mu      sync.Mutex
	current map[Subscriber]string
}

// MatchSubscribers is one row of Registry.Snapshot.
type MatchSubscribers struct {
	MatchID     string `json:"matchId"`
	Subscribers int    `json:"subscribers"`
}

// NewRegistry returns an empty registry with the given shard count.
func NewRegistry(shards int, m *metrics.Metrics) *Registry {
	if shards <= 0 {
		shards = 1
	}
	r := &Registry{
		matches: make([]*matchShard, shards),
		handles: make([]*handleShard, shards),
		metrics: m,
	}
	for i := 0; i < shards; i++ {
		r.matches[i] = &matchShard{subs: make(map[string]map[Subscriber]struct{})}
		r.handles[i] = &handleShard{current: make(map[Subscriber]string)}
	}
	return r
}

func shardIndex(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func (r *Registry) matchShard(matchID string) *matchShard {
	return r.matches[shardIndex(matchID, len(r.matches))]
}

func (r *Registry) handleShard(sub Subscriber) *handleShard {
	return r.handles[shardIndex(sub.ID(), len(r.handles))]
}

// Subscribe registers sub under matchID, dropping any registration it
// has under another match. Subscribing twice to the same match is a no-op.
func (r *Registry) Subscribe(matchID string, sub Subscriber) {
	hs := r.handleShard(sub)
	hs.mu.Lock()
	defer hs.mu.Unlock()

	prev, ok := hs.current[sub]
	if ok && prev == matchID {
		return
	}
	if ok {
		r.remove(prev, sub)
	} else {
		r.metrics.SetSubscriptions(int(r.size.Add(1)))
	}
	r.add(matchID, sub)
	hs.current[sub] = matchID
}

// UnsubscribeAll removes sub from whatever match it is registered under
// and reports that match. Safe for subscribers that never subscribed.
func (r *Registry) UnsubscribeAll(sub Subscriber) (string, bool) {
	hs := r.handleShard(sub)
	hs.mu.Lock()
	defer hs.mu.Unlock()

	prev, ok := hs.current[sub]
	if !ok {
		return "", false
	}
	delete(hs.current, sub)
	r.remove(prev, sub)
	r.metrics.SetSubscriptions(int(r.size.Add(-1)))
	return prev, true
}

// SubscribersOf returns a copy of the subscribers registered for matchID
// at call time. It is nil when there are none.
func (r *Registry) SubscribersOf(matchID string) []Subscriber {
	ms := r.matchShard(matchID)
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	set := ms.subs[matchID]
	if len(set) == 0 {
		return nil
	}
	out := make([]Subscriber, 0, len(set))
	for sub := range set {
		out = append(out, sub)
	}
	return out
}

// MatchOf reports the match sub is registered under.
func (r *Registry) MatchOf(sub Subscriber) (string, bool) {
	hs := r.handleShard(sub)
	hs.mu.Lock()
	defer hs.mu.Unlock()
	id, ok := hs.current[sub]
	return id, ok
}

// Len is the number of registered subscribers across all matches.
func (r *Registry) Len() int {
	return int(r.size.Load())
}

// Snapshot lists subscriber counts per match, ordered by match id.
func (r *Registry) Snapshot() []MatchSubscribers {
	var out []MatchSubscribers
	for _, ms := range r.matches {
		ms.mu.RLock()
		for id, set := range ms.subs {
			out = append(out, MatchSubscribers{MatchID: id, Subscribers: len(set)})
		}
		ms.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchID < out[j].MatchID })
	return out
}

func (r *Registry) add(matchID string, sub Subscriber) {
	ms := r.matchShard(matchID)
	ms.mu.Lock()
	defer ms.mu.Unlock()

	set, ok := ms.subs[matchID]
	if !ok {
		set = make(map[Subscriber]struct{})
		ms.subs[matchID] = set
	}
	set[sub] = struct{}{}
}

func (r *Registry) remove(matchID string, sub Subscriber) {
	ms := r.matchShard(matchID)
	ms.mu.Lock()
	defer ms.mu.Unlock()

	set, ok := ms.subs[matchID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(ms.subs, matchID)
	}
}
