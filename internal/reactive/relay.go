package reactive

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/zoravur/livescore/internal/metrics"
	"github.com/zoravur/livescore/internal/store"
)

// Relay bridges a store change feed into the broadcast path: each change
// becomes one Publish call, as if the write path had made it.
type Relay struct {
	watcher store.Watcher
	reader  store.Reader
	b       *Broadcaster
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewRelay wires watcher to b. reader loads documents for changes that
// carry only a match id.
func NewRelay(watcher store.Watcher, reader store.Reader, b *Broadcaster, log *zap.Logger, m *metrics.Metrics) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{watcher: watcher, reader: reader, b: b, log: log.Named("relay"), metrics: m}
}

// Run consumes the feed until ctx is done. It returns ErrFeedClosed if
// the feed ends while ctx is still live.
func (r *Relay) Run(ctx context.Context) error {
	changes, err := r.watcher.Watch(ctx)
	if err != nil {
		return err
	}
	r.log.Info("relaying store changes")

	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-changes:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrFeedClosed
			}
			r.handle(ctx, c)
		}
	}
}

func (r *Relay) handle(ctx context.Context, c store.Change) {
	r.metrics.FeedChange()

	doc := c.Document
	if doc == nil {
		var err error
		doc, err = r.reader.Get(ctx, c.MatchID)
		if errors.Is(err, store.ErrNotFound) {
			return
		}
		if err != nil {
			r.log.Warn("reload after change failed", zap.String("match_id", c.MatchID), zap.Error(err))
			return
		}
	}
	r.b.Publish(ctx, c.MatchID, doc)
}
