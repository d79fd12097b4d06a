package reactive

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/zoravur/livescore/internal/metrics"
	"github.com/zoravur/livescore/internal/store"
)

// Broadcaster pushes match state to the subscribers of that match.
type Broadcaster struct {
	reg     *Registry
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewBroadcaster(reg *Registry, log *zap.Logger, m *metrics.Metrics) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{reg: reg, log: log.Named("broadcast"), metrics: m}
}

// Publish delivers doc to every subscriber registered for matchID when
// the call starts and returns how many accepted it. Deliveries only
// enqueue, so Publish never waits on a subscriber's connection; a failed
// delivery is logged and does not affect the others. Once ctx is done
// the remaining subscribers are skipped.
func (b *Broadcaster) Publish(ctx context.Context, matchID string, doc store.Document) int {
	b.metrics.Published()

	subs := b.reg.SubscribersOf(matchID)
	if len(subs) == 0 {
		return 0
	}

	u := Update{MatchID: matchID, Document: store.Clone(doc)}
	delivered := 0
	for i, sub := range subs {
		if ctx.Err() != nil {
			b.log.Debug("publish cancelled",
				zap.String("match_id", matchID),
				zap.Int("skipped", len(subs)-i))
			break
		}
		err := sub.Deliver(u)
		if err == nil {
			delivered++
			continue
		}
		b.metrics.DeliveryFailed(failureReason(err))
		if errors.Is(err, ErrNotSubscribed) || errors.Is(err, ErrSessionClosed) {
			// the subscriber moved on between snapshot and send
			b.log.Debug("skipped delivery",
				zap.String("match_id", matchID),
				zap.String("subscriber", sub.ID()),
				zap.Error(err))
			continue
		}
		b.log.Warn("delivery failed",
			zap.String("match_id", matchID),
			zap.String("subscriber", sub.ID()),
			zap.Error(err))
	}

	b.metrics.Delivered(delivered)
	b.log.Debug("published",
		zap.String("match_id", matchID),
		zap.Int("subscribers", len(subs)),
		zap.Int("delivered", delivered))
	return delivered
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrSlowConsumer):
		return metrics.ReasonSlow
	case errors.Is(err, ErrSessionClosed):
		return metrics.ReasonClosed
	case errors.Is(err, ErrNotSubscribed):
		return metrics.ReasonStale
	default:
		return metrics.ReasonSend
	}
}
