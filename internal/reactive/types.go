package reactive

import (
	"context"
	"errors"

	"github.com/zoravur/livescore/internal/store"
)

var (
	// ErrSessionClosed is returned for deliveries to a disconnected session.
	ErrSessionClosed = errors.New("session closed")
	// ErrSlowConsumer is returned when a session's outbound queue is full.
	// The session is closed as a consequence.
	ErrSlowConsumer = errors.New("slow consumer")
	// ErrNotSubscribed is returned when an update targets a match the
	// session has since left.
	ErrNotSubscribed = errors.New("not subscribed to match")
	// ErrEmptyMatchID rejects subscriptions without a match id.
	ErrEmptyMatchID = errors.New("empty match id")
	// ErrFeedClosed reports that a store change feed ended on its own.
	ErrFeedClosed = errors.New("change feed closed")
)

// Update is the state of one match pushed to a subscriber.
type Update struct {
	MatchID  string
	Document store.Document
	// Replay marks the snapshot sent on subscribe.
	Replay bool
}

// Payload is the wire shape {id, ...fields}.
func (u Update) Payload() map[string]any {
	return store.Flatten(u.MatchID, u.Document)
}

// Subscriber is a delivery target held by the Registry.
type Subscriber interface {
	ID() string
	// Deliver must not block.
	Deliver(u Update) error
}

// Frame is one queued outbound message: a score update or a protocol
// reply. Exactly one field is set.
type Frame struct {
	Update *Update
	Reply  any
}

// SendFunc writes one frame to the underlying transport. It abstracts
// over the socket so this package has no transport imports.
type SendFunc func(ctx context.Context, f Frame) error
