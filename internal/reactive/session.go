package reactive

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zoravur/livescore/internal/metrics"
	"github.com/zoravur/livescore/internal/store"
)

const (
	defaultSendBuffer   = 64
	defaultStoreTimeout = 5 * time.Second
)

// State is the lifecycle stage of a Session.
type State int

const (
	StateConnected State = iota
	StateSubscribed
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Session is one client connection. It owns a bounded FIFO of outbound
// frames drained by Run, so a slow socket never blocks publishers and
// updates for a match reach the client in publish order.
type Session struct {
	id           string
	reg          *Registry
	store        store.Reader
	send         SendFunc
	log          *zap.Logger
	metrics      *metrics.Metrics
	storeTimeout time.Duration
	onClose      func()

	queue     chan Frame
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	state   State
	matchID string
	// gen changes on every (re)subscribe so a replay read that finishes
	// after the session moved on is discarded.
	gen uint64
	// live is set once a published update for the current match has been
	// queued; a replay racing with it would be older and is dropped.
	live bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

func WithLogger(l *zap.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

func WithMetrics(m *metrics.Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// WithSendBuffer bounds the outbound queue.
func WithSendBuffer(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.queue = make(chan Frame, n)
		}
	}
}

// WithStoreTimeout bounds the replay read.
func WithStoreTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithOnClose runs fn once when the session closes, e.g. to close the
// socket and unblock its reader.
func WithOnClose(fn func()) SessionOption {
	return func(s *Session) { s.onClose = fn }
}

// NewSession opens a session in the Connected state. It has no registry
// entries until Subscribe is called.
func NewSession(reg *Registry, st store.Reader, send SendFunc, opts ...SessionOption) *Session {
	s := &Session{
		id:           uuid.NewString(),
		reg:          reg,
		store:        st,
		send:         send,
		storeTimeout: defaultStoreTimeout,
		queue:        make(chan Frame, defaultSendBuffer),
		done:         make(chan struct{}),
		state:        StateConnected,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.log = s.log.With(zap.String("session", s.id))
	s.metrics.SessionOpened()
	return s
}

func (s *Session) ID() string { return s.id }

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MatchID is the subscribed match, empty unless Subscribed.
func (s *Session) MatchID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matchID
}

// Subscribe registers the session under matchID, replacing any previous
// subscription, then replays the stored document if there is one. A
// missing document sends nothing. A store failure is logged and leaves
// the subscription in place; the client gets the next live update.
func (s *Session) Subscribe(ctx context.Context, matchID string) error {
	if matchID == "" {
		return ErrEmptyMatchID
	}

	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.reg.Subscribe(matchID, s)
	s.state = StateSubscribed
	s.matchID = matchID
	s.gen++
	s.live = false
	gen := s.gen
	s.mu.Unlock()

	s.log.Debug("subscribed", zap.String("match_id", matchID))

	readCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	doc, err := s.store.Get(readCtx, matchID)
	cancel()
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		s.log.Warn("replay read failed; subscription kept without snapshot",
			zap.String("match_id", matchID), zap.Error(err))
		return nil
	}

	s.mu.Lock()
	if s.state != StateSubscribed || s.gen != gen || s.live {
		s.mu.Unlock()
		return nil
	}
	u := Update{MatchID: matchID, Document: doc, Replay: true}
	ok := s.enqueueLocked(Frame{Update: &u})
	s.mu.Unlock()

	if !ok {
		s.slow()
		return nil
	}
	s.metrics.Replayed()
	return nil
}

// Unsubscribe drops the current subscription and returns to Connected.
func (s *Session) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSubscribed {
		return
	}
	s.reg.UnsubscribeAll(s)
	s.state = StateConnected
	s.matchID = ""
	s.gen++
}

// Deliver queues a published update. It never blocks: a full queue
// closes the session and reports ErrSlowConsumer.
func (s *Session) Deliver(u Update) error {
	s.mu.Lock()
	switch {
	case s.state == StateDisconnected:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.state != StateSubscribed || s.matchID != u.MatchID:
		s.mu.Unlock()
		return ErrNotSubscribed
	}
	s.live = true
	ok := s.enqueueLocked(Frame{Update: &u})
	s.mu.Unlock()

	if !ok {
		s.slow()
		return ErrSlowConsumer
	}
	return nil
}

// Reply queues a protocol reply behind any pending updates.
func (s *Session) Reply(v any) error {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	ok := s.enqueueLocked(Frame{Reply: v})
	s.mu.Unlock()

	if !ok {
		s.slow()
		return ErrSlowConsumer
	}
	return nil
}

func (s *Session) enqueueLocked(f Frame) bool {
	select {
	case s.queue <- f:
		return true
	default:
		return false
	}
}

func (s *Session) slow() {
	s.log.Warn("outbound queue full; closing session", zap.Int("buffer", cap(s.queue)))
	s.Close()
}

// Run writes queued frames until ctx is done or the session closes. A
// send error closes the session. Frames still queued at close are
// abandoned.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return ctx.Err()
		case <-s.done:
			return nil
		case f := <-s.queue:
			select {
			case <-s.done:
				return nil
			default:
			}
			if err := s.send(ctx, f); err != nil {
				if f.Update != nil {
					s.metrics.DeliveryFailed(metrics.ReasonSend)
				}
				s.log.Debug("send failed; closing session", zap.Error(err))
				s.Close()
				return err
			}
		}
	}
}

// Close is the single disconnect path: it removes the session from the
// registry, moves it to Disconnected and runs the close hook. Safe to
// call any number of times from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.reg.UnsubscribeAll(s)
		s.state = StateDisconnected
		s.matchID = ""
		close(s.done)
		s.mu.Unlock()

		s.metrics.SessionClosed()
		s.log.Debug("session closed")
		if s.onClose != nil {
			s.onClose()
		}
	})
}
