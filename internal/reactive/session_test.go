package reactive

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/zoravur/livescore/internal/store"
)

// recorder is a SendFunc that forwards frames to a channel.
type recorder struct {
	frames chan Frame
	err    error
}

func newRecorder() *recorder { return &recorder{frames: make(chan Frame, 256)} }

func (r *recorder) send(_ context.Context, f Frame) error {
	if r.err != nil {
		return r.err
	}
	r.frames <- f
	return nil
}

func (r *recorder) next(t *testing.T) Frame {
	t.Helper()
	select {
	case f := <-r.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return Frame{}
}

func (r *recorder) none(t *testing.T) {
	t.Helper()
	select {
	case f := <-r.frames:
		t.Fatalf("unexpected frame %+v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

// failingReader fails every read.
type failingReader struct{}

func (failingReader) Get(context.Context, string) (store.Document, error) {
	return nil, fmt.Errorf("%w: connection refused", store.ErrUnavailable)
}

// gatedReader blocks Get until release is closed.
type gatedReader struct {
	inner   store.Reader
	entered chan struct{}
	release chan struct{}
}

func (g *gatedReader) Get(ctx context.Context, id string) (store.Document, error) {
	close(g.entered)
	<-g.release
	return g.inner.Get(ctx, id)
}

type fixture struct {
	reg   *Registry
	store *store.MemoryStore
	b     *Broadcaster
	rec   *recorder
}

func newFixture(t *testing.T) *fixture {
	reg := NewRegistry(4, nil)
	return &fixture{
		reg:   reg,
		store: store.NewMemoryStore(),
		b:     NewBroadcaster(reg, zaptest.NewLogger(t), nil),
		rec:   newRecorder(),
	}
}

func (f *fixture) session(t *testing.T, opts ...SessionOption) *Session {
	t.Helper()
	opts = append([]SessionOption{WithLogger(zaptest.NewLogger(t))}, opts...)
	s := NewSession(f.reg, f.store, f.rec.send, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		s.Close()
	})
	return s
}

func TestSession_ReplayOnSubscribe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.store.UpsertMerge(ctx, "m1", store.Document{"runs": 10})

	s := f.session(t)
	if s.State() != StateConnected {
		t.Fatalf("new session state = %v, want connected", s.State())
	}
	if err := s.Subscribe(ctx, "m1"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	fr := f.rec.next(t)
	if fr.Update == nil || !fr.Update.Replay {
		t.Fatalf("got %+v, want replay update", fr)
	}
	want := map[string]any{"id": "m1", "runs": 10}
	if got := fr.Update.Payload(); !reflect.DeepEqual(got, want) {
		t.Errorf("replay payload = %v, want %v", got, want)
	}
	if s.State() != StateSubscribed || s.MatchID() != "m1" {
		t.Errorf("state = %v/%q, want subscribed/m1", s.State(), s.MatchID())
	}
	f.rec.none(t)
}

func TestSession_NoReplayWhenAbsent(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)

	if err := s.Subscribe(context.Background(), "m1"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	f.rec.none(t)
	if got := ids(f.reg.SubscribersOf("m1")); len(got) != 1 {
		t.Errorf("SubscribersOf(m1) = %v, want the session", got)
	}
}

func TestSession_StoreFailureKeepsSubscription(t *testing.T) {
	f := newFixture(t)
	s := NewSession(f.reg, failingReader{}, f.rec.send, WithLogger(zaptest.NewLogger(t)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()
	defer s.Close()

	if err := s.Subscribe(ctx, "m1"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	f.rec.none(t)

	f.b.Publish(ctx, "m1", store.Document{"runs": 4})
	fr := f.rec.next(t)
	if fr.Update == nil || fr.Update.Replay || fr.Update.Document["runs"] != 4 {
		t.Errorf("got %+v, want live update runs=4", fr)
	}
}

func TestSession_EmptyMatchID(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)
	if err := s.Subscribe(context.Background(), ""); !errors.Is(err, ErrEmptyMatchID) {
		t.Errorf("Subscribe(\"\") = %v, want ErrEmptyMatchID", err)
	}
}

func TestSession_DisconnectCleanup(t *testing.T) {
	f := newFixture(t)
	var hooks atomic.Int32
	s := f.session(t, WithOnClose(func() { hooks.Add(1) }))
	ctx := context.Background()

	_ = s.Subscribe(ctx, "m1")
	s.Close()
	s.Close()

	if hooks.Load() != 1 {
		t.Errorf("close hook ran %d times, want 1", hooks.Load())
	}
	if s.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", s.State())
	}
	if _, ok := f.reg.MatchOf(s); ok {
		t.Error("session still in registry after Close")
	}
	if n := f.b.Publish(ctx, "m1", store.Document{"runs": 1}); n != 0 {
		t.Errorf("Publish after disconnect delivered %d", n)
	}
	if err := s.Deliver(Update{MatchID: "m1"}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Deliver after Close = %v, want ErrSessionClosed", err)
	}
	if err := s.Subscribe(ctx, "m2"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Subscribe after Close = %v, want ErrSessionClosed", err)
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done not closed")
	}
}

func TestSession_ResubscribeReplaces(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)
	ctx := context.Background()

	_ = s.Subscribe(ctx, "A")
	_ = s.Subscribe(ctx, "B")

	if n := f.b.Publish(ctx, "A", store.Document{"runs": 1}); n != 0 {
		t.Errorf("Publish(A) delivered %d after moving to B", n)
	}
	f.b.Publish(ctx, "B", store.Document{"runs": 2})
	if fr := f.rec.next(t); fr.Update.MatchID != "B" {
		t.Errorf("got update for %s, want B", fr.Update.MatchID)
	}
}

func TestSession_DeliverStaleMatch(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)
	_ = s.Subscribe(context.Background(), "B")

	if err := s.Deliver(Update{MatchID: "A"}); !errors.Is(err, ErrNotSubscribed) {
		t.Errorf("Deliver(A) = %v, want ErrNotSubscribed", err)
	}
}

func TestSession_Unsubscribe(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)
	ctx := context.Background()

	_ = s.Subscribe(ctx, "m1")
	s.Unsubscribe()

	if s.State() != StateConnected {
		t.Errorf("state = %v, want connected", s.State())
	}
	if n := f.b.Publish(ctx, "m1", store.Document{"runs": 1}); n != 0 {
		t.Errorf("Publish after Unsubscribe delivered %d", n)
	}
}

func TestSession_PublishOrder(t *testing.T) {
	f := newFixture(t)
	s := f.session(t, WithSendBuffer(256))
	ctx := context.Background()
	_ = s.Subscribe(ctx, "m1")

	for i := 0; i < 100; i++ {
		f.b.Publish(ctx, "m1", store.Document{"ball": i})
	}
	for i := 0; i < 100; i++ {
		fr := f.rec.next(t)
		if fr.Update.Document["ball"] != i {
			t.Fatalf("frame %d carries ball %v", i, fr.Update.Document["ball"])
		}
	}
}

func TestSession_SlowConsumerIsClosed(t *testing.T) {
	f := newFixture(t)
	// no Run: nothing drains the queue
	s := NewSession(f.reg, f.store, f.rec.send, WithSendBuffer(1), WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()
	_ = s.Subscribe(ctx, "m1")

	if err := s.Deliver(Update{MatchID: "m1"}); err != nil {
		t.Fatalf("first Deliver: %v", err)
	}
	if err := s.Deliver(Update{MatchID: "m1"}); !errors.Is(err, ErrSlowConsumer) {
		t.Fatalf("second Deliver = %v, want ErrSlowConsumer", err)
	}
	if s.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", s.State())
	}
	if f.reg.Len() != 0 {
		t.Errorf("registry still holds %d subscribers", f.reg.Len())
	}
}

func TestSession_ReplaySkippedAfterLiveUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.store.UpsertMerge(ctx, "m1", store.Document{"runs": 10})

	gate := &gatedReader{inner: f.store, entered: make(chan struct{}), release: make(chan struct{})}
	s := NewSession(f.reg, gate, f.rec.send, WithLogger(zaptest.NewLogger(t)))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = s.Run(runCtx) }()
	defer s.Close()

	done := make(chan struct{})
	go func() {
		_ = s.Subscribe(ctx, "m1")
		close(done)
	}()

	<-gate.entered
	f.b.Publish(ctx, "m1", store.Document{"runs": 14})
	close(gate.release)
	<-done

	fr := f.rec.next(t)
	if fr.Update.Replay || fr.Update.Document["runs"] != 14 {
		t.Errorf("got %+v, want live runs=14", fr.Update)
	}
	f.rec.none(t)
}

func TestSession_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	s := NewSession(f.reg, f.store, f.rec.send)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	_ = s.Subscribe(ctx, "m1")
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if s.State() != StateDisconnected || f.reg.Len() != 0 {
		t.Errorf("state = %v, registry len = %d", s.State(), f.reg.Len())
	}
}

func TestSession_SendErrorCloses(t *testing.T) {
	f := newFixture(t)
	f.rec.err = errors.New("write: broken pipe")
	s := NewSession(f.reg, f.store, f.rec.send)

	errc := make(chan error, 1)
	go func() { errc <- s.Run(context.Background()) }()

	ctx := context.Background()
	_ = s.Subscribe(ctx, "m1")
	f.b.Publish(ctx, "m1", store.Document{"runs": 1})

	select {
	case err := <-errc:
		if err == nil {
			t.Error("Run() = nil, want send error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after send error")
	}
	if s.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", s.State())
	}
}

func TestSession_ReplyOrderedWithUpdates(t *testing.T) {
	f := newFixture(t)
	s := f.session(t)
	ctx := context.Background()
	_, _ = f.store.UpsertMerge(ctx, "m1", store.Document{"runs": 1})

	_ = s.Reply("ack")
	_ = s.Subscribe(ctx, "m1")

	if fr := f.rec.next(t); fr.Reply != "ack" {
		t.Errorf("first frame = %+v, want ack reply", fr)
	}
	if fr := f.rec.next(t); fr.Update == nil || !fr.Update.Replay {
		t.Errorf("second frame = %+v, want replay", fr)
	}
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateConnected:    "connected",
		StateSubscribed:   "subscribed",
		StateDisconnected: "disconnected",
		State(9):          "unknown",
	} {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
