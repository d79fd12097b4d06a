package protocol

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap/zaptest"
)

type fakeConn struct {
	calls   []string
	replies []any
	subErr  error
}

func (f *fakeConn) Subscribe(_ context.Context, id string) error {
	f.calls = append(f.calls, "subscribe:"+id)
	return f.subErr
}

func (f *fakeConn) Unsubscribe() { f.calls = append(f.calls, "unsubscribe") }

func (f *fakeConn) Reply(v any) error {
	f.calls = append(f.calls, "reply")
	f.replies = append(f.replies, v)
	return nil
}

func TestHandleMessage(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantCalls string
		wantReply Reply
	}{
		{"ping", `{"type":"ping"}`, "[reply]", Reply{Type: TypePong}},
		{"subscribe", `{"type":"subscribe","matchId":"m1"}`, "[reply subscribe:m1]", Reply{Type: TypeSubscribed, MatchID: "m1"}},
		{"unsubscribe", `{"type":"unsubscribe"}`, "[unsubscribe reply]", Reply{Type: TypeUnsubscribed}},
		{"subscribe without id", `{"type":"subscribe"}`, "[reply]", Reply{Type: TypeError, Error: "bad message: subscribe needs matchId"}},
		{"unknown", `{"type":"dance"}`, "[reply]", Reply{Type: TypeError, Error: `bad message: unknown type "dance"`}},
		{"missing type", `{}`, "[reply]", Reply{Type: TypeError, Error: "bad message: missing type"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeConn{}
			if err := HandleMessage(context.Background(), c, []byte(tt.raw), zaptest.NewLogger(t)); err != nil {
				t.Fatalf("HandleMessage() error = %v", err)
			}
			if got := fmt.Sprint(c.calls); got != tt.wantCalls {
				t.Errorf("calls = %s, want %s", got, tt.wantCalls)
			}
			if got := c.replies[0]; got != tt.wantReply {
				t.Errorf("reply = %+v, want %+v", got, tt.wantReply)
			}
		})
	}
}

func TestHandleMessage_InvalidJSON(t *testing.T) {
	c := &fakeConn{}
	if err := HandleMessage(context.Background(), c, []byte("{not json"), zaptest.NewLogger(t)); err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	r, ok := c.replies[0].(Reply)
	if !ok || r.Type != TypeError {
		t.Errorf("reply = %+v, want error reply", c.replies[0])
	}
}

func TestHandleMessage_SubscribeError(t *testing.T) {
	c := &fakeConn{subErr: errors.New("session closed")}
	err := HandleMessage(context.Background(), c, []byte(`{"type":"subscribe","matchId":"m1"}`), zaptest.NewLogger(t))
	if err == nil {
		t.Error("HandleMessage() = nil, want subscribe error")
	}
}

func TestDecodeMessage(t *testing.T) {
	if _, err := DecodeMessage([]byte(`[]`)); !errors.Is(err, ErrBadMessage) {
		t.Errorf("DecodeMessage([]) = %v, want ErrBadMessage", err)
	}
	msg, err := DecodeMessage([]byte(`{"type":"subscribe","matchId":"abc"}`))
	if err != nil || msg.MatchID != "abc" {
		t.Errorf("DecodeMessage() = %+v, %v", msg, err)
	}
}
