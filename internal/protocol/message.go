package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message types on the realtime channel.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"

	TypeScoreUpdate  = "scoreUpdate"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypePong         = "pong"
	TypeError        = "error"
)

var ErrBadMessage = errors.New("bad message")

// Message is a client request. MatchID is only set for subscribe.
type Message struct {
	Type    string `json:"type"`
	MatchID string `json:"matchId,omitempty"`
}

// Reply is a control message from the server.
type Reply struct {
	Type    string `json:"type"`
	MatchID string `json:"matchId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ScoreUpdate carries one match document, flattened to {id, ...fields}.
type ScoreUpdate struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func NewScoreUpdate(data map[string]any) ScoreUpdate {
	return ScoreUpdate{Type: TypeScoreUpdate, Data: data}
}

func ErrorReply(err error) Reply {
	return Reply{Type: TypeError, Error: err.Error()}
}

func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if msg.Type == "" {
		return msg, fmt.Errorf("%w: missing type", ErrBadMessage)
	}
	return msg, nil
}
