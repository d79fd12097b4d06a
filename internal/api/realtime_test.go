package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zoravur/livescore/internal/store"
)

func post(t *testing.T, base, id, body string) {
	t.Helper()
	resp, err := http.Post(base+"/api/match/"+id, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", id, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST %s = %d", id, resp.StatusCode)
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func expect(t *testing.T, got, want map[string]any) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestWebSocket_EndToEnd(t *testing.T) {
	h := newHandlers(t, store.NewMemoryStore())
	h.PingInterval = time.Second
	srv := httptest.NewServer(SetupRoutes(h))
	defer srv.Close()

	post(t, srv.URL, "m1", `{"runs":10}`)

	conn := dial(t, srv)
	if err := conn.WriteJSON(map[string]string{"type": "subscribe", "matchId": "m1"}); err != nil {
		t.Fatal(err)
	}
	expect(t, read(t, conn), map[string]any{"type": "subscribed", "matchId": "m1"})
	expect(t, read(t, conn), map[string]any{"type": "scoreUpdate", "data": map[string]any{"id": "m1", "runs": float64(10)}})

	post(t, srv.URL, "m1", `{"runs":14}`)
	expect(t, read(t, conn), map[string]any{"type": "scoreUpdate", "data": map[string]any{"id": "m1", "runs": float64(14)}})

	_ = conn.WriteJSON(map[string]string{"type": "ping"})
	expect(t, read(t, conn), map[string]any{"type": "pong"})

	_ = conn.WriteJSON(map[string]string{"type": "unsubscribe"})
	expect(t, read(t, conn), map[string]any{"type": "unsubscribed"})
	if h.Registry.Len() != 0 {
		t.Errorf("registry holds %d after unsubscribe", h.Registry.Len())
	}
}

func TestWebSocket_NoReplayForUnknownMatch(t *testing.T) {
	h := newHandlers(t, store.NewMemoryStore())
	srv := httptest.NewServer(SetupRoutes(h))
	defer srv.Close()

	conn := dial(t, srv)
	_ = conn.WriteJSON(map[string]string{"type": "subscribe", "matchId": "new"})
	expect(t, read(t, conn), map[string]any{"type": "subscribed", "matchId": "new"})

	// the next frame is the first write, not a replay
	post(t, srv.URL, "new", `{"runs":1}`)
	expect(t, read(t, conn), map[string]any{"type": "scoreUpdate", "data": map[string]any{"id": "new", "runs": float64(1)}})
}

func TestWebSocket_BadMessages(t *testing.T) {
	h := newHandlers(t, store.NewMemoryStore())
	srv := httptest.NewServer(SetupRoutes(h))
	defer srv.Close()

	conn := dial(t, srv)
	_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	if msg := read(t, conn); msg["type"] != "error" {
		t.Errorf("got %v, want error reply", msg)
	}
	_ = conn.WriteJSON(map[string]string{"type": "subscribe"})
	if msg := read(t, conn); msg["type"] != "error" {
		t.Errorf("got %v, want error reply", msg)
	}
}

func TestWebSocket_DisconnectCleansUp(t *testing.T) {
	h := newHandlers(t, store.NewMemoryStore())
	srv := httptest.NewServer(SetupRoutes(h))
	defer srv.Close()

	conn := dial(t, srv)
	_ = conn.WriteJSON(map[string]string{"type": "subscribe", "matchId": "m1"})
	read(t, conn)
	if h.Registry.Len() != 1 {
		t.Fatalf("registry len = %d, want 1", h.Registry.Len())
	}

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for h.Registry.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription survived disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSSE_Stream(t *testing.T) {
	h := newHandlers(t, store.NewMemoryStore())
	srv := httptest.NewServer(SetupRoutes(h))
	defer srv.Close()

	post(t, srv.URL, "m1", `{"runs":10}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/match/m1/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		t.Helper()
		for lines.Scan() {
			if l := lines.Text(); strings.HasPrefix(l, "data: ") {
				return strings.TrimPrefix(l, "data: ")
			}
		}
		t.Fatalf("stream ended: %v", lines.Err())
		return ""
	}

	if got := next(); got != `{"id":"m1","runs":10}` {
		t.Errorf("replay = %s", got)
	}
	post(t, srv.URL, "m1", `{"runs":14}`)
	if got := next(); got != `{"id":"m1","runs":14}` {
		t.Errorf("update = %s", got)
	}
}
