package statusws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestHubPushDeliversSnapshotToViewer(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give ServeHTTP's Upgrade a moment to register the connection before
	// pushing; Push is a no-op against a nil connection.
	deadline := time.Now().Add(time.Second)
	for hub.connIsNil() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	want := Snapshot{RunMode: "continue", XLen: 64, WaitingForStopReason: true, PollCount: 3}
	hub.Push(want)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var got Snapshot
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func (h *Hub) connIsNil() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn == nil
}

func TestHubPushWithNoViewerIsNoop(t *testing.T) {
	hub := NewHub()
	hub.Push(Snapshot{RunMode: "paused"}) // must not panic or block
}
