package api

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"crawlsched/internal/events"
)

// dialStreamClient upgrades a real connection and registers it on the hub
// with a tiny send buffer and no writer draining it, so Publish hits the
// slow-client path deterministically.
func dialStreamClient(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()

	registered := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		h.add(&streamClient{conn: conn, send: make(chan []byte, 1)})
		close(registered)
	}))
	t.Cleanup(srv.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })

	select {
	case <-registered:
	case <-time.After(time.Second):
		t.Fatal("client never registered")
	}
	return ws
}

func TestHubConcurrentPublishSlowClient(t *testing.T) {
	h := NewHub(slog.New(slog.DiscardHandler))
	defer h.Close()
	dialStreamClient(t, h)

	ev := events.DispatchEvent{Kind: "scheduled", ItemID: 1, Outcome: "completed"}

	// Concurrent publishers against a full buffer must disconnect the client
	// once, never panic.
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Publish(ev)
		}()
	}
	wg.Wait()

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n != 0 {
		t.Errorf("slow client still registered: %d clients", n)
	}
}

func TestHubPublishAfterRemoveIsNoop(t *testing.T) {
	h := NewHub(slog.New(slog.DiscardHandler))
	defer h.Close()
	dialStreamClient(t, h)

	ev := events.DispatchEvent{Kind: "scheduled", ItemID: 2, Outcome: "failed"}
	h.Publish(ev) // fills the buffer
	h.Publish(ev) // overflows, removes the client
	h.Publish(ev) // must not find it again

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n != 0 {
		t.Errorf("expected no clients, got %d", n)
	}
}
