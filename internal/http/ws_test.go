package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"buytap/internal/events"

	"github.com/gorilla/websocket"
)

func newHubServer(t *testing.T) (*EventHub, *httptest.Server) {
	t.Helper()
	hub := NewEventHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.Serve))
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)
	return hub, srv
}

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitForClients blocks until the hub has registered n connections; the
// handshake returns to the dialer before Serve finishes registration.
func waitForClients(t *testing.T, hub *EventHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.Lock()
		got := len(hub.clients)
		hub.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("hub never reached %d clients", n)
}

func TestEventHubDeliversEvents(t *testing.T) {
	hub, srv := newHubServer(t)
	conn := dialHub(t, srv)
	waitForClients(t, hub, 1)

	hub.Publish(context.Background(), events.Event{
		Type:    events.PoolChanged,
		Amount:  "-1000",
		Balance: "199000",
		At:      time.Now(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Type != events.PoolChanged {
		t.Errorf("type = %s, want %s", ev.Type, events.PoolChanged)
	}
	if ev.Balance != "199000" {
		t.Errorf("balance = %q, want 199000", ev.Balance)
	}
}

func TestEventHubPublishNeverBlocksOnStalledClient(t *testing.T) {
	hub, srv := newHubServer(t)
	dialHub(t, srv) // connected but never reads
	waitForClients(t, hub, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < wsSendBuffer*8; i++ {
			hub.Publish(context.Background(), events.Event{
				Type:   events.PoolChanged,
				Amount: "1",
				At:     time.Now(),
			})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked behind a stalled client")
	}
}
