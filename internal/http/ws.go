package http

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"buytap/internal/events"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventHub fans engine events out to connected websocket clients so the
// UI can refresh pool and order counters without polling. It implements
// events.Sink. Each client gets a buffered send channel drained by its own
// writer goroutine; Publish never writes to the socket itself, so a stalled
// client can never block the engine — it just overflows its buffer and is
// dropped.
type EventHub struct {
	mu      sync.Mutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	conn *websocket.Conn
	send chan events.Event
}

func NewEventHub() *EventHub {
	return &EventHub{clients: make(map[*hubClient]struct{})}
}

func (h *EventHub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}

	c := &hubClient{conn: conn, send: make(chan events.Event, wsSendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go c.writePump()

	// Reader loop exists only to notice the close handshake.
	go func() {
		defer h.drop(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (c *hubClient) writePump() {
	defer c.conn.Close()
	for ev := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

func (h *EventHub) Publish(_ context.Context, ev events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			// Buffer full: the client stopped reading. Cut it loose.
			h.removeLocked(c)
		}
	}
}

func (h *EventHub) drop(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked unregisters a client; the membership check keeps the send
// channel from being closed twice.
func (h *EventHub) removeLocked(c *hubClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	c.conn.Close()
}

func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}
