package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/facetrack/internal/monitoring"
	"github.com/ayusman/facetrack/internal/server/api"
	"github.com/ayusman/facetrack/internal/telemetry"
)

const (
	clientBuffer = 64
	writeWait    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

type wsClient struct {
	conn  *websocket.Conn
	send  chan []byte
	kinds map[telemetry.Kind]bool
}

func (c *wsClient) wants(k telemetry.Kind) bool {
	return len(c.kinds) == 0 || c.kinds[k]
}

// EventHub broadcasts telemetry events to WebSocket clients. It is a
// telemetry.Sink; a client that falls behind loses events instead of
// slowing the frame loop.
type EventHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	closed  bool
	dropped int
}

// NewEventHub creates an EventHub with no clients.
func NewEventHub() *EventHub {
	return &EventHub{clients: make(map[*wsClient]struct{})}
}

// Emit sends e to every subscribed client.
func (h *EventHub) Emit(e telemetry.Event) {
	h.mu.RLock()
	if len(h.clients) == 0 {
		h.mu.RUnlock()
		return
	}

	msg, err := json.Marshal(e)
	if err != nil {
		h.mu.RUnlock()
		monitoring.Logf("websocket: marshal event: %v", err)
		return
	}

	dropped := 0
	for c := range h.clients {
		if !c.wants(e.Kind) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			dropped++
		}
	}
	h.mu.RUnlock()

	if dropped > 0 {
		h.mu.Lock()
		h.dropped += dropped
		h.mu.Unlock()
	}
}

// Clients returns the number of connected clients.
func (h *EventHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many messages were discarded for slow clients.
func (h *EventHub) Dropped() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// ServeHTTP upgrades the request to a WebSocket and streams events until
// the client disconnects. The optional kind query parameter filters events,
// for example ?kind=tracker_lost,tracker_recovered.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	kinds, err := api.ParseKinds(r.URL.Query().Get("kind"))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("websocket upgrade error: %v", err)
		return
	}

	c := &wsClient{
		conn:  conn,
		send:  make(chan []byte, clientBuffer),
		kinds: make(map[telemetry.Kind]bool, len(kinds)),
	}
	for _, k := range kinds {
		c.kinds[k] = true
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go c.writeLoop()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(c)
}

// Close disconnects every client. Later connections are refused.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		c.conn.Close()
	}
}

func (h *EventHub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	c.conn.Close()
}

func (c *wsClient) writeLoop() {
	failed := false
	for msg := range c.send {
		if failed {
			continue
		}
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			failed = true
			c.conn.Close()
		}
	}
}
