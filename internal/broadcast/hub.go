package broadcast

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	hubSendBuffer = 32
	hubWriteWait  = 10 * time.Second
)

// Hub streams notifications to websocket clients. A new client first
// receives the latest notification of each kind.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	latest  map[Kind]hubMessage
	closed  bool
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

type hubMessage struct {
	seq     uint64
	payload []byte
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*hubClient]struct{}),
		latest:  make(map[Kind]hubMessage),
	}
}

// ServeHTTP upgrades the request and streams notifications until the client
// goes away or the hub is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("[Broadcast] Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &hubClient{conn: conn, send: make(chan []byte, hubSendBuffer)}
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	h.logger.Debug("[Broadcast] Websocket client connected", "remote", r.RemoteAddr)

	go h.writeLoop(c)

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("[Broadcast] Websocket read error", "remote", r.RemoteAddr, "error", err)
			}
			break
		}
	}
	h.unregister(c)
}

func (h *Hub) register(c *hubClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}

	replay := make([]hubMessage, 0, len(h.latest))
	for _, m := range h.latest {
		replay = append(replay, m)
	}
	sort.Slice(replay, func(i, j int) bool { return replay[i].seq < replay[j].seq })
	for _, m := range replay {
		c.send <- m.payload
	}
	return true
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) writeLoop(c *hubClient) {
	defer func() { _ = c.conn.Close() }()
	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.unregister(c)
			// Drain so unregister by others never blocks.
			for range c.send {
			}
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func (h *Hub) Publish(ctx context.Context, n Notification) error {
	h.PublishAsync(n)
	return nil
}

// PublishAsync queues n to every client. Clients that cannot keep up are
// disconnected.
func (h *Hub) PublishAsync(n Notification) {
	payload, err := Marshal(n)
	if err != nil {
		h.logger.Error("[Broadcast] Failed to encode notification", "kind", n.Kind, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.latest[n.Kind] = hubMessage{seq: n.Seq, payload: payload}
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("[Broadcast] Websocket client too slow, disconnecting")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Flush(ctx context.Context) error {
	return nil
}

// Close disconnects all clients.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	return nil
}
