package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ams_backend/internal/events"
	"ams_backend/internal/metrics"
)

const (
	sendBuffer = 64
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// client is one WebSocket connection. Only writePump writes to conn.
type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
	once   sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub manages active WebSocket connections keyed by user ID and fans
// events out to them. It implements events.Publisher.
type Hub struct {
	mu      sync.RWMutex
	conns   map[string]map[*client]struct{}
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewHub(log *zap.Logger, m *metrics.Metrics) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		conns:   make(map[string]map[*client]struct{}),
		log:     log,
		metrics: m,
	}
}

var _ events.Publisher = (*Hub)(nil)

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conns[c.userID] == nil {
		h.conns[c.userID] = make(map[*client]struct{})
	}
	h.conns[c.userID][c] = struct{}{}
	h.metrics.ConnectionOpened()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.conns[c.userID]; ok {
		if _, ok := conns[c]; ok {
			delete(conns, c)
			c.close()
			h.metrics.ConnectionClosed()
		}
		if len(conns) == 0 {
			delete(h.conns, c.userID)
		}
	}
}

// Online reports whether the user has at least one open connection.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID]) > 0
}

// Publish delivers ev to its recipients, or to everyone when Recipients is nil.
func (h *Hub) Publish(_ context.Context, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if ev.Recipients == nil {
		h.broadcastAll(payload)
	} else {
		h.broadcastToUsers(ev.Recipients, payload)
	}
	return nil
}

// BroadcastToUsers sends payload to every connection of the given users.
func (h *Hub) BroadcastToUsers(userIDs []string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("ws: encode payload", zap.Error(err))
		return
	}
	h.broadcastToUsers(userIDs, b)
}

// BroadcastAll sends payload to all connected users.
func (h *Hub) BroadcastAll(payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("ws: encode payload", zap.Error(err))
		return
	}
	h.broadcastAll(b)
}

func (h *Hub) broadcastToUsers(userIDs []string, b []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]struct{}, len(userIDs))
	for _, uid := range userIDs {
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		for c := range h.conns[uid] {
			h.enqueue(c, b)
		}
	}
}

func (h *Hub) broadcastAll(b []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conns := range h.conns {
		for c := range conns {
			h.enqueue(c, b)
		}
	}
}

// enqueue never blocks; a slow client loses the frame and catches up on its
// next poll. Callers hold at least h.mu.RLock, so c.send is still open.
func (h *Hub) enqueue(c *client, b []byte) {
	select {
	case c.send <- b:
	default:
		h.log.Warn("ws: send buffer full, dropping frame", zap.String("user_id", c.userID))
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
