// Package ws implements the WebSocket adapter delivering agent status events
// to connected clients. Subscriber bookkeeping here is instance-local and
// disposable; cross-instance fan-out happens at the broker.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// command is what clients send to manage their topic subscriptions.
type command struct {
	Action  string `json:"action"` // "subscribe" or "unsubscribe"
	AgentID string `json:"agent_id"`
}

// conn wraps a single WebSocket connection and the agent topics it follows.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
	mu     sync.Mutex
	topics map[string]struct{}
}

func (c *conn) subscribe(agentID string) {
	c.mu.Lock()
	c.topics[agentID] = struct{}{}
	c.mu.Unlock()
}

func (c *conn) unsubscribe(agentID string) {
	c.mu.Lock()
	delete(c.topics, agentID)
	c.mu.Unlock()
}

func (c *conn) follows(agentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.topics[agentID]
	return ok
}

// Hub manages all active WebSocket connections on this instance and routes
// agent status events to the connections subscribed to each topic.
type Hub struct {
	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[*conn]struct{}),
	}
}

// HandleWS upgrades the request to a WebSocket connection and serves
// subscribe/unsubscribe commands until the client disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, cancel: cancel, topics: make(map[string]struct{})}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "remote", r.RemoteAddr)

	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			_, data, err := ws.Read(ctx)
			if err != nil {
				return
			}
			var cmd command
			if err := json.Unmarshal(data, &cmd); err != nil {
				slog.Debug("websocket bad command", "error", err)
				continue
			}
			switch cmd.Action {
			case "subscribe":
				if cmd.AgentID != "" {
					c.subscribe(cmd.AgentID)
				}
			case "unsubscribe":
				c.unsubscribe(cmd.AgentID)
			}
		}
	}()
}

// Publish sends a message to every connection subscribed to the agent topic.
func (h *Hub) Publish(ctx context.Context, agentID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.conns {
		if !c.follows(agentID) {
			continue
		}
		if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("websocket write failed", "error", err)
			go h.remove(c)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// SubscriberCount returns the number of connections following an agent topic.
func (h *Hub) SubscriberCount(agentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for c := range h.conns {
		if c.follows(agentID) {
			n++
		}
	}
	return n
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected")
	}
}
