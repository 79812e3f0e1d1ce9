package chat

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// conn is the part of a websocket connection the registry needs.
type conn interface {
	Close(code websocket.StatusCode, reason string) error
}

// Connections tracks open websocket connections per chat session. A browser
// may hold several tabs on the same session cookie.
type Connections struct {
	mu     sync.RWMutex
	active map[string]map[conn]struct{}
}

// NewConnections creates an empty registry.
func NewConnections() *Connections {
	return &Connections{active: make(map[string]map[conn]struct{})}
}

// Register adds a connection for a session.
func (c *Connections) Register(sessionID string, ws conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.active[sessionID]; !ok {
		c.active[sessionID] = make(map[conn]struct{})
	}
	c.active[sessionID][ws] = struct{}{}
	slog.Debug("Chat connection registered", "session_id", sessionID, "connections", len(c.active[sessionID]))
}

// Unregister removes a connection; unknown connections are ignored.
func (c *Connections) Unregister(sessionID string, ws conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conns, ok := c.active[sessionID]
	if !ok {
		return
	}
	delete(conns, ws)
	if len(conns) == 0 {
		delete(c.active, sessionID)
	}
}

// Count returns the number of open connections for a session.
func (c *Connections) Count(sessionID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.active[sessionID])
}

// CloseSession closes every connection of a session, e.g. once its state
// has expired.
func (c *Connections) CloseSession(sessionID string) {
	c.mu.Lock()
	conns := c.active[sessionID]
	delete(c.active, sessionID)
	c.mu.Unlock()

	for ws := range conns {
		if err := ws.Close(websocket.StatusNormalClosure, "session expired"); err != nil {
			slog.Debug("Failed to close chat connection", "session_id", sessionID, "error", err)
		}
	}
	if len(conns) > 0 {
		slog.Info("Chat connections closed", "session_id", sessionID, "count", len(conns))
	}
}
