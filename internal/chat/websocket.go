package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/etna-educacion/etna-chat/internal/identity"
)

const wsWriteTimeout = 10 * time.Second

// WebSocketHandler serves the chat over a websocket. Each client frame is
// one event, answered with the resulting session state.
type WebSocketHandler struct {
	chat          *Handler
	conns         *Connections
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(chat *Handler, conns *Connections, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		chat:          chat,
		conns:         conns,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// clientFrame is a frame sent by the page.
type clientFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// serverFrame is a frame sent to the page. State frames carry the session
// fields inline.
type serverFrame struct {
	Type   string `json:"type"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
	*StateResponse
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	if sessionID == "" {
		http.Error(w, "no chat session", http.StatusUnauthorized)
		return
	}
	slog.Info("WebSocket connection request", "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()
	ws.SetReadLimit(h.chat.maxBody)

	h.conns.Register(sessionID, ws)
	defer h.conns.Unregister(sessionID, ws)

	ctx := r.Context()
	if err := h.sendState(ctx, ws, sessionID); err != nil {
		slog.Debug("Failed to send initial state", "error", err, "session_id", sessionID)
		return
	}
	h.readLoop(ctx, ws, sessionID)
	slog.Info("Chat connection ended", "session_id", sessionID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, sessionID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			} else {
				slog.Debug("WebSocket read ended", "error", err, "session_id", sessionID)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			err = h.writeFrame(ctx, ws, serverFrame{Type: "error", Status: http.StatusBadRequest, Error: "invalid frame"})
		} else {
			err = h.dispatch(ctx, ws, sessionID, frame)
		}
		if err != nil {
			slog.Debug("WebSocket write failed", "error", err, "session_id", sessionID)
			return
		}
	}
}

func (h *WebSocketHandler) dispatch(ctx context.Context, ws *websocket.Conn, sessionID string, frame clientFrame) error {
	var ev Event
	switch frame.Type {
	case "ping":
		return h.writeFrame(ctx, ws, serverFrame{Type: "pong"})
	case "state":
		return h.sendState(ctx, ws, sessionID)
	case "start":
		ev = Event{Kind: EventStart}
	case "message":
		ev = Event{Kind: EventMessage, Text: frame.Content}
	case "close":
		ev = Event{Kind: EventClose}
	default:
		return h.writeFrame(ctx, ws, serverFrame{Type: "error", Status: http.StatusBadRequest, Error: "unknown frame type"})
	}

	sess, outcome, err := h.chat.Apply(ctx, sessionID, ev)
	if err != nil {
		status, msg := statusFor(err)
		out := serverFrame{Type: "error", Status: status, Error: msg}
		if sess != nil {
			state := newStateResponse(sess, "")
			out.StateResponse = &state
		}
		return h.writeFrame(ctx, ws, out)
	}
	state := newStateResponse(sess, outcome)
	return h.writeFrame(ctx, ws, serverFrame{Type: "state", StateResponse: &state})
}

func (h *WebSocketHandler) sendState(ctx context.Context, ws *websocket.Conn, sessionID string) error {
	sess, err := h.chat.load(ctx, sessionID)
	if err != nil {
		slog.Error("Failed to load chat session", "session_id", sessionID, "error", err)
		return h.writeFrame(ctx, ws, serverFrame{Type: "error", Status: http.StatusInternalServerError, Error: "failed to load chat session"})
	}
	state := newStateResponse(sess, "")
	return h.writeFrame(ctx, ws, serverFrame{Type: "state", StateResponse: &state})
}

func (h *WebSocketHandler) writeFrame(ctx context.Context, ws *websocket.Conn, v serverFrame) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), wsWriteTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
