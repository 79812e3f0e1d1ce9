package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/etna-educacion/etna-chat/internal/agent"
	"github.com/etna-educacion/etna-chat/internal/api"
	"github.com/etna-educacion/etna-chat/internal/domain"
	"github.com/etna-educacion/etna-chat/internal/identity"
	"github.com/etna-educacion/etna-chat/internal/session"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

var (
	errSessionBusy = errors.New("request_in_progress")
	errRateLimited = errors.New("rate limit exceeded")
	errStore       = errors.New("session store failure")
)

// HandlerConfig tunes request limits.
type HandlerConfig struct {
	MaxRequestBodySize int64
	RateLimitRequests  int
	RateLimitWindow    time.Duration
}

// Handler serves the chat session over HTTP. Every request is one
// evaluation of the controller against the caller's session state.
type Handler struct {
	controller  *Controller
	store       session.Store
	rateLimiter *RateLimiter
	maxBody     int64

	// busy marks sessions with an event in flight; a second concurrent
	// request for the same session is rejected instead of queued.
	busyMu sync.Mutex
	busy   map[string]struct{}
}

// NewHandler creates a chat handler.
func NewHandler(controller *Controller, store session.Store, cfg HandlerConfig) *Handler {
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	if cfg.RateLimitRequests <= 0 {
		cfg.RateLimitRequests = 20
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	return &Handler{
		controller:  controller,
		store:       store,
		rateLimiter: NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		maxBody:     cfg.MaxRequestBodySize,
		busy:        make(map[string]struct{}),
	}
}

// RegisterRoutes registers chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Get("/", h.GetState)
		r.Post("/start", h.Start)
		r.Post("/message", h.Message)
		r.Post("/close", h.CloseChat)
	})
}

// Close releases handler resources.
func (h *Handler) Close() {
	h.rateLimiter.Stop()
}

// StateResponse is the session as rendered by the page.
type StateResponse struct {
	ThreadID    *string          `json:"thread_id"`
	ChatStarted bool             `json:"chat_started"`
	Messages    []domain.Message `json:"messages"`
	Outcome     Outcome          `json:"outcome,omitempty"`
	Error       string           `json:"error,omitempty"`
}

func newStateResponse(s *domain.Session, outcome Outcome) StateResponse {
	resp := StateResponse{
		ChatStarted: s.ChatStarted,
		Messages:    s.Messages,
		Outcome:     outcome,
	}
	if resp.Messages == nil {
		resp.Messages = []domain.Message{}
	}
	if s.ThreadID != "" {
		threadID := s.ThreadID
		resp.ThreadID = &threadID
	}
	return resp
}

type messageRequest struct {
	Message string `json:"message"`
}

// GetState handles GET /api/chat.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	sessionID := identity.SessionIDFromContext(r.Context())
	if sessionID == "" {
		api.Error(w, http.StatusUnauthorized, "no chat session")
		return
	}

	sess, err := h.load(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to load chat session", "session_id", sessionID, "error", err)
		api.Error(w, http.StatusInternalServerError, "failed to load chat session")
		return
	}
	api.JSON(w, http.StatusOK, newStateResponse(sess, ""))
}

// Start handles POST /api/chat/start.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	h.serveEvent(w, r, Event{Kind: EventStart})
}

// Message handles POST /api/chat/message.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.serveEvent(w, r, Event{Kind: EventMessage, Text: req.Message})
}

// CloseChat handles POST /api/chat/close (the close button).
func (h *Handler) CloseChat(w http.ResponseWriter, r *http.Request) {
	h.serveEvent(w, r, Event{Kind: EventClose})
}

func (h *Handler) serveEvent(w http.ResponseWriter, r *http.Request, ev Event) {
	sessionID := identity.SessionIDFromContext(r.Context())
	if sessionID == "" {
		api.Error(w, http.StatusUnauthorized, "no chat session")
		return
	}

	slog.Info("Chat event",
		"session_id", sessionID,
		"event", ev.Kind,
		"message_length", len(ev.Text),
		"request_id", chiMiddleware.GetReqID(r.Context()),
	)

	sess, outcome, err := h.Apply(r.Context(), sessionID, ev)
	if err != nil {
		status, msg := statusFor(err)
		if sess == nil {
			api.Error(w, status, msg)
			return
		}
		resp := newStateResponse(sess, "")
		resp.Error = msg
		api.JSON(w, status, resp)
		return
	}
	api.JSON(w, http.StatusOK, newStateResponse(sess, outcome))
}

// Apply loads the session, applies ev and saves whatever state results,
// including a user entry committed before a failed remote call. The remote
// exchange is not cancelled if the caller goes away.
func (h *Handler) Apply(ctx context.Context, sessionID string, ev Event) (*domain.Session, Outcome, error) {
	if ev.Kind != EventClose && !h.rateLimiter.Allow(sessionID) {
		return nil, "", errRateLimited
	}

	unlock, ok := h.lockSession(sessionID)
	if !ok {
		slog.Warn("Chat request already in progress", "session_id", sessionID)
		return nil, "", errSessionBusy
	}
	defer unlock()

	sess, err := h.load(ctx, sessionID)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", errStore, err)
	}

	evalCtx := context.WithoutCancel(ctx)
	before := len(sess.Messages)
	wasStarted := sess.ChatStarted

	outcome, evalErr := h.controller.Handle(evalCtx, sess, ev)

	if sess.ChatStarted != wasStarted || len(sess.Messages) != before || outcome == OutcomeTerminated {
		if err := h.save(evalCtx, sess); err != nil {
			slog.Error("Failed to save chat session", "session_id", sessionID, "error", err)
			if evalErr == nil {
				return nil, "", fmt.Errorf("%w: %w", errStore, err)
			}
		}
	}

	if evalErr != nil {
		slog.Warn("Chat event failed", "session_id", sessionID, "event", ev.Kind, "error", evalErr)
		return sess, "", evalErr
	}
	return sess, outcome, nil
}

// load returns the stored session or a fresh idle one.
func (h *Handler) load(ctx context.Context, sessionID string) (*domain.Session, error) {
	sess, err := h.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return domain.NewSession(sessionID), nil
	}
	return sess, nil
}

// save stores an active session; an idle one is simply removed.
func (h *Handler) save(ctx context.Context, sess *domain.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	if !sess.ChatStarted && len(sess.Messages) == 0 {
		return h.store.Delete(ctx, sess.ID)
	}
	return h.store.Put(ctx, sess)
}

func (h *Handler) lockSession(sessionID string) (func(), bool) {
	h.busyMu.Lock()
	defer h.busyMu.Unlock()
	if _, held := h.busy[sessionID]; held {
		return nil, false
	}
	h.busy[sessionID] = struct{}{}
	return func() {
		h.busyMu.Lock()
		defer h.busyMu.Unlock()
		delete(h.busy, sessionID)
	}, true
}

// statusFor maps an evaluation error to an HTTP status and a client message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests, err.Error()
	case errors.Is(err, errStore):
		return http.StatusInternalServerError, "failed to load chat session"
	case errors.Is(err, errSessionBusy):
		return http.StatusConflict, err.Error()
	case errors.Is(err, ErrAlreadyStarted), errors.Is(err, ErrNotStarted):
		return http.StatusConflict, err.Error()
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrUnknownEvent):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, agent.ErrRunTimeout):
		return http.StatusGatewayTimeout, "el asistente tardó demasiado en responder"
	case errors.Is(err, agent.ErrEmptyReply), errors.Is(err, agent.ErrRunNotCompleted):
		return http.StatusBadGateway, "el asistente no pudo responder"
	default:
		return http.StatusBadGateway, "no se pudo contactar al asistente"
	}
}
