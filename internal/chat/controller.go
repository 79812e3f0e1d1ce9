// Package chat drives the chat session lifecycle and serves it over HTTP
// and WebSocket.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/etna-educacion/etna-chat/internal/agent"
	"github.com/etna-educacion/etna-chat/internal/domain"
	"github.com/etna-educacion/etna-chat/internal/metrics"
)

var (
	// ErrAlreadyStarted is returned by Start when the chat is active.
	ErrAlreadyStarted = errors.New("chat already started")
	// ErrNotStarted is returned by Send before the chat has been started.
	ErrNotStarted = errors.New("chat not started")
	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("message is required")
	// ErrUnknownEvent is returned by Handle for an unrecognised event kind.
	ErrUnknownEvent = errors.New("unknown chat event")
)

// terminateKeywords end the chat when typed as the whole message.
var terminateKeywords = map[string]struct{}{
	"salir": {},
	"exit":  {},
	"chau":  {},
}

const discardThreadTimeout = 10 * time.Second

// TerminateKeywords returns the keywords that end a chat, sorted.
func TerminateKeywords() []string {
	out := make([]string, 0, len(terminateKeywords))
	for kw := range terminateKeywords {
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}

// IsTerminate reports whether text is a terminate keyword, ignoring case and
// surrounding whitespace.
func IsTerminate(text string) bool {
	_, ok := terminateKeywords[strings.ToLower(strings.TrimSpace(text))]
	return ok
}

// Trigger identifies what closed a chat.
type Trigger string

const (
	TriggerButton  Trigger = "button"
	TriggerKeyword Trigger = "keyword"
)

// Outcome is the state transition an event produced.
type Outcome string

const (
	OutcomeStarted    Outcome = "started"
	OutcomeReplied    Outcome = "replied"
	OutcomeTerminated Outcome = "terminated"
)

// EventKind is a user interaction on the chat page.
type EventKind string

const (
	EventStart   EventKind = "start"
	EventMessage EventKind = "message"
	EventClose   EventKind = "close"
)

// Event is one user interaction.
type Event struct {
	Kind EventKind
	Text string
}

// Controller owns chat session transitions and every call to the assistant.
// It holds no session state of its own; callers pass the session in.
type Controller struct {
	assistant   agent.Assistant
	assistantID string
	runLog      agent.RunLogger
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewController creates a controller for the given assistant. A nil runLog
// discards identifiers and nil metrics disables recording.
func NewController(assistant agent.Assistant, assistantID string, runLog agent.RunLogger, m *metrics.Metrics, logger *slog.Logger) *Controller {
	if runLog == nil {
		runLog = agent.NoopRunLogger()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		assistant:   assistant,
		assistantID: assistantID,
		runLog:      runLog,
		metrics:     m,
		logger:      logger,
	}
}

// Handle applies one event to the session.
func (c *Controller) Handle(ctx context.Context, s *domain.Session, ev Event) (Outcome, error) {
	switch ev.Kind {
	case EventStart:
		if err := c.Start(ctx, s); err != nil {
			return "", err
		}
		return OutcomeStarted, nil
	case EventMessage:
		return c.Send(ctx, s, ev.Text)
	case EventClose:
		c.Close(s, TriggerButton)
		return OutcomeTerminated, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Kind)
	}
}

// Start creates a thread, runs the assistant on it and records the greeting.
// The session is only modified once the greeting is in hand; on failure the
// new thread is discarded and the session is left idle.
func (c *Controller) Start(ctx context.Context, s *domain.Session) error {
	if s.ChatStarted {
		return ErrAlreadyStarted
	}

	threadID, err := c.assistant.CreateThread(ctx)
	if err != nil {
		return fmt.Errorf("create thread: %w", err)
	}
	c.runLog.Log(domain.LogThreadID, threadID)

	greeting, err := c.runForReply(ctx, threadID)
	if err != nil {
		c.discardThread(ctx, threadID)
		return fmt.Errorf("fetch greeting: %w", err)
	}

	s.Reset()
	s.ThreadID = threadID
	s.Append(domain.RoleAssistant, greeting)
	s.ChatStarted = true
	c.metrics.SessionStarted()

	c.logger.Info("Chat started", "session_id", s.ID, "thread_id", threadID)
	return nil
}

// Send handles text typed by the user. A terminate keyword closes the chat;
// any other non-blank text is forwarded and the reply appended. The user
// entry is appended before the assistant is called and stays in the
// transcript if the call fails.
func (c *Controller) Send(ctx context.Context, s *domain.Session, text string) (Outcome, error) {
	if !s.ChatStarted {
		return "", ErrNotStarted
	}
	if IsTerminate(text) {
		c.Close(s, TriggerKeyword)
		return OutcomeTerminated, nil
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyMessage
	}

	s.Append(domain.RoleUser, text)

	if err := c.assistant.PostMessage(ctx, s.ThreadID, text); err != nil {
		return "", fmt.Errorf("post message: %w", err)
	}

	reply, err := c.runForReply(ctx, s.ThreadID)
	if err != nil {
		return "", fmt.Errorf("fetch reply: %w", err)
	}

	s.Append(domain.RoleAssistant, reply)
	return OutcomeReplied, nil
}

// Close resets the session to idle. The remote thread is left as is.
func (c *Controller) Close(s *domain.Session, trigger Trigger) {
	wasStarted := s.ChatStarted
	threadID := s.ThreadID
	s.Reset()
	if wasStarted {
		c.metrics.SessionTerminated(string(trigger))
		c.logger.Info("Chat terminated", "session_id", s.ID, "thread_id", threadID, "trigger", trigger)
	}
}

func (c *Controller) runForReply(ctx context.Context, threadID string) (string, error) {
	runID, err := c.assistant.RunAndWait(ctx, threadID, c.assistantID)
	if runID != "" {
		c.runLog.Log(domain.LogRunID, runID)
	}
	if err != nil {
		return "", err
	}

	msgs, err := c.assistant.ListRunMessages(ctx, threadID, runID)
	if err != nil {
		return "", err
	}
	return agent.ReplyText(msgs)
}

func (c *Controller) discardThread(ctx context.Context, threadID string) {
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), discardThreadTimeout)
	defer cancel()
	if err := c.assistant.DeleteThread(delCtx, threadID); err != nil {
		c.logger.Warn("Failed to discard thread after start failure", "thread_id", threadID, "error", err)
	}
}
