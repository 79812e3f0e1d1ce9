// Package domain contains core domain types for the chat front-end.
package domain

import (
	"errors"
	"time"
)

// Role identifies the author of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single transcript entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// LogKind is the event kind written to the run log.
type LogKind string

const (
	LogThreadID LogKind = "THREAD_ID"
	LogRunID    LogKind = "RUN_ID"
)

var (
	errStartedWithoutThread   = errors.New("chat started without a thread id")
	errStartedWithoutMessages = errors.New("chat started with an empty transcript")
)

// Session holds the chat state of one browser session.
type Session struct {
	ID          string    `json:"-"`
	ThreadID    string    `json:"thread_id"`
	ChatStarted bool      `json:"chat_started"`
	Messages    []Message `json:"messages"`
	CreatedAt   time.Time `json:"-"`
	UpdatedAt   time.Time `json:"-"`
}

// NewSession returns an idle session for the given browser session ID.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a transcript entry at the end.
func (s *Session) Append(role Role, content string) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content})
	s.UpdatedAt = time.Now()
}

// Reset returns the session to its idle state, dropping the transcript.
func (s *Session) Reset() {
	s.ThreadID = ""
	s.ChatStarted = false
	s.Messages = []Message{}
	s.UpdatedAt = time.Now()
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (s *Session) Clone() *Session {
	c := *s
	c.Messages = make([]Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	return &c
}

// Validate checks the started-chat invariant.
func (s *Session) Validate() error {
	if !s.ChatStarted {
		return nil
	}
	if s.ThreadID == "" {
		return errStartedWithoutThread
	}
	if len(s.Messages) == 0 {
		return errStartedWithoutMessages
	}
	return nil
}
