// Package agent talks to the hosted assistant (threads, runs and messages).
package agent

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/etna-educacion/etna-chat/internal/domain"
)

var (
	// ErrRunTimeout is returned when a run does not reach a terminal status
	// within the configured run timeout.
	ErrRunTimeout = errors.New("assistant run timed out")
	// ErrRunNotCompleted is returned when a run ends in a terminal status
	// other than completed.
	ErrRunNotCompleted = errors.New("assistant run did not complete")
	// ErrEmptyReply is returned when a run produced no assistant text.
	ErrEmptyReply = errors.New("assistant run produced no text reply")
)

// RunError describes a run that finished without completing.
type RunError struct {
	RunID   string
	Status  string
	Code    string
	Message string
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("run %s ended with status %s", e.RunID, e.Status)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Unwrap lets callers match ErrRunNotCompleted with errors.Is.
func (e *RunError) Unwrap() error {
	return ErrRunNotCompleted
}

// Message is a message read back from a thread.
type Message struct {
	ID        string
	Role      domain.Role
	Texts     []string
	CreatedAt time.Time
}

// ReplyText joins the text blocks of every assistant message in msgs, in
// the order given, separated by a blank line.
func ReplyText(msgs []Message) (string, error) {
	var parts []string
	for _, m := range msgs {
		if m.Role != domain.RoleAssistant {
			continue
		}
		for _, t := range m.Texts {
			if strings.TrimSpace(t) != "" {
				parts = append(parts, t)
			}
		}
	}
	if len(parts) == 0 {
		return "", ErrEmptyReply
	}
	return strings.Join(parts, "\n\n"), nil
}

// Config holds remote assistant client configuration.
type Config struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	RunTimeout   time.Duration
}

// DefaultConfig returns default polling configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
		RunTimeout:   2 * time.Minute,
	}
}
