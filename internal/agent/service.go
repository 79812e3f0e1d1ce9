package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/etna-educacion/etna-chat/internal/metrics"
)

// Service wraps an Assistant with structured logging and metrics.
type Service struct {
	assistant Assistant
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewService wraps the given assistant. A nil logger uses slog.Default and a
// nil metrics value disables recording.
func NewService(assistant Assistant, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		assistant: assistant,
		metrics:   m,
		logger:    logger,
	}
}

// CreateThread opens a new thread.
func (s *Service) CreateThread(ctx context.Context) (string, error) {
	threadID, err := s.assistant.CreateThread(ctx)
	s.metrics.ObserveCall("create_thread", err)
	if err != nil {
		s.logger.Error("Assistant thread creation failed", "error", err)
		return "", err
	}
	s.logger.Info("Assistant thread created", "thread_id", threadID)
	return threadID, nil
}

// PostMessage adds a user message to the thread.
func (s *Service) PostMessage(ctx context.Context, threadID, content string) error {
	err := s.assistant.PostMessage(ctx, threadID, content)
	s.metrics.ObserveCall("post_message", err)
	if err != nil {
		s.logger.Error("Assistant message post failed", "thread_id", threadID, "error", err)
	}
	return err
}

// RunAndWait runs the assistant on the thread until it finishes.
func (s *Service) RunAndWait(ctx context.Context, threadID, assistantID string) (string, error) {
	started := time.Now()
	runID, err := s.assistant.RunAndWait(ctx, threadID, assistantID)
	elapsed := time.Since(started)
	s.metrics.ObserveCall("run", err)
	s.metrics.ObserveRun(elapsed, err)
	if err != nil {
		s.logger.Error("Assistant run failed",
			"thread_id", threadID,
			"run_id", runID,
			"elapsed", elapsed,
			"error", err,
		)
		return runID, err
	}
	s.logger.Info("Assistant run completed", "thread_id", threadID, "run_id", runID, "elapsed", elapsed)
	return runID, nil
}

// ListRunMessages returns the messages produced by a run.
func (s *Service) ListRunMessages(ctx context.Context, threadID, runID string) ([]Message, error) {
	msgs, err := s.assistant.ListRunMessages(ctx, threadID, runID)
	s.metrics.ObserveCall("list_messages", err)
	if err != nil {
		s.logger.Error("Assistant message listing failed", "thread_id", threadID, "run_id", runID, "error", err)
		return nil, err
	}
	return msgs, nil
}

// DeleteThread removes a thread.
func (s *Service) DeleteThread(ctx context.Context, threadID string) error {
	err := s.assistant.DeleteThread(ctx, threadID)
	s.metrics.ObserveCall("delete_thread", err)
	if err != nil {
		s.logger.Warn("Assistant thread deletion failed", "thread_id", threadID, "error", err)
	}
	return err
}
