package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/etna-educacion/etna-chat/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

const cancelRunTimeout = 10 * time.Second

// listPageSize is the largest page the messages endpoint accepts.
const listPageSize = 100

// OpenAIClient reaches the OpenAI Assistants API.
type OpenAIClient struct {
	client *openai.Client
	cfg    Config
	logger *slog.Logger
}

// NewOpenAIClient creates a new client for the Assistants API.
func NewOpenAIClient(cfg Config, logger *slog.Logger) (*OpenAIClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}

	defaults := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaults.RunTimeout
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// CreateThread opens a new, empty thread.
func (c *OpenAIClient) CreateThread(ctx context.Context) (string, error) {
	thread, err := c.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return thread.ID, nil
}

// DeleteThread removes a thread.
func (c *OpenAIClient) DeleteThread(ctx context.Context, threadID string) error {
	if _, err := c.client.DeleteThread(ctx, threadID); err != nil {
		return fmt.Errorf("delete thread %s: %w", threadID, err)
	}
	return nil
}

// PostMessage adds a user message to the thread.
func (c *OpenAIClient) PostMessage(ctx context.Context, threadID, content string) error {
	_, err := c.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    string(domain.RoleUser),
		Content: content,
	})
	if err != nil {
		return fmt.Errorf("post message to thread %s: %w", threadID, err)
	}
	return nil
}

// RunAndWait creates a run and polls it every PollInterval until it reaches a
// terminal status or RunTimeout elapses.
func (c *OpenAIClient) RunAndWait(ctx context.Context, threadID, assistantID string) (string, error) {
	run, err := c.client.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: assistantID})
	if err != nil {
		return "", fmt.Errorf("create run on thread %s: %w", threadID, err)
	}
	runID := run.ID
	c.logger.Debug("Run created", "thread_id", threadID, "run_id", runID, "status", run.Status)

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.RunTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	polls := 0
	for {
		done, err := runOutcome(run)
		if done {
			if err != nil {
				// A run waiting for tool outputs holds the thread until it expires.
				if run.Status == openai.RunStatusRequiresAction {
					c.cancelRun(threadID, runID)
				}
				return runID, err
			}
			c.logger.Debug("Run completed", "thread_id", threadID, "run_id", runID, "polls", polls)
			return runID, nil
		}

		select {
		case <-waitCtx.Done():
			return runID, c.waitFailed(ctx, threadID, runID, polls)
		case <-ticker.C:
		}

		polls++
		run, err = c.client.RetrieveRun(waitCtx, threadID, runID)
		if err != nil {
			if waitCtx.Err() != nil {
				return runID, c.waitFailed(ctx, threadID, runID, polls)
			}
			return runID, fmt.Errorf("retrieve run %s: %w", runID, err)
		}
	}
}

// waitFailed distinguishes a caller cancellation from our own run timeout.
// A timed-out run is cancelled remotely so the thread accepts new messages.
func (c *OpenAIClient) waitFailed(ctx context.Context, threadID, runID string, polls int) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	c.cancelRun(threadID, runID)
	return fmt.Errorf("%w: run %s after %s (%d polls)", ErrRunTimeout, runID, c.cfg.RunTimeout, polls)
}

// cancelRun asks the API to stop a run. Failures are only logged.
func (c *OpenAIClient) cancelRun(threadID, runID string) {
	cancelCtx, cancel := context.WithTimeout(context.Background(), cancelRunTimeout)
	defer cancel()
	if _, err := c.client.CancelRun(cancelCtx, threadID, runID); err != nil {
		c.logger.Warn("Failed to cancel run", "thread_id", threadID, "run_id", runID, "error", err)
	}
}

// runOutcome reports whether the run is finished and, if so, whether it failed.
func runOutcome(run openai.Run) (bool, error) {
	switch run.Status {
	case openai.RunStatusQueued, openai.RunStatusInProgress, openai.RunStatusCancelling:
		return false, nil
	case openai.RunStatusCompleted:
		return true, nil
	}

	runErr := &RunError{RunID: run.ID, Status: string(run.Status)}
	if run.LastError != nil {
		runErr.Code = string(run.LastError.Code)
		runErr.Message = run.LastError.Message
	}
	return true, runErr
}

// ListRunMessages returns the messages a run added to the thread, oldest first.
func (c *OpenAIClient) ListRunMessages(ctx context.Context, threadID, runID string) ([]Message, error) {
	limit := listPageSize
	order := "asc"
	var after *string

	var out []Message
	for {
		page, err := c.client.ListMessage(ctx, threadID, &limit, &order, after, nil, &runID)
		if err != nil {
			return nil, fmt.Errorf("list messages for run %s: %w", runID, err)
		}
		for _, m := range page.Messages {
			out = append(out, convertMessage(m))
		}
		if !page.HasMore || page.LastID == nil {
			break
		}
		after = page.LastID
	}
	return out, nil
}

func convertMessage(m openai.Message) Message {
	msg := Message{
		ID:        m.ID,
		Role:      domain.Role(m.Role),
		CreatedAt: time.Unix(int64(m.CreatedAt), 0),
	}
	for _, content := range m.Content {
		if content.Text != nil {
			msg.Texts = append(msg.Texts, content.Text.Value)
		}
	}
	return msg
}
