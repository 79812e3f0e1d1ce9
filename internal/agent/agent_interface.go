package agent

import "context"

// Assistant is the remote conversation API used by the chat controller.
type Assistant interface {
	// CreateThread opens a new, empty conversation thread.
	CreateThread(ctx context.Context) (string, error)

	// PostMessage adds a user message to the thread.
	PostMessage(ctx context.Context, threadID, content string) error

	// RunAndWait starts the assistant on the thread and blocks until the run
	// completes, fails or times out. It returns the run ID.
	RunAndWait(ctx context.Context, threadID, assistantID string) (string, error)

	// ListRunMessages returns the messages produced by a run, oldest first.
	ListRunMessages(ctx context.Context, threadID, runID string) ([]Message, error)

	// DeleteThread removes a thread from the remote service.
	DeleteThread(ctx context.Context, threadID string) error
}

// Ensure OpenAIClient and Service implement Assistant.
var (
	_ Assistant = (*OpenAIClient)(nil)
	_ Assistant = (*Service)(nil)
)
