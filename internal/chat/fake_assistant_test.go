package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/etna-educacion/etna-chat/internal/agent"
	"github.com/etna-educacion/etna-chat/internal/domain"
)

// fakeAssistant answers every run with a canned reply and records calls.
type fakeAssistant struct {
	mu sync.Mutex

	threads  int
	runs     int
	posted   []string
	deleted  []string
	replies  []string // consumed in order; the greeting comes first
	calls    []string
	block    chan struct{}
	errOn    map[string]error
	emptyRun bool
}

func newFakeAssistant(replies ...string) *fakeAssistant {
	return &fakeAssistant{replies: replies, errOn: map[string]error{}}
}

func (f *fakeAssistant) failOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errOn[op] = err
}

func (f *fakeAssistant) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	return f.errOn[op]
}

func (f *fakeAssistant) CreateThread(context.Context) (string, error) {
	if err := f.record("create_thread"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads++
	return fmt.Sprintf("thread_%d", f.threads), nil
}

func (f *fakeAssistant) PostMessage(_ context.Context, _ string, content string) error {
	if err := f.record("post_message"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, content)
	return nil
}

func (f *fakeAssistant) RunAndWait(ctx context.Context, _, _ string) (string, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	f.runs++
	runID := fmt.Sprintf("run_%d", f.runs)
	f.mu.Unlock()
	if err := f.record("run"); err != nil {
		return runID, err
	}
	return runID, nil
}

func (f *fakeAssistant) ListRunMessages(context.Context, string, string) ([]agent.Message, error) {
	if err := f.record("list_messages"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emptyRun || len(f.replies) == 0 {
		return nil, nil
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return []agent.Message{{ID: "msg", Role: domain.RoleAssistant, Texts: []string{reply}}}, nil
}

func (f *fakeAssistant) DeleteThread(_ context.Context, threadID string) error {
	if err := f.record("delete_thread"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, threadID)
	return nil
}

// memoryRunLog captures run log records.
type memoryRunLog struct {
	mu      sync.Mutex
	records []string
}

func (m *memoryRunLog) Log(kind domain.LogKind, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, string(kind)+":"+id)
}

func (m *memoryRunLog) Close() error { return nil }

func (m *memoryRunLog) lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.records...)
}
