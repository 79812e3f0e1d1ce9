package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/etna-educacion/etna-chat/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAssistantsAPI serves the subset of the Assistants API the client uses.
type fakeAssistantsAPI struct {
	mu          sync.Mutex
	statuses    []string // returned by successive run retrievals; last one repeats
	retrievals  int
	cancelled   atomic.Int32
	posted      []string
	lastRunID   string
	pages       map[string]string // "after" cursor -> response body
	failThreads bool
}

func (f *fakeAssistantsAPI) router(t *testing.T) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/v1/threads", func(r chi.Router) {
		r.Post("/", f.createThread)
		r.Delete("/{thread}", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"id": chi.URLParam(r, "thread"), "object": "thread.deleted", "deleted": true})
		})
		r.Post("/{thread}/messages", func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": "bad body"}})
				return
			}
			f.mu.Lock()
			f.posted = append(f.posted, body.Role+":"+body.Content)
			f.mu.Unlock()
			writeJSON(w, http.StatusOK, map[string]any{"id": "msg_user", "object": "thread.message", "role": body.Role})
		})
		r.Get("/{thread}/messages", func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			f.lastRunID = r.URL.Query().Get("run_id")
			body, ok := f.pages[r.URL.Query().Get("after")]
			f.mu.Unlock()
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"message": "no page"}})
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
		})
		r.Post("/{thread}/runs", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"id": "run_1", "object": "thread.run", "thread_id": chi.URLParam(r, "thread"), "status": "queued"})
		})
		r.Get("/{thread}/runs/{run}", f.retrieveRun)
		r.Post("/{thread}/runs/{run}/cancel", func(w http.ResponseWriter, r *http.Request) {
			f.cancelled.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{"id": chi.URLParam(r, "run"), "object": "thread.run", "status": "cancelling"})
		})
	})
	return r
}

func (f *fakeAssistantsAPI) createThread(w http.ResponseWriter, _ *http.Request) {
	if f.failThreads {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": map[string]any{"message": "upstream down", "type": "server_error"}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": "thread_1", "object": "thread"})
}

func (f *fakeAssistantsAPI) retrieveRun(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	idx := f.retrievals
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	status := f.statuses[idx]
	f.retrievals++
	f.mu.Unlock()

	run := map[string]any{"id": chi.URLParam(r, "run"), "object": "thread.run", "status": status}
	if status == "failed" {
		run["last_error"] = map[string]any{"code": "server_error", "message": "assistant crashed"}
	}
	writeJSON(w, http.StatusOK, run)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, api *fakeAssistantsAPI, timeout time.Duration) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(api.router(t))
	t.Cleanup(srv.Close)

	client, err := NewOpenAIClient(Config{
		APIKey:       "sk-test",
		BaseURL:      srv.URL + "/v1",
		PollInterval: 5 * time.Millisecond,
		RunTimeout:   timeout,
	}, nil)
	require.NoError(t, err)
	return client
}

func TestNewOpenAIClientRequiresKey(t *testing.T) {
	_, err := NewOpenAIClient(Config{}, nil)
	assert.Error(t, err)
}

func TestCreateThreadAndPostMessage(t *testing.T) {
	api := &fakeAssistantsAPI{}
	client := newTestClient(t, api, time.Second)

	threadID, err := client.CreateThread(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "thread_1", threadID)

	require.NoError(t, client.PostMessage(context.Background(), threadID, "Hola"))
	assert.Equal(t, []string{"user:Hola"}, api.posted)

	require.NoError(t, client.DeleteThread(context.Background(), threadID))
}

func TestCreateThreadSurfacesAPIError(t *testing.T) {
	api := &fakeAssistantsAPI{failThreads: true}
	client := newTestClient(t, api, time.Second)

	_, err := client.CreateThread(context.Background())
	assert.Error(t, err)
}

func TestRunAndWaitPollsUntilCompleted(t *testing.T) {
	api := &fakeAssistantsAPI{statuses: []string{"queued", "in_progress", "completed"}}
	client := newTestClient(t, api, time.Second)

	runID, err := client.RunAndWait(context.Background(), "thread_1", "asst_1")
	require.NoError(t, err)
	assert.Equal(t, "run_1", runID)
	assert.Equal(t, 3, api.retrievals)
}

func TestRunAndWaitReportsFailedRun(t *testing.T) {
	api := &fakeAssistantsAPI{statuses: []string{"failed"}}
	client := newTestClient(t, api, time.Second)

	runID, err := client.RunAndWait(context.Background(), "thread_1", "asst_1")
	require.Error(t, err)
	assert.Equal(t, "run_1", runID)
	assert.ErrorIs(t, err, ErrRunNotCompleted)

	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, "failed", runErr.Status)
	assert.Equal(t, "server_error", runErr.Code)
	assert.Equal(t, "assistant crashed", runErr.Message)
	assert.Equal(t, int32(0), api.cancelled.Load())
}

func TestRunAndWaitCancelsRunAwaitingToolOutputs(t *testing.T) {
	api := &fakeAssistantsAPI{statuses: []string{"in_progress", "requires_action"}}
	client := newTestClient(t, api, time.Second)

	runID, err := client.RunAndWait(context.Background(), "thread_1", "asst_1")
	require.Error(t, err)
	assert.Equal(t, "run_1", runID)
	assert.ErrorIs(t, err, ErrRunNotCompleted)

	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, "requires_action", runErr.Status)
	assert.Equal(t, int32(1), api.cancelled.Load())
}

func TestRunAndWaitTimesOutAndCancels(t *testing.T) {
	api := &fakeAssistantsAPI{statuses: []string{"in_progress"}}
	client := newTestClient(t, api, 40*time.Millisecond)

	_, err := client.RunAndWait(context.Background(), "thread_1", "asst_1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunTimeout)
	assert.Equal(t, int32(1), api.cancelled.Load())
}

func TestRunAndWaitHonoursCallerCancellation(t *testing.T) {
	api := &fakeAssistantsAPI{statuses: []string{"in_progress"}}
	client := newTestClient(t, api, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := client.RunAndWait(ctx, "thread_1", "asst_1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRunTimeout)
	assert.Equal(t, int32(0), api.cancelled.Load())
}

func TestListRunMessagesFollowsPages(t *testing.T) {
	api := &fakeAssistantsAPI{pages: map[string]string{
		"": `{"object":"list","data":[
			{"id":"msg_1","object":"thread.message","created_at":1700000000,"role":"assistant",
			 "content":[{"type":"text","text":{"value":"Hola, soy Simur.","annotations":[]}}]}
		],"first_id":"msg_1","last_id":"msg_1","has_more":true}`,
		"msg_1": `{"object":"list","data":[
			{"id":"msg_2","object":"thread.message","created_at":1700000001,"role":"assistant",
			 "content":[{"type":"image_file","image_file":{"file_id":"file_1"}},
			            {"type":"text","text":{"value":"¿En qué te ayudo?","annotations":[]}}]}
		],"first_id":"msg_2","last_id":"msg_2","has_more":false}`,
	}}
	client := newTestClient(t, api, time.Second)

	msgs, err := client.ListRunMessages(context.Background(), "thread_1", "run_1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "run_1", api.lastRunID)
	assert.Equal(t, domain.RoleAssistant, msgs[0].Role)
	assert.Equal(t, []string{"Hola, soy Simur."}, msgs[0].Texts)
	assert.Equal(t, []string{"¿En qué te ayudo?"}, msgs[1].Texts)

	reply, err := ReplyText(msgs)
	require.NoError(t, err)
	assert.Equal(t, "Hola, soy Simur.\n\n¿En qué te ayudo?", reply)
}

func TestReplyTextRequiresAssistantText(t *testing.T) {
	_, err := ReplyText(nil)
	assert.ErrorIs(t, err, ErrEmptyReply)

	_, err = ReplyText([]Message{
		{Role: domain.RoleUser, Texts: []string{"hola"}},
		{Role: domain.RoleAssistant, Texts: []string{"   "}},
	})
	assert.ErrorIs(t, err, ErrEmptyReply)
}
