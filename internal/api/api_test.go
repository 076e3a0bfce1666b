package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rodcar/agentic-software-factory/internal/jobs"
	"github.com/rodcar/agentic-software-factory/internal/llm"
	"github.com/rodcar/agentic-software-factory/internal/models"
	"github.com/rodcar/agentic-software-factory/internal/research"
	"github.com/rodcar/agentic-software-factory/internal/spec"
	"github.com/rodcar/agentic-software-factory/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

// cannedInvoker always replies with the same text.
type cannedInvoker struct {
	reply string
}

func (c *cannedInvoker) Send(_ context.Context, _ string, thread llm.Thread, _ string) (string, llm.Thread, error) {
	return c.reply, thread, nil
}

// recordingLauncher captures launch requests.
type recordingLauncher struct {
	requests []jobs.Request
	err      error
}

func (f *recordingLauncher) Launch(_ context.Context, req jobs.Request) (*models.Job, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Job{
		ID:          fmt.Sprintf("claude-job-%08d", len(f.requests)),
		ProjectName: req.ProjectName,
		Type:        req.Type,
		CodeAgent:   req.CodeAgent,
		Container:   fmt.Sprintf("claude-job-%08d", len(f.requests)),
		Status:      models.JobStatusCompleted,
		StartedAt:   time.Now().UTC(),
	}, nil
}

func postJSON(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// --- Webhook ---

func bugPayload(workItemType, title string) string {
	payload := map[string]any{
		"resource": map[string]any{
			"fields": map[string]any{
				"System.WorkItemType": workItemType,
				"System.Title":        title,
				"System.Description":  "steps to reproduce",
				"System.TeamProject":  "MyProject",
			},
		},
	}
	b, _ := json.Marshal(payload)
	return string(b)
}

func TestWebhookTriggersResearch(t *testing.T) {
	received := make(chan map[string]string, 1)
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received <- body
	}))
	defer downstream.Close()

	srv := NewServer(nil, nil, nil, nil, downstream.URL, testLogger())
	w := postJSON(t, srv.Router(), "/api/v1/webhook", bugPayload("Bug", "[AGENT] null pointer"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "triggered", decodeBody(t, w)["result"])

	// The issue forwarded downstream is the bug title verbatim, tag and all.
	select {
	case body := <-received:
		assert.Equal(t, "MyProject", body["project_name"])
		assert.Equal(t, "[AGENT] null pointer", body["issue"])
	case <-time.After(2 * time.Second):
		t.Fatal("research endpoint was never called")
	}
}

func TestWebhookIgnoresNonBug(t *testing.T) {
	srv := NewServer(nil, nil, nil, nil, "http://unreachable.invalid", testLogger())
	w := postJSON(t, srv.Router(), "/api/v1/webhook", bugPayload("Task", "[AGENT] do it"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Not a bug work item.", decodeBody(t, w)["result"])
}

func TestWebhookIgnoresUntaggedBug(t *testing.T) {
	srv := NewServer(nil, nil, nil, nil, "http://unreachable.invalid", testLogger())
	w := postJSON(t, srv.Router(), "/api/v1/webhook", bugPayload("Bug", "login crashes"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "No [AGENT] tag in the bug content.", decodeBody(t, w)["result"])
}

func TestWebhookInvalidJSON(t *testing.T) {
	srv := NewServer(nil, nil, nil, nil, "http://unreachable.invalid", testLogger())
	w := postJSON(t, srv.Router(), "/api/v1/webhook", "{not json")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Research ---

func TestResearchRequiresJSONContentType(t *testing.T) {
	srv := NewServer(nil, nil, nil, nil, "", testLogger())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/research", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestResearchRequiresFields(t *testing.T) {
	srv := NewServer(nil, nil, nil, nil, "", testLogger())
	w := postJSON(t, srv.Router(), "/api/v1/research", `{"issue": "something broke"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResearchRunsAndLaunchesFixJob(t *testing.T) {
	st := newTestStore(t)
	launcher := &recordingLauncher{}
	runner := research.NewRunner(&cannedInvoker{reply: "## Issue\n## Root Cause Analysis\n## Proposed Fix\n## Validation"})
	srv := NewServer(st, nil, runner, launcher, "", testLogger())

	w := postJSON(t, srv.Router(), "/api/v1/research", `{"issue": "login crashes", "project_name": "MyProject"}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, float64(http.StatusOK), body["status_code"])
	assert.Contains(t, body["report"], "## Proposed Fix")

	require.Len(t, launcher.requests, 1)
	req := launcher.requests[0]
	assert.Equal(t, models.JobTypeFix, req.Type)
	assert.Equal(t, models.CodeAgentClaude, req.CodeAgent)
	assert.Equal(t, "login crashes", req.Issue)
	assert.Contains(t, req.Report, "## Proposed Fix")

	// The job was recorded.
	list, err := st.ListJobs(context.Background(), store.JobListFilter{ProjectName: "MyProject"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.JobTypeFix, list[0].Type)
}

// --- Jobs ---

func TestCreateAndListJobs(t *testing.T) {
	st := newTestStore(t)
	launcher := &recordingLauncher{}
	srv := NewServer(st, nil, nil, launcher, "", testLogger())
	router := srv.Router()

	w := postJSON(t, router, "/api/v1/jobs", `{"project_name": "MyProject", "repository_url": "https://x/_git/x", "spec": "s", "test_plan": "p"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeBody(t, w)
	assert.Equal(t, "MyProject", created["project_name"])
	assert.Equal(t, string(models.JobTypeImplementation), created["type"])

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?project=MyProject", nil)
	lw := httptest.NewRecorder()
	router.ServeHTTP(lw, req)
	require.Equal(t, http.StatusOK, lw.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(lw.Body.Bytes(), &list))
	require.Len(t, list, 1)

	gw := httptest.NewRecorder()
	router.ServeHTTP(gw, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+created["id"].(string), nil))
	assert.Equal(t, http.StatusOK, gw.Code)
}

func TestCreateJobRequiresProjectName(t *testing.T) {
	srv := NewServer(newTestStore(t), nil, nil, &recordingLauncher{}, "", testLogger())
	w := postJSON(t, srv.Router(), "/api/v1/jobs", `{"repository_url": "https://x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateJobRejectsUnknownType(t *testing.T) {
	srv := NewServer(newTestStore(t), nil, nil, &recordingLauncher{}, "", testLogger())
	w := postJSON(t, srv.Router(), "/api/v1/jobs", `{"project_name": "Demo", "job_type": "deploy"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No job was processed or job_type not supported.", decodeBody(t, w)["error"])
}

func TestGetJobNotFound(t *testing.T) {
	srv := NewServer(newTestStore(t), nil, nil, nil, "", testLogger())
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// --- Chat sessions ---

// chatBrain replies DEFINITION to triage and canned artifacts to the rest.
type chatBrain struct{}

func (chatBrain) Send(_ context.Context, system string, thread llm.Thread, _ string) (string, llm.Thread, error) {
	switch {
	case strings.Contains(system, "Triage Agent"):
		return "DEFINITION", thread, nil
	case strings.Contains(system, "define their software project"):
		return `{"epics":[{"name":"Tasks","features":["Create a task"]}]}`, thread, nil
	case strings.Contains(system, "create test plans"):
		return `{"name":"Test Plan","test_cases":{"Tasks":[{"name":"test_create_task","description":"d"}]}}`, thread, nil
	default:
		return `{"review_feedback":"Fine.","actionable_suggestions_message_presentation":"Suggestions:","actionable_suggestions":["Add due dates"]}`, thread, nil
	}
}

func newChatServer(t *testing.T) *Server {
	t.Helper()
	st := newTestStore(t)
	engine := spec.NewEngine(llm.NewAgents(chatBrain{}), spec.Options{Store: st, Logger: testLogger()})
	return NewServer(st, engine, nil, nil, "", testLogger())
}

func TestChatMessageFlow(t *testing.T) {
	srv := newChatServer(t)
	router := srv.Router()

	w := postJSON(t, router, "/api/v1/sessions", `{}`)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeBody(t, w)["id"].(string)
	require.NotEmpty(t, id)

	mw := postJSON(t, router, "/api/v1/sessions/"+id+"/messages", `{"text": "Build a todo app"}`)
	require.Equal(t, http.StatusOK, mw.Code)
	var resp struct {
		Replies []models.Reply `json:"replies"`
	}
	require.NoError(t, json.Unmarshal(mw.Body.Bytes(), &resp))
	require.Len(t, resp.Replies, 3)
	assert.Contains(t, resp.Replies[0].Text, "Epic: Tasks")

	// Session state is visible over the API.
	gw := httptest.NewRecorder()
	router.ServeHTTP(gw, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+id, nil))
	require.Equal(t, http.StatusOK, gw.Code)
	assert.Equal(t, string(models.StageReviewed), decodeBody(t, gw)["stage"])

	// Messages were persisted: the user turn plus three replies.
	lw := httptest.NewRecorder()
	router.ServeHTTP(lw, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+id+"/messages", nil))
	require.Equal(t, http.StatusOK, lw.Code)
	var msgs []models.ChatMessage
	require.NoError(t, json.Unmarshal(lw.Body.Bytes(), &msgs))
	assert.Len(t, msgs, 4)
}

func TestChatMessageRequiresText(t *testing.T) {
	srv := newChatServer(t)
	w := postJSON(t, srv.Router(), "/api/v1/sessions/s1/messages", `{"text": "  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatActionRequiresName(t *testing.T) {
	srv := newChatServer(t)
	w := postJSON(t, srv.Router(), "/api/v1/sessions/s1/actions", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	srv := NewServer(nil, nil, nil, nil, "", testLogger())
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/v1/jobs", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
