package jobs

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rodcar/agentic-software-factory/internal/models"
)

func TestContainerName(t *testing.T) {
	name := ContainerName(models.CodeAgentClaude)
	assert.True(t, strings.HasPrefix(name, "claude-job-"), name)
	assert.Len(t, name, len("claude-job-")+8)

	codex := ContainerName(models.CodeAgentCodex)
	assert.True(t, strings.HasPrefix(codex, "codex-job-"), codex)

	assert.NotEqual(t, ContainerName(models.CodeAgentClaude), ContainerName(models.CodeAgentClaude))
}

func TestPromptImplementation(t *testing.T) {
	p := Prompt(Request{
		Type:     models.JobTypeImplementation,
		Spec:     `{"epics":[]}`,
		TestPlan: `{"test_cases":{}}`,
	})
	assert.Equal(t, `/project:implement functional spec: '{"epics":[]}' and implement the following tests: '{"test_cases":{}}'. Important: Push code to origin.`, p)
}

func TestPromptFix(t *testing.T) {
	p := Prompt(Request{
		Type:   models.JobTypeFix,
		Issue:  "login crashes",
		Report: "null pointer in auth",
	})
	assert.Equal(t, `/project:fix-issue 'login crashes', Report: 'null pointer in auth'. Important: Push code to origin repository.`, p)
}

// testLauncher wires a ContainerLauncher to fake login and management
// servers with fast polling.
func testLauncher(t *testing.T, mgmt http.Handler) (*ContainerLauncher, *httptest.Server) {
	t.Helper()
	login := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.FormValue("grant_type"))
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-1"})
	}))
	t.Cleanup(login.Close)
	mgmtSrv := httptest.NewServer(mgmt)
	t.Cleanup(mgmtSrv.Close)

	l := NewContainerLauncher(Config{
		TenantID:        "tenant",
		ClientID:        "client",
		ClientSecret:    "secret",
		SubscriptionID:  "sub",
		ResourceGroup:   "rg",
		Location:        "eastus",
		RegistryServer:  "registry.example.com",
		ClaudeImage:     "registry.example.com/claude-agent:latest",
		CodexImage:      "registry.example.com/codex-agent:latest",
		AnthropicAPIKey: "anthropic-key",
		OpenAIAPIKey:    "openai-key",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	l.loginURL = login.URL
	l.managementURL = mgmtSrv.URL
	l.pollInterval = 5 * time.Millisecond
	l.watchTimeout = 200 * time.Millisecond
	return l, mgmtSrv
}

func TestLaunchCompletes(t *testing.T) {
	var putBody map[string]any
	polls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /subscriptions/sub/resourceGroups/rg/providers/Microsoft.ContainerInstance/containerGroups/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&putBody))
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /subscriptions/sub/resourceGroups/rg/providers/Microsoft.ContainerInstance/containerGroups/", func(w http.ResponseWriter, r *http.Request) {
		polls++
		state := "Running"
		if polls >= 2 {
			state = "Terminated"
		}
		json.NewEncoder(w).Encode(map[string]any{
			"properties": map[string]any{
				"containers": []map[string]any{{
					"properties": map[string]any{
						"instanceView": map[string]any{
							"currentState": map[string]any{"state": state, "exitCode": 0},
						},
					},
				}},
			},
		})
	})
	launcher, _ := testLauncher(t, mux)

	job, err := launcher.Launch(context.Background(), Request{
		ProjectName:   "MyProject",
		RepositoryURL: "https://dev.azure.com/org/MyProject/_git/MyProject",
		Type:          models.JobTypeImplementation,
		CodeAgent:     models.CodeAgentClaude,
		Spec:          "spec",
		TestPlan:      "plan",
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 0, job.ExitCode)
	assert.NotNil(t, job.EndedAt)
	assert.True(t, strings.HasPrefix(job.Container, "claude-job-"))

	props := putBody["properties"].(map[string]any)
	assert.Equal(t, "Never", props["restartPolicy"])
	container := props["containers"].([]any)[0].(map[string]any)["properties"].(map[string]any)
	assert.Equal(t, "registry.example.com/claude-agent:latest", container["image"])

	names := map[string]bool{}
	for _, v := range container["environmentVariables"].([]any) {
		names[v.(map[string]any)["name"].(string)] = true
	}
	assert.True(t, names["REPOSITORY_URL"])
	assert.True(t, names["ANTHROPIC_API_KEY"])
	assert.True(t, names["PROMPT"])

	resources := container["resources"].(map[string]any)["requests"].(map[string]any)
	assert.Equal(t, float64(1), resources["cpu"])
	assert.Equal(t, float64(4), resources["memoryInGB"])
}

func TestLaunchCodexEnvironment(t *testing.T) {
	var putBody map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&putBody))
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"properties": map[string]any{
				"containers": []map[string]any{{
					"properties": map[string]any{
						"instanceView": map[string]any{
							"currentState": map[string]any{"state": "Terminated", "exitCode": 0},
						},
					},
				}},
			},
		})
	})
	launcher, _ := testLauncher(t, mux)

	job, err := launcher.Launch(context.Background(), Request{
		ProjectName: "MyProject",
		Type:        models.JobTypeFix,
		CodeAgent:   models.CodeAgentCodex,
		Issue:       "bug",
		Report:      "report",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(job.Container, "codex-job-"))

	container := putBody["properties"].(map[string]any)["containers"].([]any)[0].(map[string]any)["properties"].(map[string]any)
	assert.Equal(t, "registry.example.com/codex-agent:latest", container["image"])
	names := map[string]bool{}
	for _, v := range container["environmentVariables"].([]any) {
		names[v.(map[string]any)["name"].(string)] = true
	}
	assert.True(t, names["OPENAI_API_KEY"])
	assert.True(t, names["QUERY"])
	assert.False(t, names["PROMPT"])
}

func TestLaunchTimesOutAndLeavesContainerRunning(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	deletes := 0
	mux.HandleFunc("DELETE /", func(w http.ResponseWriter, r *http.Request) {
		deletes++
	})
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"properties": map[string]any{
				"containers": []map[string]any{{
					"properties": map[string]any{
						"instanceView": map[string]any{
							"currentState": map[string]any{"state": "Running"},
						},
					},
				}},
			},
		})
	})
	launcher, _ := testLauncher(t, mux)

	job, err := launcher.Launch(context.Background(), Request{
		ProjectName: "MyProject",
		Type:        models.JobTypeImplementation,
		CodeAgent:   models.CodeAgentClaude,
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusTimeout, job.Status)
	assert.Nil(t, job.EndedAt)
	assert.Zero(t, deletes)
}

func TestLaunchCreateFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusConflict)
	})
	launcher, _ := testLauncher(t, mux)

	job, err := launcher.Launch(context.Background(), Request{
		ProjectName: "MyProject",
		Type:        models.JobTypeImplementation,
		CodeAgent:   models.CodeAgentClaude,
	})
	require.Error(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, err.Error(), "quota exceeded")
}
