package devops

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateProject(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/_apis/projects", r.URL.Path)
		require.Equal(t, "7.1-preview.4", r.URL.Query().Get("api-version"))
		gotAuth = r.Header.Get("Authorization")
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotBody = body["name"].(string)
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"id": "op-123", "url": srvURLPlaceholder})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret-pat")
	project, err := client.CreateProject(context.Background(), "MyProject")
	require.NoError(t, err)
	assert.Equal(t, "op-123", project.ID)
	assert.Equal(t, "MyProject", project.Name)
	assert.Equal(t, "MyProject", gotBody)

	expected := "Basic " + base64.StdEncoding.EncodeToString([]byte(":secret-pat"))
	assert.Equal(t, expected, gotAuth)
}

const srvURLPlaceholder = "https://dev.azure.com/org/_apis/operations/op-123"

func TestCreateProjectUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "bad-pat").CreateProject(context.Background(), "MyProject")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication failed")
}

func TestCreateWorkItemDefaultsType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/MyProject/_apis/wit/workitems/$Product Backlog Item", r.URL.Path)
		require.Equal(t, "application/json-patch+json", r.Header.Get("Content-Type"))
		var patch []map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&patch))
		require.Len(t, patch, 1)
		assert.Equal(t, "add", patch[0]["op"])
		assert.Equal(t, "/fields/System.Title", patch[0]["path"])
		assert.Equal(t, "Do the thing", patch[0]["value"])
		json.NewEncoder(w).Encode(map[string]any{"id": 42, "url": "https://x/42"})
	}))
	defer srv.Close()

	wi, err := NewClient(srv.URL, "pat").CreateWorkItem(context.Background(), "MyProject", "", "Do the thing")
	require.NoError(t, err)
	assert.Equal(t, 42, wi.ID)
}

func TestCreateTestPlanWithCases(t *testing.T) {
	var caseTitles []string
	var linked []string
	nextWorkItemID := 100
	mux := http.NewServeMux()
	mux.HandleFunc("POST /MyProject/_apis/testplan/plans", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": 7, "rootSuite": map[string]int{"id": 70}})
	})
	mux.HandleFunc("POST /MyProject/_apis/testplan/Plans/7/suites", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "staticTestSuite", body["suiteType"])
		assert.Equal(t, float64(70), body["parentSuite"].(map[string]any)["id"])
		json.NewEncoder(w).Encode(map[string]int{"id": 71})
	})
	mux.HandleFunc("POST /MyProject/_apis/wit/workitems/$Test Case", func(w http.ResponseWriter, r *http.Request) {
		var patch []map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&patch))
		caseTitles = append(caseTitles, patch[0]["value"].(string))
		nextWorkItemID++
		json.NewEncoder(w).Encode(map[string]any{"id": nextWorkItemID})
	})
	mux.HandleFunc("POST /MyProject/_apis/test/Plans/7/suites/71/testcases/", func(w http.ResponseWriter, r *http.Request) {
		linked = append(linked, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	result, err := NewClient(srv.URL, "pat").CreateTestPlanWithCases(
		context.Background(), "MyProject", "Test Plan", []string{"test_a", "test_b"})
	require.NoError(t, err)
	assert.Equal(t, 7, result.PlanID)
	assert.Equal(t, 71, result.SuiteID)
	assert.Equal(t, []int{101, 102}, result.TestCaseIDs)
	assert.Equal(t, []string{"test_a", "test_b"}, caseTitles)
	assert.Len(t, linked, 2)
}

func TestCreateTestPlanAbortsOnCaseFailure(t *testing.T) {
	var created int
	mux := http.NewServeMux()
	mux.HandleFunc("POST /MyProject/_apis/testplan/plans", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": 7, "rootSuite": map[string]int{"id": 70}})
	})
	mux.HandleFunc("POST /MyProject/_apis/testplan/Plans/7/suites", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]int{"id": 71})
	})
	mux.HandleFunc("POST /MyProject/_apis/wit/workitems/$Test Case", func(w http.ResponseWriter, r *http.Request) {
		created++
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := NewClient(srv.URL, "pat").CreateTestPlanWithCases(
		context.Background(), "MyProject", "Test Plan", []string{"test_a", "test_b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `create test case "test_a"`)
	assert.Equal(t, 1, created)
}

func TestLatestCommit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /MyProject/_apis/git/repositories", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"value": []map[string]string{
			{"id": "repo-1", "name": "MyProject"},
		}})
	})
	mux.HandleFunc("GET /MyProject/_apis/git/repositories/repo-1/commits", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "1", r.URL.Query().Get("searchCriteria.$top"))
		json.NewEncoder(w).Encode(map[string]any{"value": []map[string]string{
			{"commitId": "abc123"},
		}})
	})
	mux.HandleFunc("GET /MyProject/_apis/git/repositories/repo-1/refs", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "heads/", r.URL.Query().Get("filter"))
		json.NewEncoder(w).Encode(map[string]any{"value": []map[string]string{
			{"name": "refs/heads/main"},
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	commit, err := NewClient(srv.URL, "pat").LatestCommit(context.Background(), "MyProject")
	require.NoError(t, err)
	assert.Equal(t, "abc123", commit.CommitID)
	assert.Equal(t, "main", commit.Branch)
	assert.Equal(t, "MyProject", commit.Repository)
}

func TestLatestCommitNoRepositories(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"value": []any{}})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "pat").LatestCommit(context.Background(), "MyProject")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no repositories")
}
