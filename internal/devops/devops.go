// Package devops is a minimal Azure DevOps REST client covering the
// operations the factory needs: project creation, work items, test plans,
// and commit lookup.
package devops

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// scrumProcessTemplateID is the well-known process template for Scrum
// projects.
const scrumProcessTemplateID = "6b724908-ef14-45cf-84f8-768b5384da45"

// DefaultWorkItemType is used when a work item request does not name a type.
const DefaultWorkItemType = "Product Backlog Item"

// Client talks to one Azure DevOps organization with a personal access
// token.
type Client struct {
	orgURL string
	pat    string
	http   *http.Client
}

// NewClient creates a client for the given organization URL
// (https://dev.azure.com/{org}) and personal access token.
func NewClient(orgURL, pat string) *Client {
	return &Client{
		orgURL: strings.TrimRight(orgURL, "/"),
		pat:    pat,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Project is the tracker's record of a created project.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// WorkItem is the tracker's record of a created work item.
type WorkItem struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

// TestPlanResult reports the identifiers produced by
// CreateTestPlanWithCases.
type TestPlanResult struct {
	PlanID      int
	SuiteID     int
	TestCaseIDs []int
}

// Commit identifies the newest commit on a project's default repository.
type Commit struct {
	CommitID   string
	Branch     string
	Repository string
}

// CreateProject creates a Git project from the Scrum process template.
// Project creation is asynchronous on the tracker side; a 202 response means
// the operation was queued.
func (c *Client) CreateProject(ctx context.Context, name string) (*Project, error) {
	body := map[string]any{
		"name":        name,
		"description": "Project created by the agentic software factory.",
		"capabilities": map[string]any{
			"versioncontrol":  map[string]string{"sourceControlType": "Git"},
			"processTemplate": map[string]string{"templateTypeId": scrumProcessTemplateID},
		},
	}
	endpoint := fmt.Sprintf("%s/_apis/projects?api-version=7.1-preview.4", c.orgURL)
	resp, err := c.do(ctx, http.MethodPost, endpoint, "application/json", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		var op struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
			return nil, fmt.Errorf("decode project operation: %w", err)
		}
		return &Project{ID: op.ID, Name: name, URL: op.URL}, nil
	case http.StatusUnauthorized, http.StatusNonAuthoritativeInfo:
		return nil, fmt.Errorf("create project: authentication failed, check the personal access token")
	default:
		return nil, responseError("create project", resp)
	}
}

// CreateWorkItem creates a work item of the given type in a project. An
// empty workItemType falls back to DefaultWorkItemType.
func (c *Client) CreateWorkItem(ctx context.Context, project, workItemType, title string) (*WorkItem, error) {
	if workItemType == "" {
		workItemType = DefaultWorkItemType
	}
	patch := []map[string]any{
		{"op": "add", "path": "/fields/System.Title", "value": title},
	}
	endpoint := fmt.Sprintf("%s/%s/_apis/wit/workitems/$%s?api-version=7.1-preview.3",
		c.orgURL, url.PathEscape(project), url.PathEscape(workItemType))
	resp, err := c.do(ctx, http.MethodPost, endpoint, "application/json-patch+json", patch)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, responseError("create work item", resp)
	}
	var wi WorkItem
	if err := json.NewDecoder(resp.Body).Decode(&wi); err != nil {
		return nil, fmt.Errorf("decode work item: %w", err)
	}
	return &wi, nil
}

// CreateTestPlanWithCases creates a test plan, a static suite under its root
// suite, one Test Case work item per case name, and links each case into the
// suite. The sequence aborts on the first failure; partially created
// artifacts are left in place.
func (c *Client) CreateTestPlanWithCases(ctx context.Context, project, planName string, caseNames []string) (*TestPlanResult, error) {
	planID, rootSuiteID, err := c.createTestPlan(ctx, project, planName)
	if err != nil {
		return nil, err
	}
	suiteID, err := c.createStaticSuite(ctx, project, planID, rootSuiteID, planName)
	if err != nil {
		return nil, err
	}
	result := &TestPlanResult{PlanID: planID, SuiteID: suiteID}
	for _, name := range caseNames {
		wi, err := c.CreateWorkItem(ctx, project, "Test Case", name)
		if err != nil {
			return nil, fmt.Errorf("create test case %q: %w", name, err)
		}
		if err := c.addCaseToSuite(ctx, project, planID, suiteID, wi.ID); err != nil {
			return nil, fmt.Errorf("link test case %q: %w", name, err)
		}
		result.TestCaseIDs = append(result.TestCaseIDs, wi.ID)
	}
	return result, nil
}

func (c *Client) createTestPlan(ctx context.Context, project, name string) (planID, rootSuiteID int, err error) {
	endpoint := fmt.Sprintf("%s/%s/_apis/testplan/plans?api-version=7.1-preview.1",
		c.orgURL, url.PathEscape(project))
	resp, err := c.do(ctx, http.MethodPost, endpoint, "application/json", map[string]string{"name": name})
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return 0, 0, responseError("create test plan", resp)
	}
	var plan struct {
		ID        int `json:"id"`
		RootSuite struct {
			ID int `json:"id"`
		} `json:"rootSuite"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&plan); err != nil {
		return 0, 0, fmt.Errorf("decode test plan: %w", err)
	}
	return plan.ID, plan.RootSuite.ID, nil
}

func (c *Client) createStaticSuite(ctx context.Context, project string, planID, parentSuiteID int, name string) (int, error) {
	body := map[string]any{
		"suiteType":   "staticTestSuite",
		"name":        name + " Suite",
		"parentSuite": map[string]int{"id": parentSuiteID},
	}
	endpoint := fmt.Sprintf("%s/%s/_apis/testplan/Plans/%d/suites?api-version=7.1-preview.1",
		c.orgURL, url.PathEscape(project), planID)
	resp, err := c.do(ctx, http.MethodPost, endpoint, "application/json", body)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return 0, responseError("create test suite", resp)
	}
	var suite struct {
		ID int `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&suite); err != nil {
		return 0, fmt.Errorf("decode test suite: %w", err)
	}
	return suite.ID, nil
}

func (c *Client) addCaseToSuite(ctx context.Context, project string, planID, suiteID, workItemID int) error {
	endpoint := fmt.Sprintf("%s/%s/_apis/test/Plans/%d/suites/%d/testcases/%d?api-version=7.1-preview.3",
		c.orgURL, url.PathEscape(project), planID, suiteID, workItemID)
	resp, err := c.do(ctx, http.MethodPost, endpoint, "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return responseError("add test case to suite", resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// LatestCommit looks up the newest commit and its branch on the project's
// first repository.
func (c *Client) LatestCommit(ctx context.Context, project string) (*Commit, error) {
	repoID, repoName, err := c.firstRepository(ctx, project)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/%s/_apis/git/repositories/%s/commits?searchCriteria.$top=1&api-version=7.1-preview.1",
		c.orgURL, url.PathEscape(project), url.PathEscape(repoID))
	resp, err := c.do(ctx, http.MethodGet, endpoint, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, responseError("list commits", resp)
	}
	var commits struct {
		Value []struct {
			CommitID string `json:"commitId"`
		} `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&commits); err != nil {
		return nil, fmt.Errorf("decode commits: %w", err)
	}
	if len(commits.Value) == 0 {
		return nil, fmt.Errorf("repository %s has no commits", repoName)
	}

	branch, err := c.firstBranch(ctx, project, repoID)
	if err != nil {
		return nil, err
	}
	return &Commit{
		CommitID:   commits.Value[0].CommitID,
		Branch:     branch,
		Repository: repoName,
	}, nil
}

func (c *Client) firstRepository(ctx context.Context, project string) (id, name string, err error) {
	endpoint := fmt.Sprintf("%s/%s/_apis/git/repositories?api-version=7.1-preview.1",
		c.orgURL, url.PathEscape(project))
	resp, err := c.do(ctx, http.MethodGet, endpoint, "", nil)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", responseError("list repositories", resp)
	}
	var repos struct {
		Value []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&repos); err != nil {
		return "", "", fmt.Errorf("decode repositories: %w", err)
	}
	if len(repos.Value) == 0 {
		return "", "", fmt.Errorf("project %s has no repositories", project)
	}
	return repos.Value[0].ID, repos.Value[0].Name, nil
}

func (c *Client) firstBranch(ctx context.Context, project, repoID string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/_apis/git/repositories/%s/refs?filter=heads/&api-version=7.1-preview.1",
		c.orgURL, url.PathEscape(project), url.PathEscape(repoID))
	resp, err := c.do(ctx, http.MethodGet, endpoint, "", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", responseError("list branches", resp)
	}
	var refs struct {
		Value []struct {
			Name string `json:"name"`
		} `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&refs); err != nil {
		return "", fmt.Errorf("decode refs: %w", err)
	}
	if len(refs.Value) == 0 {
		return "", fmt.Errorf("repository has no branches")
	}
	return strings.TrimPrefix(refs.Value[0].Name, "refs/heads/"), nil
}

func (c *Client) do(ctx context.Context, method, endpoint, contentType string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(":"+c.pat)))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("devops request: %w", err)
	}
	return resp, nil
}

func responseError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
}
