package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rodcar/agentic-software-factory/internal/models"
)

const containerAPIVersion = "2023-05-01"

// Config holds the cloud credentials and image settings a ContainerLauncher
// needs.
type Config struct {
	TenantID       string
	ClientID       string
	ClientSecret   string
	SubscriptionID string
	ResourceGroup  string
	Location       string

	RegistryServer   string
	RegistryUser     string
	RegistryPassword string
	ClaudeImage      string
	CodexImage       string

	AnthropicAPIKey string
	OpenAIAPIKey    string
}

// ContainerLauncher runs code jobs as single-container groups on a managed
// container service.
type ContainerLauncher struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger

	// Overridable endpoints and timings, primarily for tests.
	managementURL string
	loginURL      string
	pollInterval  time.Duration
	watchTimeout  time.Duration
}

// NewContainerLauncher creates a launcher with the default cloud endpoints,
// a 15 second poll interval, and a 10 minute watch window.
func NewContainerLauncher(cfg Config, logger *slog.Logger) *ContainerLauncher {
	return &ContainerLauncher{
		cfg:           cfg,
		http:          &http.Client{Timeout: 60 * time.Second},
		logger:        logger,
		managementURL: "https://management.azure.com",
		loginURL:      "https://login.microsoftonline.com",
		pollInterval:  15 * time.Second,
		watchTimeout:  600 * time.Second,
	}
}

// Launch creates the container group and polls it until the container
// terminates or the watch window elapses. A job still running at the
// deadline is reported with StatusTimeout and left running; callers decide
// whether to follow up.
func (l *ContainerLauncher) Launch(ctx context.Context, req Request) (*models.Job, error) {
	token, err := l.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	name := ContainerName(req.CodeAgent)
	job := &models.Job{
		ID:          name,
		ProjectName: req.ProjectName,
		Type:        req.Type,
		CodeAgent:   req.CodeAgent,
		Container:   name,
		Status:      models.JobStatusPending,
		StartedAt:   time.Now().UTC(),
	}

	if err := l.createGroup(ctx, token, name, req); err != nil {
		job.Status = models.JobStatusFailed
		job.Message = err.Error()
		return job, err
	}
	job.Status = models.JobStatusRunning
	l.logger.Info("code job started", "container", name, "project", req.ProjectName, "type", req.Type)

	state, exitCode, err := l.watch(ctx, token, name)
	if err != nil {
		job.Status = models.JobStatusFailed
		job.Message = err.Error()
		return job, err
	}
	now := time.Now().UTC()
	switch state {
	case "Terminated":
		job.Status = models.JobStatusCompleted
		job.ExitCode = exitCode
		job.EndedAt = &now
		job.Message = fmt.Sprintf("container terminated with exit code %d", exitCode)
	default:
		job.Status = models.JobStatusTimeout
		job.Message = fmt.Sprintf("container still in state %q after %s, leaving it running", state, l.watchTimeout)
	}
	l.logger.Info("code job finished watching", "container", name, "status", job.Status)
	return job, nil
}

func (l *ContainerLauncher) accessToken(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {l.cfg.ClientID},
		"client_secret": {l.cfg.ClientSecret},
		"scope":         {"https://management.azure.com/.default"},
	}
	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", l.loginURL, l.cfg.TenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := l.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("token request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("token response has no access token")
	}
	return payload.AccessToken, nil
}

func (l *ContainerLauncher) createGroup(ctx context.Context, token, name string, req Request) error {
	image := l.cfg.ClaudeImage
	env := []map[string]string{
		{"name": "REPOSITORY_URL", "value": req.RepositoryURL},
		{"name": "ANTHROPIC_API_KEY", "secureValue": l.cfg.AnthropicAPIKey},
		{"name": "PROMPT", "value": Prompt(req)},
	}
	if req.CodeAgent == models.CodeAgentCodex {
		image = l.cfg.CodexImage
		env = []map[string]string{
			{"name": "REPOSITORY_URL", "value": req.RepositoryURL},
			{"name": "OPENAI_API_KEY", "secureValue": l.cfg.OpenAIAPIKey},
			{"name": "QUERY", "value": Prompt(req)},
		}
	}

	body := map[string]any{
		"location": l.cfg.Location,
		"properties": map[string]any{
			"osType":        "Linux",
			"restartPolicy": "Never",
			"imageRegistryCredentials": []map[string]string{
				{"server": l.cfg.RegistryServer, "username": l.cfg.RegistryUser, "password": l.cfg.RegistryPassword},
			},
			"containers": []map[string]any{
				{
					"name": name,
					"properties": map[string]any{
						"image":                image,
						"environmentVariables": env,
						"resources": map[string]any{
							"requests": map[string]any{"cpu": 1, "memoryInGB": 4},
						},
					},
				},
			},
		},
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode container group: %w", err)
	}
	endpoint := l.groupURL(name)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build container group request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := l.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("create container group: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("create container group: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// watch polls the container group until the container reaches "Terminated"
// or the watch window elapses, returning the last observed state.
func (l *ContainerLauncher) watch(ctx context.Context, token, name string) (state string, exitCode int, err error) {
	deadline := time.Now().Add(l.watchTimeout)
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		state, exitCode, err = l.groupState(ctx, token, name)
		if err != nil {
			return "", 0, err
		}
		if state == "Terminated" || time.Now().After(deadline) {
			return state, exitCode, nil
		}
		select {
		case <-ctx.Done():
			return "", 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *ContainerLauncher) groupState(ctx context.Context, token, name string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.groupURL(name), nil)
	if err != nil {
		return "", 0, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := l.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("container group status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", 0, fmt.Errorf("container group status: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var group struct {
		Properties struct {
			Containers []struct {
				Properties struct {
					InstanceView struct {
						CurrentState struct {
							State    string `json:"state"`
							ExitCode int    `json:"exitCode"`
						} `json:"currentState"`
					} `json:"instanceView"`
				} `json:"properties"`
			} `json:"containers"`
		} `json:"properties"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&group); err != nil {
		return "", 0, fmt.Errorf("decode container group: %w", err)
	}
	if len(group.Properties.Containers) == 0 {
		return "", 0, fmt.Errorf("container group %s has no containers", name)
	}
	current := group.Properties.Containers[0].Properties.InstanceView.CurrentState
	return current.State, current.ExitCode, nil
}

func (l *ContainerLauncher) groupURL(name string) string {
	return fmt.Sprintf("%s/subscriptions/%s/resourceGroups/%s/providers/Microsoft.ContainerInstance/containerGroups/%s?api-version=%s",
		l.managementURL, l.cfg.SubscriptionID, l.cfg.ResourceGroup, name, containerAPIVersion)
}
