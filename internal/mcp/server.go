// Package mcp exposes the factory's tracker operations and code job
// launcher as MCP tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rodcar/agentic-software-factory/internal/devops"
	"github.com/rodcar/agentic-software-factory/internal/jobs"
	"github.com/rodcar/agentic-software-factory/internal/models"
	"github.com/rodcar/agentic-software-factory/internal/store"
)

// Tracker is the work tracker surface exposed as tools.
type Tracker interface {
	CreateProject(ctx context.Context, name string) (*devops.Project, error)
	CreateWorkItem(ctx context.Context, project, workItemType, title string) (*devops.WorkItem, error)
	CreateTestPlanWithCases(ctx context.Context, project, planName string, caseNames []string) (*devops.TestPlanResult, error)
	LatestCommit(ctx context.Context, project string) (*devops.Commit, error)
}

// Server wraps the tracker client and job launcher and exposes them as MCP
// tools.
type Server struct {
	tracker  Tracker
	launcher jobs.Launcher
	store    store.Store
}

// NewServer creates the MCP server wrapper. The store may be nil; launched
// jobs are then not recorded.
func NewServer(tracker Tracker, launcher jobs.Launcher, st store.Store) *Server {
	return &Server{tracker: tracker, launcher: launcher, store: st}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("asf", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.createProjectTool())
	srv.AddTool(s.createWorkItemTool())
	srv.AddTool(s.createTestPlanTool())
	srv.AddTool(s.latestCommitTool())
	srv.AddTool(s.launchCodeJobTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// asf_create_project
func (s *Server) createProjectTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("asf_create_project",
		mcp.WithDescription("Create a project in the work tracker. Returns the queued operation id and URL."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
	)
	return tool, s.handleCreateProject
}

func (s *Server) handleCreateProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := request.GetString("project", "")
	if project == "" {
		return mcp.NewToolResultError("project is required"), nil
	}
	if s.tracker == nil {
		return mcp.NewToolResultError("work tracker is not configured"), nil
	}
	created, err := s.tracker.CreateProject(ctx, project)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create project: %v", err)), nil
	}
	data, err := json.Marshal(created)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal project: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// asf_create_work_item
func (s *Server) createWorkItemTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("asf_create_work_item",
		mcp.WithDescription("Create a work item in a tracker project. Defaults to type Product Backlog Item."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Work item title")),
		mcp.WithString("type", mcp.Description("Work item type, e.g. Product Backlog Item or Test Case")),
	)
	return tool, s.handleCreateWorkItem
}

func (s *Server) handleCreateWorkItem(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := request.GetString("project", "")
	title := request.GetString("title", "")
	if project == "" || title == "" {
		return mcp.NewToolResultError("project and title are required"), nil
	}
	if s.tracker == nil {
		return mcp.NewToolResultError("work tracker is not configured"), nil
	}
	wi, err := s.tracker.CreateWorkItem(ctx, project, request.GetString("type", ""), title)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create work item: %v", err)), nil
	}
	data, err := json.Marshal(wi)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal work item: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// asf_create_test_plan
func (s *Server) createTestPlanTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("asf_create_test_plan",
		mcp.WithDescription("Create a test plan with a static suite and one Test Case work item per case name."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithString("plan_name", mcp.Required(), mcp.Description("Test plan name")),
		mcp.WithString("test_cases", mcp.Description("Comma-separated test case names")),
	)
	return tool, s.handleCreateTestPlan
}

func (s *Server) handleCreateTestPlan(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := request.GetString("project", "")
	planName := request.GetString("plan_name", "")
	if project == "" || planName == "" {
		return mcp.NewToolResultError("project and plan_name are required"), nil
	}
	if s.tracker == nil {
		return mcp.NewToolResultError("work tracker is not configured"), nil
	}
	var caseNames []string
	for _, name := range strings.Split(request.GetString("test_cases", ""), ",") {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			caseNames = append(caseNames, trimmed)
		}
	}
	result, err := s.tracker.CreateTestPlanWithCases(ctx, project, planName, caseNames)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create test plan: %v", err)), nil
	}
	out := map[string]any{
		"plan_id":       result.PlanID,
		"suite_id":      result.SuiteID,
		"test_case_ids": result.TestCaseIDs,
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal test plan: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// asf_latest_commit
func (s *Server) latestCommitTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("asf_latest_commit",
		mcp.WithDescription("Get the newest commit and branch of a tracker project's repository."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
	)
	return tool, s.handleLatestCommit
}

func (s *Server) handleLatestCommit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := request.GetString("project", "")
	if project == "" {
		return mcp.NewToolResultError("project is required"), nil
	}
	if s.tracker == nil {
		return mcp.NewToolResultError("work tracker is not configured"), nil
	}
	commit, err := s.tracker.LatestCommit(ctx, project)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to get latest commit: %v", err)), nil
	}
	out := map[string]string{
		"commit_id":  commit.CommitID,
		"branch":     commit.Branch,
		"repository": commit.Repository,
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal commit: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// asf_launch_code_job
func (s *Server) launchCodeJobTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("asf_launch_code_job",
		mcp.WithDescription("Launch a containerized coding-agent job and wait for it to finish. Returns the job record as JSON."),
		mcp.WithString("project", mcp.Required(), mcp.Description("Project name")),
		mcp.WithString("repository_url", mcp.Description("Git clone URL the agent pushes to")),
		mcp.WithString("job_type", mcp.Description("implementation or fix (default implementation)")),
		mcp.WithString("code_agent", mcp.Description("claude-code or codex (default claude-code)")),
		mcp.WithString("spec", mcp.Description("Functional spec JSON for implementation jobs")),
		mcp.WithString("test_plan", mcp.Description("Test plan JSON for implementation jobs")),
		mcp.WithString("issue", mcp.Description("Issue text for fix jobs")),
		mcp.WithString("report", mcp.Description("Research report for fix jobs")),
	)
	return tool, s.handleLaunchCodeJob
}

func (s *Server) handleLaunchCodeJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := request.GetString("project", "")
	if project == "" {
		return mcp.NewToolResultError("project is required"), nil
	}
	if s.launcher == nil {
		return mcp.NewToolResultError("job launcher is not configured"), nil
	}
	jobType := models.JobType(request.GetString("job_type", string(models.JobTypeImplementation)))
	agent := models.CodeAgent(request.GetString("code_agent", string(models.CodeAgentClaude)))

	job, err := s.launcher.Launch(ctx, jobs.Request{
		ProjectName:   project,
		RepositoryURL: request.GetString("repository_url", ""),
		Type:          jobType,
		CodeAgent:     agent,
		Spec:          request.GetString("spec", ""),
		TestPlan:      request.GetString("test_plan", ""),
		Issue:         request.GetString("issue", ""),
		Report:        request.GetString("report", ""),
	})
	if job != nil && s.store != nil {
		_ = s.store.CreateJob(ctx, job)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to launch job: %v", err)), nil
	}
	out := map[string]any{
		"id":        job.ID,
		"container": job.Container,
		"status":    job.Status,
		"exit_code": job.ExitCode,
		"message":   job.Message,
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal job: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
