// Package jobs launches containerized coding-agent runs and tracks them to
// completion.
package jobs

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rodcar/agentic-software-factory/internal/models"
)

// Request describes one code job to launch. Spec and TestPlan feed
// implementation jobs; Issue and Report feed fix jobs.
type Request struct {
	ProjectName   string
	RepositoryURL string
	Type          models.JobType
	CodeAgent     models.CodeAgent
	Spec          string
	TestPlan      string
	Issue         string
	Report        string
}

// Launcher starts a code job and blocks until it finishes or the watch
// window elapses.
type Launcher interface {
	Launch(ctx context.Context, req Request) (*models.Job, error)
}

// ContainerName derives a fresh container group name for an agent run, e.g.
// claude-job-1a2b3c4d.
func ContainerName(agent models.CodeAgent) string {
	prefix := "claude-job"
	if agent == models.CodeAgentCodex {
		prefix = "codex-job"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%s", prefix, suffix)
}

// Prompt builds the instruction the agent container receives.
func Prompt(req Request) string {
	if req.Type == models.JobTypeFix {
		return fmt.Sprintf("/project:fix-issue '%s', Report: '%s'. Important: Push code to origin repository.",
			req.Issue, req.Report)
	}
	return fmt.Sprintf("/project:implement functional spec: '%s' and implement the following tests: '%s'. Important: Push code to origin.",
		req.Spec, req.TestPlan)
}
