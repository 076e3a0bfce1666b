// Package research runs a bounded multi-agent conversation over a reported
// issue and produces a markdown fix report.
package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/rodcar/agentic-software-factory/internal/llm"
)

// Role names of the research personas. The names appear in the transcript so
// each agent can attribute prior turns.
const (
	FixProposerName     = "FixProposer"
	IssueTrackerName    = "IssueTracker"
	InternetSearchName  = "InternetSearch"
	ReportGeneratorName = "ReportGenerator"
)

const fixProposerInstructions = `You are a senior engineer proposing a concrete fix for a reported software issue.
Analyze the issue, form a hypothesis about the root cause, and propose a specific code-level fix.
Refine your proposal when other participants add context. Be concise and technical.`

const issueTrackerInstructions = `You represent the project's issue tracker. Given the issue under discussion, summarize what a tracker would know: likely affected component, severity, and any related symptoms worth checking.
If the conversation already covers this, add only what is missing. Be concise.`

const internetSearchInstructions = `You represent public engineering knowledge. Given the issue under discussion, contribute known failure patterns, common root causes, and relevant remediation approaches for this class of problem.
Do not repeat what was already said. Be concise.`

const reportGeneratorInstructions = `You write the final fix report from a research conversation about a software issue.
Produce a markdown report with these sections: "## Issue", "## Root Cause Analysis", "## Proposed Fix", "## Validation".
Base the report only on the conversation. Keep it actionable for a coding agent that will implement the fix.`

// DefaultMaxMessages caps the research conversation before the report is
// written.
const DefaultMaxMessages = 9

// Runner drives the research conversation.
type Runner struct {
	proposer    *llm.Agent
	tracker     *llm.Agent
	search      *llm.Agent
	reporter    *llm.Agent
	maxMessages int
}

// NewRunner creates a runner with the default message cap.
func NewRunner(inv llm.Invoker) *Runner {
	return &Runner{
		proposer:    llm.NewAgent(FixProposerName, fixProposerInstructions, inv),
		tracker:     llm.NewAgent(IssueTrackerName, issueTrackerInstructions, inv),
		search:      llm.NewAgent(InternetSearchName, internetSearchInstructions, inv),
		reporter:    llm.NewAgent(ReportGeneratorName, reportGeneratorInstructions, inv),
		maxMessages: DefaultMaxMessages,
	}
}

// Run researches one issue and returns the generated markdown report. The
// conversation rotates through the proposer, tracker, and search agents
// until the message cap is reached, then the report generator summarizes the
// transcript.
func (r *Runner) Run(ctx context.Context, projectName, issue string) (string, error) {
	transcript := []string{fmt.Sprintf("Issue reported in project %q: %s", projectName, issue)}
	threads := map[string]llm.Thread{}

	order := []*llm.Agent{r.proposer, r.tracker, r.search}
	for len(transcript)-1 < r.maxMessages {
		agent := order[(len(transcript)-1)%len(order)]
		prompt := fmt.Sprintf("Conversation so far:\n%s\n\nAdd your contribution.", strings.Join(transcript, "\n"))
		reply, thread, err := agent.Ask(ctx, threads[agent.Name], prompt)
		if err != nil {
			return "", fmt.Errorf("research turn %s: %w", agent.Name, err)
		}
		threads[agent.Name] = thread
		transcript = append(transcript, fmt.Sprintf("%s: %s", agent.Name, reply))
	}

	report, _, err := r.reporter.Ask(ctx, nil, strings.Join(transcript, "\n"))
	if err != nil {
		return "", fmt.Errorf("research report: %w", err)
	}
	return report, nil
}
