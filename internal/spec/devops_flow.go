package spec

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rodcar/agentic-software-factory/internal/llm"
	"github.com/rodcar/agentic-software-factory/internal/models"
)

// handleDevOps runs the tracker integration sequence. The sequence aborts
// on the first failure and never rolls back what it already created; either
// way the conversation always ends with the implementation prompt.
func (e *Engine) handleDevOps(ctx context.Context, sess *session) ([]models.Reply, error) {
	if !sess.data.IsApproved {
		return []models.Reply{guidance("The specification and test plan need approval before I create the tracker project.")}, nil
	}
	var replies []models.Reply
	if e.tracker == nil {
		replies = []models.Reply{guidance("No work tracker is configured, skipping project creation.")}
	} else {
		replies = e.runTrackerSequence(ctx, sess)
	}
	return append(replies, models.Reply{
		Author:  llm.JobLauncherName,
		Text:    "Shall we implement the project?",
		Actions: []models.Action{implementAction()},
	}), nil
}

func (e *Engine) runTrackerSequence(ctx context.Context, sess *session) []models.Reply {
	name := projectNameFromIdea(sess.data.Idea)

	project, err := e.tracker.CreateProject(ctx, name)
	if err != nil {
		e.logger.Warn("tracker create project", "error", err)
		return []models.Reply{{
			Author: llm.DevOpsAgentName,
			Text:   fmt.Sprintf("Creating the tracker project failed: %v", err),
		}}
	}

	var spec models.FunctionalSpec
	if err := json.Unmarshal([]byte(sess.data.FunctionalSpec), &spec); err != nil {
		return []models.Reply{{
			Author: llm.DevOpsAgentName,
			Text:   fmt.Sprintf("The project %s was created, but the specification could not be read to create work items.", name),
		}}
	}
	workItems := 0
	for _, epic := range spec.Epics {
		for _, feature := range epic.Features {
			if _, err := e.tracker.CreateWorkItem(ctx, name, "", feature); err != nil {
				e.logger.Warn("tracker create work item", "error", err)
				return []models.Reply{{
					Author: llm.DevOpsAgentName,
					Text:   fmt.Sprintf("Created project %s and %d work items, then creating %q failed: %v", name, workItems, feature, err),
				}}
			}
			workItems++
		}
	}

	var plan models.TestPlan
	caseNames := []string{}
	planName := "Test Plan"
	if err := json.Unmarshal([]byte(sess.data.TestPlan), &plan); err == nil {
		if plan.Name != "" {
			planName = plan.Name
		}
		for _, sc := range plan.Cases() {
			caseNames = append(caseNames, sc.Case.Name)
		}
	}
	planResult, err := e.tracker.CreateTestPlanWithCases(ctx, name, planName, caseNames)
	if err != nil {
		e.logger.Warn("tracker create test plan", "error", err)
		return []models.Reply{{
			Author: llm.DevOpsAgentName,
			Text:   fmt.Sprintf("Created project %s and %d work items, then creating the test plan failed: %v", name, workItems, err),
		}}
	}

	sess.data.DevOpsProjectName = name
	sess.data.DevOpsProjectURL = project.URL

	summary := fmt.Sprintf("Created tracker project %s with %d work items and test plan %d containing %d test cases.",
		name, workItems, planResult.PlanID, len(planResult.TestCaseIDs))
	prompt := fmt.Sprintf("Turn this result into one short chat message for the user: %s", summary)
	if text, thread, err := e.agents.DevOps.Ask(ctx, sess.threads[llm.DevOpsAgentName], prompt); err == nil {
		sess.threads[llm.DevOpsAgentName] = thread
		summary = text
	} else {
		e.logger.Warn("tracker summary", "error", err)
	}
	return []models.Reply{{Author: llm.DevOpsAgentName, Text: summary}}
}
