package spec

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rodcar/agentic-software-factory/internal/devops"
	"github.com/rodcar/agentic-software-factory/internal/jobs"
	"github.com/rodcar/agentic-software-factory/internal/llm"
	"github.com/rodcar/agentic-software-factory/internal/models"
	"github.com/rodcar/agentic-software-factory/internal/render"
	"github.com/rodcar/agentic-software-factory/internal/store"
)

// Tracker is the subset of the work tracker client the engine drives.
type Tracker interface {
	CreateProject(ctx context.Context, name string) (*devops.Project, error)
	CreateWorkItem(ctx context.Context, project, workItemType, title string) (*devops.WorkItem, error)
	CreateTestPlanWithCases(ctx context.Context, project, planName string, caseNames []string) (*devops.TestPlanResult, error)
	LatestCommit(ctx context.Context, project string) (*devops.Commit, error)
}

// Options configures an Engine. All fields are optional: a nil Store skips
// persistence, a nil Tracker or Launcher disables the corresponding flow
// with a chat-level message instead of an error.
type Options struct {
	Store    store.Store
	Tracker  Tracker
	Launcher jobs.Launcher
	Logger   *slog.Logger

	// RepositoryURL resolves the git clone URL for a tracker project; used
	// when launching implementation jobs.
	RepositoryURL func(projectName string) string
}

// Engine drives the specification workflow. One Engine serves many chat
// sessions; per-session state is kept in memory and mirrored to the store.
type Engine struct {
	agents   *llm.Agents
	tracker  Tracker
	launcher jobs.Launcher
	db       store.Store
	logger   *slog.Logger
	repoURL  func(string) string

	mu       sync.Mutex
	sessions map[string]*session
}

// session pairs the persisted chat record with the in-memory agent threads.
type session struct {
	mu      sync.Mutex
	data    models.ChatSession
	threads map[string]llm.Thread
}

// NewEngine creates an engine over the given persona set.
func NewEngine(agents *llm.Agents, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	repoURL := opts.RepositoryURL
	if repoURL == nil {
		repoURL = func(string) string { return "" }
	}
	return &Engine{
		agents:   agents,
		tracker:  opts.Tracker,
		launcher: opts.Launcher,
		db:       opts.Store,
		logger:   logger,
		repoURL:  repoURL,
		sessions: make(map[string]*session),
	}
}

// Session returns a copy of the session's chat record, creating the session
// if it does not exist yet.
func (e *Engine) Session(sessionID string) models.ChatSession {
	sess := e.getSession(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.data
}

// HandleMessage triages one user message and runs the routed flow,
// returning the agent replies in order.
func (e *Engine) HandleMessage(ctx context.Context, sessionID, text string) ([]models.Reply, error) {
	sess := e.getSession(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	// The session row must exist before messages reference it.
	e.persistSession(ctx, sess)
	e.recordMessage(ctx, sessionID, "user", text)

	route, err := e.triage(ctx, sess, text)
	if err != nil {
		return nil, err
	}
	e.logger.Info("message triaged", "session", sessionID, "route", route)

	var replies []models.Reply
	switch route {
	case RouteDefinition:
		replies, err = e.handleDefinition(ctx, sess, text)
	case RouteTest:
		replies, err = e.handleTest(ctx, sess)
	case RouteReview:
		replies, err = e.handleReview(ctx, sess)
	case RouteApprove:
		replies, err = e.handleApprove(sess)
	case RouteReviseSpec:
		replies, err = e.handleReviseSpec(ctx, sess, text)
	case RouteReviseTestPlan:
		replies, err = e.handleReviseTestPlan(ctx, sess, text)
	case RouteDevOps:
		replies, err = e.handleDevOps(ctx, sess)
	case RouteImplement:
		replies, err = e.handleImplement(ctx, sess)
	case RouteSmallTalk:
		replies, err = e.handleSmallTalk(ctx, sess, text)
	default:
		replies, err = e.handleGeneral(ctx, sess, text)
	}
	if err != nil {
		return nil, err
	}

	e.persistSession(ctx, sess)
	for _, r := range replies {
		e.recordMessage(ctx, sessionID, r.Author, r.Text)
	}
	return replies, nil
}

// HandleAction runs the flow behind an action button click.
func (e *Engine) HandleAction(ctx context.Context, sessionID, name, payload string) ([]models.Reply, error) {
	sess := e.getSession(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	e.logger.Info("action received", "session", sessionID, "action", name)

	var replies []models.Reply
	var err error
	switch {
	case name == "approve_spec":
		replies, err = e.handleApprove(sess)
	case name == "integrate_devops":
		replies, err = e.handleDevOps(ctx, sess)
	case name == "skip_integration":
		replies = []models.Reply{{
			Author:  llm.TriageAgentName,
			Text:    "Skipping work tracker integration. Ready to implement the project whenever you are.",
			Actions: []models.Action{implementAction()},
		}}
	case name == "implement_project":
		replies, err = e.handleImplement(ctx, sess)
	case strings.HasPrefix(name, "apply_suggestion_"):
		replies = e.applySuggestion(ctx, sess, payload)
	default:
		return nil, fmt.Errorf("unknown action: %s", name)
	}
	if err != nil {
		return nil, err
	}

	e.persistSession(ctx, sess)
	for _, r := range replies {
		e.recordMessage(ctx, sessionID, r.Author, r.Text)
	}
	return replies, nil
}

func (e *Engine) getSession(id string) *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sess, ok := e.sessions[id]; ok {
		return sess
	}
	sess := &session{
		data:    models.ChatSession{ID: id, CreatedAt: time.Now().UTC()},
		threads: make(map[string]llm.Thread),
	}
	// Agent threads do not survive restarts, but the project record does.
	if e.db != nil {
		if stored, err := e.db.GetChatSession(context.Background(), id); err == nil {
			sess.data = *stored
		}
	}
	e.sessions[id] = sess
	return sess
}

// triage asks the triage agent to label the message given the session state.
func (e *Engine) triage(ctx context.Context, sess *session, text string) (Route, error) {
	prompt := fmt.Sprintf(
		"Has Functional Spec: %t\nHas Test Plan: %t\nIs Approved: %t\n\nUser message: %s\n\nRespond with exactly one label from: %s.",
		sess.data.FunctionalSpec != "", sess.data.TestPlan != "", sess.data.IsApproved,
		text, triageVocabulary,
	)
	reply, thread, err := e.agents.Triage.Ask(ctx, sess.threads[llm.TriageAgentName], prompt)
	if err != nil {
		return RouteGeneral, fmt.Errorf("triage: %w", err)
	}
	sess.threads[llm.TriageAgentName] = thread
	return ParseRoute(reply), nil
}

// handleDefinition starts (or restarts) a project from an idea, then chains
// straight into test planning and review so one message yields the full
// artifact set.
func (e *Engine) handleDefinition(ctx context.Context, sess *session, idea string) ([]models.Reply, error) {
	if sess.data.IsApproved {
		// A fresh idea after approval starts the next project in the same
		// conversation.
		sess.data.Reset()
		sess.threads = make(map[string]llm.Thread)
	}
	sess.data.Idea = idea

	specReply, ok := e.generateSpec(ctx, sess, idea)
	replies := []models.Reply{specReply}
	if ok {
		// Test planning only makes sense over a usable spec; the reviewer
		// runs either way and reports on whatever the session holds.
		planReply, _ := e.generateTestPlan(ctx, sess)
		replies = append(replies, planReply)
	}

	reviewReply, _ := e.generateReview(ctx, sess)
	return append(replies, reviewReply), nil
}

func (e *Engine) handleTest(ctx context.Context, sess *session) ([]models.Reply, error) {
	if sess.data.FunctionalSpec == "" {
		return []models.Reply{guidance("I need a functional spec before creating a test plan. Tell me about your project idea first.")}, nil
	}
	planReply, _ := e.generateTestPlan(ctx, sess)
	replies := []models.Reply{planReply}
	reviewReply, _ := e.generateReview(ctx, sess)
	return append(replies, reviewReply), nil
}

func (e *Engine) handleReview(ctx context.Context, sess *session) ([]models.Reply, error) {
	if sess.data.FunctionalSpec == "" || sess.data.TestPlan == "" {
		return []models.Reply{guidance("There is nothing to review yet. Share a project idea and I will draft a spec and test plan first.")}, nil
	}
	reviewReply, _ := e.generateReview(ctx, sess)
	return []models.Reply{reviewReply}, nil
}

func (e *Engine) handleApprove(sess *session) ([]models.Reply, error) {
	var missing []string
	if sess.data.FunctionalSpec == "" {
		missing = append(missing, "a functional spec")
	}
	if sess.data.TestPlan == "" {
		missing = append(missing, "a test plan")
	}
	if len(missing) > 0 {
		return []models.Reply{guidance(fmt.Sprintf(
			"I can't record an approval yet: the project still needs %s.", strings.Join(missing, " and ")))}, nil
	}
	sess.data.IsApproved = true
	if e.tracker == nil {
		return []models.Reply{{
			Author:  llm.TriageAgentName,
			Text:    "Specification and test plan approved. No work tracker is configured, so I skipped the project setup there. Ready to implement whenever you are.",
			Actions: []models.Action{implementAction()},
		}}, nil
	}
	return []models.Reply{{
		Author: llm.TriageAgentName,
		Text:   "Specification and test plan approved. Do you want me to create the project in the work tracker?",
		Actions: []models.Action{
			{Name: "integrate_devops", Label: "Create tracker project"},
			{Name: "skip_integration", Label: "Skip integration"},
		},
	}}, nil
}

func (e *Engine) handleReviseSpec(ctx context.Context, sess *session, request string) ([]models.Reply, error) {
	if sess.data.FunctionalSpec == "" {
		return []models.Reply{guidance("There is no functional spec to revise yet. Tell me about your project idea first.")}, nil
	}
	prompt := fmt.Sprintf("Revise the functional specification to address the following request, and return the full updated specification in the same JSON format.\n\nRequest: %s", request)
	raw, thread, err := e.agents.Definition.Ask(ctx, sess.threads[llm.DefinitionAgentName], prompt)
	if err != nil {
		return nil, fmt.Errorf("revise spec: %w", err)
	}
	sess.threads[llm.DefinitionAgentName] = thread

	// The previous spec stays in place unless the revision validates.
	if !validSpec(raw) {
		return []models.Reply{{
			Author: llm.DefinitionAgentName,
			Text:   "The revised specification did not come back in a usable shape, so I kept the current one. Try rephrasing the change.",
		}}, nil
	}
	sess.data.FunctionalSpec = raw
	md, _ := render.SpecMarkdown(raw)
	return []models.Reply{{Author: llm.DefinitionAgentName, Text: "Here is the revised specification:\n\n" + md}}, nil
}

func (e *Engine) handleReviseTestPlan(ctx context.Context, sess *session, request string) ([]models.Reply, error) {
	if sess.data.TestPlan == "" {
		return []models.Reply{guidance("There is no test plan to revise yet.")}, nil
	}
	prompt := fmt.Sprintf("Revise the test plan to address the following request, and return the full updated plan in the same JSON format.\n\nRequest: %s", request)
	raw, thread, err := e.agents.Test.Ask(ctx, sess.threads[llm.TestAgentName], prompt)
	if err != nil {
		return nil, fmt.Errorf("revise test plan: %w", err)
	}
	sess.threads[llm.TestAgentName] = thread

	if !validTestPlan(raw) {
		return []models.Reply{{
			Author: llm.TestAgentName,
			Text:   "The revised test plan did not come back in a usable shape, so I kept the current one. Try rephrasing the change.",
		}}, nil
	}
	sess.data.TestPlan = raw
	md, _ := render.TestPlanMarkdown(raw)
	return []models.Reply{{
		Author:     llm.TestAgentName,
		Text:       "Here is the revised test plan:\n\n" + md,
		Attachment: &models.Attachment{Name: "test_plan.csv", Content: render.TestPlanCSV(raw)},
	}}, nil
}

func (e *Engine) handleImplement(ctx context.Context, sess *session) ([]models.Reply, error) {
	if !sess.data.IsApproved || sess.data.FunctionalSpec == "" || sess.data.TestPlan == "" {
		return []models.Reply{guidance("Implementation needs an approved specification and test plan first.")}, nil
	}
	if e.launcher == nil {
		return []models.Reply{guidance("No code job launcher is configured, so I can't start the implementation.")}, nil
	}

	projectName := sess.data.DevOpsProjectName
	if projectName == "" {
		projectName = projectNameFromIdea(sess.data.Idea)
	}
	req := jobs.Request{
		ProjectName:   projectName,
		RepositoryURL: e.repoURL(projectName),
		Type:          models.JobTypeImplementation,
		CodeAgent:     models.CodeAgentClaude,
		Spec:          sess.data.FunctionalSpec,
		TestPlan:      sess.data.TestPlan,
	}
	job, err := e.launcher.Launch(ctx, req)
	if job != nil && e.db != nil {
		if dbErr := e.db.CreateJob(ctx, job); dbErr != nil {
			e.logger.Warn("record job", "error", dbErr)
		}
	}
	if err != nil {
		return []models.Reply{{
			Author: llm.JobLauncherName,
			Text:   fmt.Sprintf("The implementation job failed to run: %v", err),
		}}, nil
	}
	text := fmt.Sprintf("Implementation job %s for project %s finished with status %s. %s", job.ID, projectName, job.Status, job.Message)
	if e.tracker != nil {
		if commit, cerr := e.tracker.LatestCommit(ctx, projectName); cerr != nil {
			e.logger.Warn("latest commit", "project", projectName, "error", cerr)
		} else {
			text += fmt.Sprintf(" Latest commit %s on branch %s.", commit.CommitID, commit.Branch)
		}
	}
	return []models.Reply{
		{Author: llm.JobLauncherName, Text: text},
		guidance("That wraps up this project. Tell me about your next idea whenever you are ready."),
	}, nil
}

func (e *Engine) handleSmallTalk(ctx context.Context, sess *session, text string) ([]models.Reply, error) {
	prompt := fmt.Sprintf("Respond briefly and helpfully to this message from the user: %s", text)
	reply, thread, err := e.agents.Triage.Ask(ctx, sess.threads[llm.TriageAgentName], prompt)
	if err != nil {
		return nil, fmt.Errorf("small talk: %w", err)
	}
	sess.threads[llm.TriageAgentName] = thread
	return []models.Reply{{Author: llm.TriageAgentName, Text: reply}}, nil
}

// handleGeneral answers free-form feedback through the reviewer, which sees
// the current artifacts as context.
func (e *Engine) handleGeneral(ctx context.Context, sess *session, text string) ([]models.Reply, error) {
	if sess.data.FunctionalSpec == "" && sess.data.TestPlan == "" {
		return []models.Reply{guidance("Tell me about the software project you want to build and I will draft a functional specification and test plan for it.")}, nil
	}
	prompt := fmt.Sprintf(
		"Functional specification:\n%s\n\nTest plan:\n%s\n\nPrevious review feedback:\n%s\n\nAnswer the user's message in plain text, no JSON: %s",
		sess.data.FunctionalSpec, sess.data.TestPlan, sess.data.ReviewFeedback, text,
	)
	reply, thread, err := e.agents.Reviewer.Ask(ctx, sess.threads[llm.ReviewerAgentName], prompt)
	if err != nil {
		return nil, fmt.Errorf("general feedback: %w", err)
	}
	sess.threads[llm.ReviewerAgentName] = thread
	return []models.Reply{{Author: llm.ReviewerAgentName, Text: reply}}, nil
}

// applySuggestion re-triages a review suggestion with a narrowed vocabulary
// and routes it to the right revision flow. Failures surface as chat
// messages; the session is never left half-changed.
func (e *Engine) applySuggestion(ctx context.Context, sess *session, suggestion string) []models.Reply {
	if suggestion == "" {
		return []models.Reply{guidance("That suggestion came through empty, so there is nothing to apply.")}
	}
	prompt := fmt.Sprintf(
		"Decide which project artifact this revision request applies to. Respond with exactly one label from: REVISE_FUNCTIONAL_SPEC, REVISE_TEST_PLAN, SMALL_TALK, UNKNOWN.\n\nRequest: %s",
		suggestion,
	)
	reply, _, err := e.agents.Triage.Ask(ctx, nil, prompt)
	if err != nil {
		e.logger.Warn("suggestion triage failed", "error", err)
		return []models.Reply{guidance("I couldn't process that suggestion right now. Please try again.")}
	}

	var replies []models.Reply
	switch ParseRevisionTarget(reply) {
	case ReviseSpecTarget:
		replies, err = e.handleReviseSpec(ctx, sess, suggestion)
	case ReviseTestPlanTarget:
		replies, err = e.handleReviseTestPlan(ctx, sess, suggestion)
	case ReviseSmallTalk:
		replies, err = e.handleSmallTalk(ctx, sess, suggestion)
	default:
		return []models.Reply{guidance("I couldn't work out what to change for that suggestion.")}
	}
	if err != nil {
		e.logger.Warn("apply suggestion failed", "error", err)
		return []models.Reply{guidance("Applying that suggestion failed, nothing was changed. Please try again.")}
	}
	return replies
}

// generateSpec asks the definition agent for a functional spec and commits
// it only when the response validates.
func (e *Engine) generateSpec(ctx context.Context, sess *session, idea string) (models.Reply, bool) {
	raw, thread, err := e.agents.Definition.Ask(ctx, sess.threads[llm.DefinitionAgentName], idea)
	if err != nil {
		e.logger.Warn("generate spec", "error", err)
		sess.data.FunctionalSpec = ""
		return guidance("I couldn't generate a specification right now. Please try again."), false
	}
	sess.threads[llm.DefinitionAgentName] = thread

	if !validSpec(raw) {
		sess.data.FunctionalSpec = ""
		md, _ := render.SpecMarkdown(raw)
		return models.Reply{
			Author: llm.DefinitionAgentName,
			Text:   "The specification did not come back in a usable shape. " + md,
		}, false
	}
	sess.data.FunctionalSpec = raw
	md, _ := render.SpecMarkdown(raw)
	return models.Reply{Author: llm.DefinitionAgentName, Text: md}, true
}

// generateTestPlan asks the test agent for a plan over the current spec.
func (e *Engine) generateTestPlan(ctx context.Context, sess *session) (models.Reply, bool) {
	prompt := fmt.Sprintf("Create a test plan for this functional specification:\n%s", sess.data.FunctionalSpec)
	raw, thread, err := e.agents.Test.Ask(ctx, sess.threads[llm.TestAgentName], prompt)
	if err != nil {
		e.logger.Warn("generate test plan", "error", err)
		return guidance("I couldn't generate a test plan right now. Please try again."), false
	}
	sess.threads[llm.TestAgentName] = thread

	if !validTestPlan(raw) {
		md, _ := render.TestPlanMarkdown(raw)
		return models.Reply{
			Author: llm.TestAgentName,
			Text:   "The test plan did not come back in a usable shape. " + md,
		}, false
	}
	sess.data.TestPlan = raw
	md, _ := render.TestPlanMarkdown(raw)
	return models.Reply{
		Author:     llm.TestAgentName,
		Text:       md,
		Attachment: &models.Attachment{Name: "test_plan.csv", Content: render.TestPlanCSV(raw)},
	}, true
}

// generateReview asks the reviewer for feedback on the spec and plan. The
// reply carries one action per actionable suggestion plus an approve button.
func (e *Engine) generateReview(ctx context.Context, sess *session) (models.Reply, bool) {
	prompt := fmt.Sprintf(
		"User idea: %s\n\nFunctional specification:\n%s\n\nTest plan:\n%s\n\nReview them.",
		sess.data.Idea, sess.data.FunctionalSpec, sess.data.TestPlan,
	)
	raw, thread, err := e.agents.Reviewer.Ask(ctx, sess.threads[llm.ReviewerAgentName], prompt)
	if err != nil {
		e.logger.Warn("generate review", "error", err)
		return guidance("I couldn't get a review right now, but the spec and test plan are ready for your approval."), false
	}
	sess.threads[llm.ReviewerAgentName] = thread
	sess.data.ReviewFeedback = raw

	md, _ := render.ReviewMarkdown(raw)
	actions := render.SuggestionActions(raw)
	actions = append(actions, models.Action{Name: "approve_spec", Label: "Approve"})
	return models.Reply{Author: llm.ReviewerAgentName, Text: md, Actions: actions}, true
}

func (e *Engine) persistSession(ctx context.Context, sess *session) {
	if e.db == nil {
		return
	}
	if err := e.db.UpdateChatSession(ctx, &sess.data); err != nil {
		if err := e.db.CreateChatSession(ctx, &sess.data); err != nil {
			e.logger.Warn("persist session", "error", err)
		}
	}
}

func (e *Engine) recordMessage(ctx context.Context, sessionID, author, text string) {
	if e.db == nil {
		return
	}
	msg := &models.ChatMessage{SessionID: sessionID, Author: author, Text: text}
	if err := e.db.AppendChatMessage(ctx, msg); err != nil {
		e.logger.Warn("record message", "error", err)
	}
}

func guidance(text string) models.Reply {
	return models.Reply{Author: llm.TriageAgentName, Text: text}
}

func implementAction() models.Action {
	return models.Action{Name: "implement_project", Label: "Implement project"}
}

func validSpec(raw string) bool {
	var spec models.FunctionalSpec
	return json.Unmarshal([]byte(raw), &spec) == nil && len(spec.Epics) > 0
}

func validTestPlan(raw string) bool {
	var plan models.TestPlan
	return json.Unmarshal([]byte(raw), &plan) == nil && len(plan.TestCases) > 0
}

// projectNameFromIdea derives a tracker-safe project name from the idea
// text.
func projectNameFromIdea(idea string) string {
	var words []string
	for _, w := range strings.Fields(idea) {
		var b strings.Builder
		for _, r := range w {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
				b.WriteRune(r)
			}
		}
		if b.Len() > 0 {
			words = append(words, b.String())
		}
		if len(words) == 4 {
			break
		}
	}
	if len(words) == 0 {
		return "agent-project"
	}
	return strings.Join(words, "-")
}
