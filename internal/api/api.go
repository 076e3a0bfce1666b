// Package api provides the REST surface of the factory: the chat endpoints,
// the work-item webhook, issue research, and job management.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rodcar/agentic-software-factory/internal/jobs"
	"github.com/rodcar/agentic-software-factory/internal/models"
	"github.com/rodcar/agentic-software-factory/internal/research"
	"github.com/rodcar/agentic-software-factory/internal/spec"
	"github.com/rodcar/agentic-software-factory/internal/store"
)

// agentTag marks a bug work item as addressed to the factory.
const agentTag = "[AGENT]"

// Server provides the REST API handlers.
type Server struct {
	store    store.Store
	engine   *spec.Engine
	research *research.Runner
	launcher jobs.Launcher
	logger   *slog.Logger

	// researchURL is where the webhook forwards triggered bugs. It points
	// back at this server's own research endpoint in production.
	researchURL string
}

// NewServer creates a new API server. Any collaborator may be nil; the
// corresponding endpoints then answer 503.
func NewServer(st store.Store, engine *spec.Engine, runner *research.Runner, launcher jobs.Launcher, researchURL string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:       st,
		engine:      engine,
		research:    runner,
		launcher:    launcher,
		logger:      logger,
		researchURL: researchURL,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/webhook", s.webhook)
	mux.HandleFunc("POST /api/v1/research", s.researchIssue)

	mux.HandleFunc("GET /api/v1/jobs", s.listJobs)
	mux.HandleFunc("POST /api/v1/jobs", s.createJob)
	mux.HandleFunc("GET /api/v1/jobs/{id}", s.getJob)

	mux.HandleFunc("POST /api/v1/sessions", s.createSession)
	mux.HandleFunc("GET /api/v1/sessions", s.listSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.getSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/messages", s.listMessages)
	mux.HandleFunc("POST /api/v1/sessions/{id}/messages", s.postMessage)
	mux.HandleFunc("POST /api/v1/sessions/{id}/actions", s.postAction)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- Webhook ---

// webhookPayload is the subset of a work tracker service-hook event the
// webhook inspects.
type webhookPayload struct {
	Resource struct {
		Fields map[string]any `json:"fields"`
	} `json:"resource"`
}

func (p *webhookPayload) field(name string) string {
	v, _ := p.Resource.Fields[name].(string)
	return v
}

// webhook receives work-item events. Bugs whose title carries the agent tag
// trigger issue research; everything else is acknowledged and dropped.
func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	if payload.field("System.WorkItemType") != "Bug" {
		writeJSON(w, http.StatusOK, map[string]string{"result": "Not a bug work item."})
		return
	}
	title := payload.field("System.Title")
	if !strings.Contains(title, agentTag) {
		writeJSON(w, http.StatusOK, map[string]string{"result": "No " + agentTag + " tag in the bug content."})
		return
	}

	// The full title, tag included, is the issue text researched downstream.
	issue := title
	projectName := payload.field("System.TeamProject")

	// Fire and forget: the webhook caller gets an immediate acknowledgment
	// while research runs on its own.
	go s.forwardToResearch(issue, projectName)

	writeJSON(w, http.StatusOK, map[string]string{"result": "triggered"})
}

func (s *Server) forwardToResearch(issue, projectName string) {
	body, err := json.Marshal(map[string]string{"issue": issue, "project_name": projectName})
	if err != nil {
		s.logger.Error("encode research request", "error", err)
		return
	}
	// Short timeout: the dispatch should fail fast, the webhook caller has
	// already been acknowledged.
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(s.researchURL, "application/json", bytes.NewReader(body))
	if err != nil {
		s.logger.Error("forward to research", "error", err)
		return
	}
	defer resp.Body.Close()
	s.logger.Info("research triggered", "project", projectName, "status", resp.StatusCode)
}

// --- Research ---

type researchRequest struct {
	Issue       string `json:"issue"`
	ProjectName string `json:"project_name"`
}

// researchIssue runs the multi-agent research loop over a reported issue
// and launches a fix job with the resulting report.
func (s *Server) researchIssue(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}
	var req researchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.Issue == "" || req.ProjectName == "" {
		writeError(w, http.StatusBadRequest, "issue and project_name are required")
		return
	}
	if s.research == nil || s.launcher == nil {
		writeError(w, http.StatusServiceUnavailable, "research is not configured")
		return
	}

	report, err := s.research.Run(r.Context(), req.ProjectName, req.Issue)
	if err != nil {
		s.logger.Error("research run", "error", err)
		writeError(w, http.StatusBadGateway, fmt.Sprintf("research failed: %v", err))
		return
	}

	job, err := s.launcher.Launch(r.Context(), jobs.Request{
		ProjectName: req.ProjectName,
		Type:        models.JobTypeFix,
		CodeAgent:   models.CodeAgentClaude,
		Issue:       req.Issue,
		Report:      report,
	})
	statusCode := http.StatusOK
	if err != nil {
		s.logger.Error("fix job launch", "error", err)
		statusCode = http.StatusBadGateway
	}
	if job != nil && s.store != nil {
		if dbErr := s.store.CreateJob(r.Context(), job); dbErr != nil {
			s.logger.Warn("record job", "error", dbErr)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status_code": statusCode, "report": report})
}

// --- Jobs ---

type jobResponse struct {
	ID          string           `json:"id"`
	ProjectName string           `json:"project_name"`
	Type        models.JobType   `json:"type"`
	CodeAgent   models.CodeAgent `json:"code_agent"`
	Container   string           `json:"container"`
	Status      models.JobStatus `json:"status"`
	ExitCode    int              `json:"exit_code"`
	Message     string           `json:"message"`
	StartedAt   time.Time        `json:"started_at"`
	EndedAt     *time.Time       `json:"ended_at,omitempty"`
}

func toJobResponse(j *models.Job) jobResponse {
	return jobResponse{
		ID:          j.ID,
		ProjectName: j.ProjectName,
		Type:        j.Type,
		CodeAgent:   j.CodeAgent,
		Container:   j.Container,
		Status:      j.Status,
		ExitCode:    j.ExitCode,
		Message:     j.Message,
		StartedAt:   j.StartedAt,
		EndedAt:     j.EndedAt,
	}
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured")
		return
	}
	filter := store.JobListFilter{
		ProjectName: r.URL.Query().Get("project"),
		Status:      models.JobStatus(r.URL.Query().Get("status")),
	}
	list, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]jobResponse, 0, len(list))
	for _, j := range list {
		out = append(out, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured")
		return
	}
	job, err := s.store.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

type createJobRequest struct {
	ProjectName   string `json:"project_name"`
	RepositoryURL string `json:"repository_url"`
	JobType       string `json:"job_type"`
	CodeAgent     string `json:"code_agent"`
	Spec          string `json:"spec"`
	TestPlan      string `json:"test_plan"`
	Issue         string `json:"issue"`
	Report        string `json:"report"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	if s.launcher == nil {
		writeError(w, http.StatusServiceUnavailable, "no job launcher configured")
		return
	}
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.ProjectName == "" {
		writeError(w, http.StatusBadRequest, "project_name is required")
		return
	}
	jobType := models.JobType(req.JobType)
	if jobType == "" {
		jobType = models.JobTypeImplementation
	}
	if jobType != models.JobTypeImplementation && jobType != models.JobTypeFix {
		writeError(w, http.StatusBadRequest, "No job was processed or job_type not supported.")
		return
	}
	agent := models.CodeAgent(req.CodeAgent)
	if agent == "" {
		agent = models.CodeAgentClaude
	}

	job, err := s.launcher.Launch(r.Context(), jobs.Request{
		ProjectName:   req.ProjectName,
		RepositoryURL: req.RepositoryURL,
		Type:          jobType,
		CodeAgent:     agent,
		Spec:          req.Spec,
		TestPlan:      req.TestPlan,
		Issue:         req.Issue,
		Report:        req.Report,
	})
	if job != nil && s.store != nil {
		if dbErr := s.store.CreateJob(r.Context(), job); dbErr != nil {
			s.logger.Warn("record job", "error", dbErr)
		}
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toJobResponse(job))
}

// --- Chat sessions ---

type sessionResponse struct {
	ID                string       `json:"id"`
	Idea              string       `json:"idea"`
	Stage             models.Stage `json:"stage"`
	FunctionalSpec    string       `json:"functional_spec,omitempty"`
	TestPlan          string       `json:"test_plan,omitempty"`
	ReviewFeedback    string       `json:"review_feedback,omitempty"`
	IsApproved        bool         `json:"is_approved"`
	DevOpsProjectName string       `json:"devops_project_name,omitempty"`
	DevOpsProjectURL  string       `json:"devops_project_url,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

func toSessionResponse(cs models.ChatSession) sessionResponse {
	return sessionResponse{
		ID:                cs.ID,
		Idea:              cs.Idea,
		Stage:             cs.Stage(),
		FunctionalSpec:    cs.FunctionalSpec,
		TestPlan:          cs.TestPlan,
		ReviewFeedback:    cs.ReviewFeedback,
		IsApproved:        cs.IsApproved,
		DevOpsProjectName: cs.DevOpsProjectName,
		DevOpsProjectURL:  cs.DevOpsProjectURL,
		CreatedAt:         cs.CreatedAt,
		UpdatedAt:         cs.UpdatedAt,
	}
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "chat engine is not configured")
		return
	}
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
	writeJSON(w, http.StatusCreated, toSessionResponse(s.engine.Session(id)))
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured")
		return
	}
	list, err := s.store.ListChatSessions(r.Context(), 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]sessionResponse, 0, len(list))
	for _, cs := range list {
		out = append(out, toSessionResponse(*cs))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "chat engine is not configured")
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s.engine.Session(r.PathValue("id"))))
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no store configured")
		return
	}
	list, err := s.store.ListChatMessages(r.Context(), r.PathValue("id"), 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type postMessageRequest struct {
	Text string `json:"text"`
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "chat engine is not configured")
		return
	}
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	replies, err := s.engine.HandleMessage(r.Context(), r.PathValue("id"), req.Text)
	if err != nil {
		s.logger.Error("handle message", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"replies": replies})
}

type postActionRequest struct {
	Name    string `json:"name"`
	Payload string `json:"payload"`
}

func (s *Server) postAction(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "chat engine is not configured")
		return
	}
	var req postActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	replies, err := s.engine.HandleAction(r.Context(), r.PathValue("id"), req.Name, req.Payload)
	if err != nil {
		s.logger.Error("handle action", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"replies": replies})
}

// SelfResearchURL builds the research endpoint URL for a server listening on
// the given address.
func SelfResearchURL(addr string) string {
	host := addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	return "http://" + host + "/api/v1/research"
}
