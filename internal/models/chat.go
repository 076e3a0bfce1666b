package models

import "time"

// Stage describes how far a chat session has progressed through the
// specification workflow. It is derived from the session fields rather than
// stored, so it can never disagree with them.
type Stage string

const (
	StageEmpty        Stage = "empty"
	StageHasSpec      Stage = "has_spec"
	StageHasSpecPlan  Stage = "has_spec_and_plan"
	StageReviewed     Stage = "reviewed"
	StageApproved     Stage = "approved"
	StageDevOpsLinked Stage = "devops_linked"
)

// ChatSession is the mutable project record for one specification
// conversation. All artifact fields hold the raw agent JSON; renderers parse
// them on demand.
type ChatSession struct {
	ID                string
	Idea              string
	FunctionalSpec    string
	TestPlan          string
	ReviewFeedback    string
	IsApproved        bool
	DevOpsProjectName string
	DevOpsProjectURL  string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Reset clears all project fields in place. Called when a new project idea
// arrives after a prior approval, so the same conversation can cycle through
// multiple projects.
func (s *ChatSession) Reset() {
	s.Idea = ""
	s.FunctionalSpec = ""
	s.TestPlan = ""
	s.ReviewFeedback = ""
	s.IsApproved = false
	s.DevOpsProjectName = ""
	s.DevOpsProjectURL = ""
}

// Stage derives the workflow stage from the session fields.
func (s *ChatSession) Stage() Stage {
	switch {
	case s.DevOpsProjectName != "":
		return StageDevOpsLinked
	case s.IsApproved:
		return StageApproved
	case s.ReviewFeedback != "":
		return StageReviewed
	case s.FunctionalSpec != "" && s.TestPlan != "":
		return StageHasSpecPlan
	case s.FunctionalSpec != "":
		return StageHasSpec
	default:
		return StageEmpty
	}
}

// ChatMessage is one persisted turn of a session's conversation, either the
// user's text or an agent reply.
type ChatMessage struct {
	ID        string
	SessionID string
	Author    string
	Text      string
	CreatedAt time.Time
}

// Action is a discrete next step offered to the user alongside a reply.
type Action struct {
	Name    string `json:"name"`
	Label   string `json:"label"`
	Payload string `json:"payload,omitempty"`
}

// Attachment is a file attached to a reply, e.g. the test plan CSV export.
type Attachment struct {
	Name    string `json:"name"`
	Content []byte `json:"content"`
}

// Reply is one system response in the chat surface: markdown text attributed
// to an agent, plus optional action buttons and attachments.
type Reply struct {
	Author     string       `json:"author"`
	Text       string       `json:"text"`
	Actions    []Action    `json:"actions,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}
