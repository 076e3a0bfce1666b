package models

import "time"

// JobType selects the prompt a code job container runs with.
type JobType string

const (
	JobTypeImplementation JobType = "implementation"
	JobTypeFix            JobType = "fix"
)

// JobStatus represents the state of a container code job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusTimeout   JobStatus = "timeout"
	JobStatusFailed    JobStatus = "failed"
)

// CodeAgent identifies which coding agent image a job runs.
type CodeAgent string

const (
	CodeAgentClaude CodeAgent = "claude-code"
	CodeAgentCodex  CodeAgent = "codex"
)

// Job records one containerized code-generation run.
type Job struct {
	ID          string
	ProjectName string
	Type        JobType
	CodeAgent   CodeAgent
	Container   string // container group name
	Status      JobStatus
	ExitCode    int
	Message     string
	StartedAt   time.Time
	EndedAt     *time.Time
}
