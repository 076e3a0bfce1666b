package store

import (
	"context"

	"github.com/rodcar/agentic-software-factory/internal/models"
)

// JobListFilter specifies filters for listing jobs.
type JobListFilter struct {
	ProjectName string
	Status      models.JobStatus
	Limit       int
}

// Store defines the persistence interface for the factory.
type Store interface {
	// Chat Sessions
	CreateChatSession(ctx context.Context, s *models.ChatSession) error
	GetChatSession(ctx context.Context, id string) (*models.ChatSession, error)
	ListChatSessions(ctx context.Context, limit int) ([]*models.ChatSession, error)
	UpdateChatSession(ctx context.Context, s *models.ChatSession) error
	DeleteChatSession(ctx context.Context, id string) error

	// Chat Messages
	AppendChatMessage(ctx context.Context, m *models.ChatMessage) error
	ListChatMessages(ctx context.Context, sessionID string, limit int) ([]*models.ChatMessage, error)

	// Jobs
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobListFilter) ([]*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
