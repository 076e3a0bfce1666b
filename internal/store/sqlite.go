package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rodcar/agentic-software-factory/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single connection
	// serializes all DB access through Go's connection pool, preventing
	// "database is locked" errors from concurrent HTTP requests.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Chat Sessions ---

func (s *SQLiteStore) CreateChatSession(ctx context.Context, cs *models.ChatSession) error {
	if cs.ID == "" {
		cs.ID = newULID()
	}
	now := time.Now().UTC()
	cs.CreatedAt = now
	cs.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, idea, functional_spec, test_plan, review_feedback, is_approved, devops_project_name, devops_project_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cs.ID, cs.Idea, cs.FunctionalSpec, cs.TestPlan, cs.ReviewFeedback,
		boolToInt(cs.IsApproved), cs.DevOpsProjectName, cs.DevOpsProjectURL, cs.CreatedAt, cs.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create chat session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetChatSession(ctx context.Context, id string) (*models.ChatSession, error) {
	cs := &models.ChatSession{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, idea, functional_spec, test_plan, review_feedback, is_approved, devops_project_name, devops_project_url, created_at, updated_at
		FROM chat_sessions WHERE id = ?`, id,
	).Scan(&cs.ID, &cs.Idea, &cs.FunctionalSpec, &cs.TestPlan, &cs.ReviewFeedback, &cs.IsApproved, &cs.DevOpsProjectName, &cs.DevOpsProjectURL, &cs.CreatedAt, &cs.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chat session not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get chat session: %w", err)
	}
	return cs, nil
}

func (s *SQLiteStore) ListChatSessions(ctx context.Context, limit int) ([]*models.ChatSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, idea, functional_spec, test_plan, review_feedback, is_approved, devops_project_name, devops_project_url, created_at, updated_at
		FROM chat_sessions ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.ChatSession
	for rows.Next() {
		cs := &models.ChatSession{}
		if err := rows.Scan(&cs.ID, &cs.Idea, &cs.FunctionalSpec, &cs.TestPlan, &cs.ReviewFeedback, &cs.IsApproved, &cs.DevOpsProjectName, &cs.DevOpsProjectURL, &cs.CreatedAt, &cs.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat session: %w", err)
		}
		sessions = append(sessions, cs)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) UpdateChatSession(ctx context.Context, cs *models.ChatSession) error {
	cs.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET idea=?, functional_spec=?, test_plan=?, review_feedback=?, is_approved=?, devops_project_name=?, devops_project_url=?, updated_at=?
		WHERE id=?`,
		cs.Idea, cs.FunctionalSpec, cs.TestPlan, cs.ReviewFeedback,
		boolToInt(cs.IsApproved), cs.DevOpsProjectName, cs.DevOpsProjectURL, cs.UpdatedAt, cs.ID,
	)
	if err != nil {
		return fmt.Errorf("update chat session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("chat session not found: %s", cs.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteChatSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM chat_sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete chat session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("chat session not found: %s", id)
	}
	return nil
}

// --- Chat Messages ---

func (s *SQLiteStore) AppendChatMessage(ctx context.Context, m *models.ChatMessage) error {
	if m.ID == "" {
		m.ID = newULID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, session_id, author, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Author, m.Text, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append chat message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListChatMessages(ctx context.Context, sessionID string, limit int) ([]*models.ChatMessage, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, author, text, created_at
		FROM chat_messages WHERE session_id = ? ORDER BY created_at, id LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*models.ChatMessage
	for rows.Next() {
		m := &models.ChatMessage{}
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Author, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// --- Jobs ---

func (s *SQLiteStore) CreateJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = newULID()
	}
	if job.StartedAt.IsZero() {
		job.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, project_name, type, code_agent, container, status, exit_code, message, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.ProjectName, job.Type, job.CodeAgent, job.Container,
		job.Status, job.ExitCode, job.Message, job.StartedAt, job.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job := &models.Job{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_name, type, code_agent, container, status, exit_code, message, started_at, ended_at
		FROM jobs WHERE id = ?`, id,
	).Scan(&job.ID, &job.ProjectName, &job.Type, &job.CodeAgent, &job.Container, &job.Status, &job.ExitCode, &job.Message, &job.StartedAt, &job.EndedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobListFilter) ([]*models.Job, error) {
	query := `SELECT id, project_name, type, code_agent, container, status, exit_code, message, started_at, ended_at FROM jobs`
	var conditions []string
	var args []any
	if filter.ProjectName != "" {
		conditions = append(conditions, "project_name = ?")
		args = append(args, filter.ProjectName)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY started_at DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var list []*models.Job
	for rows.Next() {
		job := &models.Job{}
		if err := rows.Scan(&job.ID, &job.ProjectName, &job.Type, &job.CodeAgent, &job.Container, &job.Status, &job.ExitCode, &job.Message, &job.StartedAt, &job.EndedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		list = append(list, job)
	}
	return list, rows.Err()
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *models.Job) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET project_name=?, type=?, code_agent=?, container=?, status=?, exit_code=?, message=?, started_at=?, ended_at=?
		WHERE id=?`,
		job.ProjectName, job.Type, job.CodeAgent, job.Container, job.Status,
		job.ExitCode, job.Message, job.StartedAt, job.EndedAt, job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("job not found: %s", job.ID)
	}
	return nil
}
