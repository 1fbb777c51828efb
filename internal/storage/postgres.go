package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/xaenox/agent-router/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db, logger: logger}

	if err := storage.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	logger.Info("PostgreSQL storage ready",
		zap.String("host", config.Host),
		zap.String("dbname", config.DBName))

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	return nil
}

func (s *PostgresStorage) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO conversations (id, project_id, user_id, title, linked_task_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.ProjectID,
		conv.UserID,
		conv.Title,
		nullString(conv.LinkedTaskID),
		conv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: error creating conversation: %w", ErrPersistenceFailed, err)
	}
	return nil
}

func (s *PostgresStorage) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	query := `
		SELECT id, project_id, user_id, title, linked_task_id, created_at
		FROM conversations
		WHERE id = $1`

	conv := &models.Conversation{}
	var linkedTask sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID,
		&conv.ProjectID,
		&conv.UserID,
		&conv.Title,
		&linkedTask,
		&conv.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("error querying conversation: %w", err)
	}
	if linkedTask.Valid {
		conv.LinkedTaskID = &linkedTask.String
	}
	return conv, nil
}

func (s *PostgresStorage) UpdateConversationTitle(ctx context.Context, id, title string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE conversations SET title = $1 WHERE id = $2`, title, id)
	if err != nil {
		return fmt.Errorf("%w: error updating conversation title: %w", ErrPersistenceFailed, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return nil
}

// AppendMessage writes the message with a single INSERT, so a failure leaves
// nothing behind.
func (s *PostgresStorage) AppendMessage(ctx context.Context, conversationID string, msg *models.Message) (*models.Message, error) {
	stored := *msg
	stored.ConversationID = conversationID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	if stored.ID == "" {
		stored.ID = models.NewMessageID(stored.CreatedAt)
	}

	attachments := stored.Attachments
	if attachments == nil {
		attachments = []models.Attachment{}
	}
	attachmentsJSON, err := json.Marshal(attachments)
	if err != nil {
		return nil, fmt.Errorf("%w: error encoding attachments: %w", ErrPersistenceFailed, err)
	}
	var usageJSON []byte
	if stored.Usage != nil {
		if usageJSON, err = json.Marshal(stored.Usage); err != nil {
			return nil, fmt.Errorf("%w: error encoding usage: %w", ErrPersistenceFailed, err)
		}
	}

	query := `
		INSERT INTO messages (id, conversation_id, role, agent_id, author_label, content,
			attachments, tool_calls, tool_results, usage, flags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = s.db.ExecContext(ctx, query,
		stored.ID,
		conversationID,
		stored.Role,
		nullString(stored.AgentID),
		stored.AuthorLabel,
		stored.Content,
		string(attachmentsJSON),
		nullJSON(stored.ToolCalls),
		nullJSON(stored.ToolResults),
		nullJSON(usageJSON),
		pq.Array(stored.Flags),
		stored.CreatedAt,
	)
	if err != nil {
		s.logger.Error("Failed to append message",
			zap.Error(err),
			zap.String("conversation_id", conversationID),
			zap.String("message_id", stored.ID))
		return nil, fmt.Errorf("%w: error inserting message: %w", ErrPersistenceFailed, err)
	}

	return &stored, nil
}

func (s *PostgresStorage) ListMessages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	query := `
		SELECT id, conversation_id, role, agent_id, author_label, content,
			attachments, tool_calls, tool_results, usage, flags, created_at, deleted_at
		FROM (
			SELECT * FROM messages
			WHERE conversation_id = $1 AND deleted_at IS NULL
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at, id`

	lim := sql.NullInt64{Int64: int64(limit), Valid: limit > 0}
	rows, err := s.db.QueryContext(ctx, query, conversationID, lim)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

func (s *PostgresStorage) SoftDeleteMessage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("%w: error deleting message: %w", ErrPersistenceFailed, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStorage) CreateTask(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	query := `
		INSERT INTO tasks (id, project_id, title, description, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	err := s.db.QueryRowContext(ctx, query,
		task.ID,
		task.ProjectID,
		task.Title,
		task.Description,
		task.Status,
	).Scan(&task.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: error creating task: %w", ErrPersistenceFailed, err)
	}
	return nil
}

func (s *PostgresStorage) ListTasks(ctx context.Context, projectID string) ([]*models.Task, error) {
	query := `
		SELECT id, project_id, title, description, status, created_at
		FROM tasks
		WHERE project_id = $1
		ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("error querying tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task := &models.Task{}
		if err := rows.Scan(
			&task.ID,
			&task.ProjectID,
			&task.Title,
			&task.Description,
			&task.Status,
			&task.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

func scanMessage(rows *sql.Rows) (*models.Message, error) {
	m := &models.Message{}
	var (
		agentID     sql.NullString
		attachments []byte
		toolCalls   []byte
		toolResults []byte
		usage       []byte
		deletedAt   sql.NullTime
	)
	err := rows.Scan(
		&m.ID,
		&m.ConversationID,
		&m.Role,
		&agentID,
		&m.AuthorLabel,
		&m.Content,
		&attachments,
		&toolCalls,
		&toolResults,
		&usage,
		pq.Array(&m.Flags),
		&m.CreatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("error scanning message: %w", err)
	}

	if agentID.Valid {
		m.AgentID = &agentID.String
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return nil, fmt.Errorf("error decoding attachments of %s: %w", m.ID, err)
		}
	}
	if len(toolCalls) > 0 {
		m.ToolCalls = json.RawMessage(toolCalls)
	}
	if len(toolResults) > 0 {
		m.ToolResults = json.RawMessage(toolResults)
	}
	if len(usage) > 0 {
		m.Usage = &models.Usage{}
		if err := json.Unmarshal(usage, m.Usage); err != nil {
			return nil, fmt.Errorf("error decoding usage of %s: %w", m.ID, err)
		}
	}
	if deletedAt.Valid {
		m.DeletedAt = &deletedAt.Time
	}
	return m, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullJSON(raw []byte) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
