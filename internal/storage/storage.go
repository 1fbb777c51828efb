package storage

import (
	"context"
	"errors"

	"github.com/xaenox/agent-router/internal/models"
)

var (
	// ErrNotFound is returned when a conversation or message does not exist
	ErrNotFound = errors.New("not found")
	// ErrPersistenceFailed wraps every failed write. A failed append means a
	// finalized response was not stored and must be surfaced to the caller.
	ErrPersistenceFailed = errors.New("persistence failed")
)

type Storage interface {
	ConversationStore
	MessageStore
	TaskStore
	Close() error
}

type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	UpdateConversationTitle(ctx context.Context, id, title string) error
}

// MessageStore persists conversation messages.
//
// AppendMessage is atomic per call and safe for concurrent callers, including
// several agents of the same conversation finalizing at once. It assigns the
// id and creation time when they are empty and returns the stored message.
//
// ListMessages returns messages in creation order, skipping soft-deleted
// ones. With limit > 0 only the most recent limit messages are returned.
type MessageStore interface {
	AppendMessage(ctx context.Context, conversationID string, msg *models.Message) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error)
	SoftDeleteMessage(ctx context.Context, id string) error
}

type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
	ListTasks(ctx context.Context, projectID string) ([]*models.Task, error)
}
