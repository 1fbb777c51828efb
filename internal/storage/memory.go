package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/agent-router/internal/models"
)

type MemoryStorage struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	messages      map[string][]*models.Message // by conversation id
	messageIndex  map[string]*models.Message
	tasks         map[string][]*models.Task // by project id
	now           func() time.Time
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]*models.Message),
		messageIndex:  make(map[string]*models.Message),
		tasks:         make(map[string][]*models.Task),
		now:           time.Now,
	}
}

// Conversation methods
func (s *MemoryStorage) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = s.now()
	}
	if _, exists := s.conversations[conv.ID]; exists {
		return fmt.Errorf("%w: conversation %s already exists", ErrPersistenceFailed, conv.ID)
	}

	stored := *conv
	s.conversations[conv.ID] = &stored
	return nil
}

func (s *MemoryStorage) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, exists := s.conversations[id]
	if !exists {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	out := *conv
	return &out, nil
}

func (s *MemoryStorage) UpdateConversationTitle(ctx context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[id]
	if !exists {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	conv.Title = title
	return nil
}

// Message methods
func (s *MemoryStorage) AppendMessage(ctx context.Context, conversationID string, msg *models.Message) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[conversationID]; !exists {
		return nil, fmt.Errorf("%w: conversation %s: %w", ErrPersistenceFailed, conversationID, ErrNotFound)
	}

	stored := *msg
	stored.ConversationID = conversationID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	if stored.ID == "" {
		stored.ID = models.NewMessageID(stored.CreatedAt)
	}
	if _, exists := s.messageIndex[stored.ID]; exists {
		return nil, fmt.Errorf("%w: duplicate message id %s", ErrPersistenceFailed, stored.ID)
	}

	s.messages[conversationID] = append(s.messages[conversationID], &stored)
	s.messageIndex[stored.ID] = &stored

	out := stored
	return &out, nil
}

func (s *MemoryStorage) ListMessages(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.messages[conversationID]
	visible := make([]*models.Message, 0, len(all))
	for _, m := range all {
		if m.DeletedAt != nil {
			continue
		}
		out := *m
		visible = append(visible, &out)
	}

	sort.SliceStable(visible, func(i, j int) bool {
		if visible[i].CreatedAt.Equal(visible[j].CreatedAt) {
			return visible[i].ID < visible[j].ID
		}
		return visible[i].CreatedAt.Before(visible[j].CreatedAt)
	})

	if limit > 0 && len(visible) > limit {
		visible = visible[len(visible)-limit:]
	}
	return visible, nil
}

func (s *MemoryStorage) SoftDeleteMessage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, exists := s.messageIndex[id]
	if !exists {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if m.DeletedAt == nil {
		now := s.now()
		m.DeletedAt = &now
	}
	return nil
}

// Task methods
func (s *MemoryStorage) CreateTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = s.now()
	}
	stored := *task
	s.tasks[task.ProjectID] = append(s.tasks[task.ProjectID], &stored)
	return nil
}

func (s *MemoryStorage) ListTasks(ctx context.Context, projectID string) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Task, 0, len(s.tasks[projectID]))
	for _, t := range s.tasks[projectID] {
		task := *t
		out = append(out, &task)
	}
	return out, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
