package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/agent-router/internal/models"
)

func newConversation(t *testing.T, s *MemoryStorage) *models.Conversation {
	t.Helper()
	conv := &models.Conversation{ProjectID: "p1", UserID: "u1", Title: "hello"}
	require.NoError(t, s.CreateConversation(context.Background(), conv))
	require.NotEmpty(t, conv.ID)
	return conv
}

func TestMemoryStorage_AppendAssignsIDAndOrder(t *testing.T) {
	s := NewMemoryStorage()
	conv := newConversation(t, s)
	ctx := context.Background()

	first, err := s.AppendMessage(ctx, conv.ID, &models.Message{Role: models.RoleUser, Content: "hi"})
	require.NoError(t, err)
	second, err := s.AppendMessage(ctx, conv.ID, &models.Message{Role: models.RoleAssistant, Content: "hello"})
	require.NoError(t, err)

	assert.NotEmpty(t, first.ID)
	assert.Equal(t, conv.ID, first.ConversationID)
	assert.False(t, first.CreatedAt.IsZero())

	msgs, err := s.ListMessages(ctx, conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, first.ID, msgs[0].ID)
	assert.Equal(t, second.ID, msgs[1].ID)
}

func TestMemoryStorage_AppendUnknownConversation(t *testing.T) {
	s := NewMemoryStorage()

	_, err := s.AppendMessage(context.Background(), "missing", &models.Message{Role: models.RoleUser})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistenceFailed)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStorage_AppendCancelledContext(t *testing.T) {
	s := NewMemoryStorage()
	conv := newConversation(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.AppendMessage(ctx, conv.ID, &models.Message{Role: models.RoleUser})
	assert.ErrorIs(t, err, ErrPersistenceFailed)

	msgs, err := s.ListMessages(context.Background(), conv.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMemoryStorage_ConcurrentAppendsSameConversation(t *testing.T) {
	s := NewMemoryStorage()
	conv := newConversation(t, s)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			agent := fmt.Sprintf("agent-%d", i)
			_, err := s.AppendMessage(ctx, conv.ID, &models.Message{
				Role:    models.RoleAssistant,
				AgentID: &agent,
				Content: agent,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs, err := s.ListMessages(ctx, conv.ID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 50)

	seen := map[string]bool{}
	for _, m := range msgs {
		assert.False(t, seen[m.ID], "duplicate id %s", m.ID)
		seen[m.ID] = true
	}
}

func TestMemoryStorage_ListLimitKeepsMostRecent(t *testing.T) {
	s := NewMemoryStorage()
	conv := newConversation(t, s)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := s.AppendMessage(ctx, conv.ID, &models.Message{
			Role:      models.RoleUser,
			Content:   fmt.Sprintf("m%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	msgs, err := s.ListMessages(ctx, conv.ID, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m3", msgs[0].Content)
	assert.Equal(t, "m4", msgs[1].Content)
}

func TestMemoryStorage_SoftDelete(t *testing.T) {
	s := NewMemoryStorage()
	conv := newConversation(t, s)
	ctx := context.Background()

	m, err := s.AppendMessage(ctx, conv.ID, &models.Message{Role: models.RoleUser, Content: "oops"})
	require.NoError(t, err)

	require.NoError(t, s.SoftDeleteMessage(ctx, m.ID))
	assert.ErrorIs(t, s.SoftDeleteMessage(ctx, "nope"), ErrNotFound)

	msgs, err := s.ListMessages(ctx, conv.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMemoryStorage_ConversationTitle(t *testing.T) {
	s := NewMemoryStorage()
	conv := newConversation(t, s)
	ctx := context.Background()

	require.NoError(t, s.UpdateConversationTitle(ctx, conv.ID, "Database choice"))
	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Database choice", got.Title)

	_, err = s.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStorage_Tasks(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, s.CreateTask(ctx, &models.Task{ProjectID: "p1", Title: "Set up CI", Status: models.TaskTodo}))
	require.NoError(t, s.CreateTask(ctx, &models.Task{ProjectID: "p2", Title: "Other", Status: models.TaskTodo}))

	tasks, err := s.ListTasks(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Set up CI", tasks[0].Title)
	assert.NotEmpty(t, tasks[0].ID)
}
