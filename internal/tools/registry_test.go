package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/agent-router/internal/storage"
	"go.uber.org/zap"
)

func TestRegistry_Validate(t *testing.T) {
	r := NewRegistry(storage.NewMemoryStorage(), zap.NewNop())

	assert.NoError(t, r.Validate([]string{"create_task", "list_tasks"}))
	assert.NoError(t, r.Validate(nil))

	err := r.Validate([]string{"create_task", "UpdateTask"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.Contains(t, err.Error(), "UpdateTask")

	assert.Equal(t, []Name{CreateTask, ListTasks}, r.Names())
}

func TestToolset_CreateTaskInsertsNewTask(t *testing.T) {
	store := storage.NewMemoryStorage()
	r := NewRegistry(store, zap.NewNop())
	ctx := context.Background()

	ts, err := r.Toolset("p1", []string{"create_task", "create_task"})
	require.NoError(t, err)
	require.Len(t, ts.Definitions(), 1)

	out, err := ts.Execute(ctx, "create_task", `{"title":"  Write ADR  ","description":"storage choice"}`)
	require.NoError(t, err)
	assert.Contains(t, out, `"Write ADR"`)

	tasks, err := store.ListTasks(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Write ADR", tasks[0].Title)
	assert.Equal(t, "storage choice", tasks[0].Description)
	assert.EqualValues(t, 1, ts.Executed())

	var none *Toolset
	assert.Zero(t, none.Executed())
}

func TestToolset_CreateTaskValidation(t *testing.T) {
	store := storage.NewMemoryStorage()
	r := NewRegistry(store, zap.NewNop())
	ctx := context.Background()

	ts, err := r.Toolset("p1", []string{"create_task"})
	require.NoError(t, err)

	_, err = ts.Execute(ctx, "create_task", `{"title":"   "}`)
	assert.ErrorIs(t, err, ErrInvalidArguments)

	_, err = ts.Execute(ctx, "create_task", `not json`)
	assert.ErrorIs(t, err, ErrInvalidArguments)

	noProject, err := r.Toolset("", []string{"create_task"})
	require.NoError(t, err)
	_, err = noProject.Execute(ctx, "create_task", `{"title":"x"}`)
	assert.ErrorIs(t, err, ErrInvalidArguments)

	tasks, err := store.ListTasks(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestToolset_RejectsToolsOutsideSet(t *testing.T) {
	r := NewRegistry(storage.NewMemoryStorage(), zap.NewNop())

	ts, err := r.Toolset("p1", []string{"list_tasks"})
	require.NoError(t, err)

	_, err = ts.Execute(context.Background(), "create_task", `{"title":"x"}`)
	assert.ErrorIs(t, err, ErrUnknownTool)

	out, err := ts.Execute(context.Background(), "list_tasks", `{}`)
	require.NoError(t, err)
	assert.Equal(t, "The project has no tasks yet.", out)
}
