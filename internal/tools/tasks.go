package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xaenox/agent-router/internal/models"
	"github.com/xaenox/agent-router/internal/storage"
)

type createTaskArgs struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type createTaskHandler struct {
	tasks storage.TaskStore
}

func (h *createTaskHandler) Definition() Definition {
	return Definition{
		Name:        CreateTask,
		Description: "Create a new task in the current project.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title":       map[string]any{"type": "string", "description": "Short task title"},
				"description": map[string]any{"type": "string", "description": "Optional details"},
			},
			"required": []string{"title"},
		},
	}
}

// Handle inserts a new task. It never updates an existing one.
func (h *createTaskHandler) Handle(ctx context.Context, call Call) (string, error) {
	var args createTaskArgs
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	args.Title = strings.TrimSpace(args.Title)
	if args.Title == "" {
		return "", fmt.Errorf("%w: title is required", ErrInvalidArguments)
	}
	if call.ProjectID == "" {
		return "", fmt.Errorf("%w: project is required", ErrInvalidArguments)
	}

	task := &models.Task{
		ProjectID:   call.ProjectID,
		Title:       args.Title,
		Description: strings.TrimSpace(args.Description),
		Status:      models.TaskTodo,
	}
	if err := h.tasks.CreateTask(ctx, task); err != nil {
		return "", err
	}

	return fmt.Sprintf("Task %q created (id %s).", task.Title, task.ID), nil
}

type listTasksHandler struct {
	tasks storage.TaskStore
}

func (h *listTasksHandler) Definition() Definition {
	return Definition{
		Name:        ListTasks,
		Description: "List the tasks of the current project.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

func (h *listTasksHandler) Handle(ctx context.Context, call Call) (string, error) {
	tasks, err := h.tasks.ListTasks(ctx, call.ProjectID)
	if err != nil {
		return "", err
	}
	if len(tasks) == 0 {
		return "The project has no tasks yet.", nil
	}

	var b strings.Builder
	for _, t := range tasks {
		fmt.Fprintf(&b, "- [%s] %s (id %s)\n", t.Status, t.Title, t.ID)
	}
	return b.String(), nil
}
