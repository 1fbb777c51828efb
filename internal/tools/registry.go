// Package tools holds the fixed set of capabilities agents may call. Every
// tool is registered when the registry is built, so profiles naming an
// unknown tool are rejected while configuration loads rather than mid-call.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/xaenox/agent-router/internal/storage"
	"go.uber.org/zap"
)

type Name string

const (
	CreateTask Name = "create_task"
	ListTasks  Name = "list_tasks"
)

var (
	ErrUnknownTool      = errors.New("unknown tool")
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// Definition describes a tool to the model. Parameters is a JSON Schema object.
type Definition struct {
	Name        Name           `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Call is one invocation requested by the model
type Call struct {
	ProjectID string
	Arguments json.RawMessage
}

type Handler interface {
	Definition() Definition
	Handle(ctx context.Context, call Call) (string, error)
}

type Registry struct {
	handlers map[Name]Handler
	logger   *zap.Logger
}

func NewRegistry(tasks storage.TaskStore, logger *zap.Logger) *Registry {
	r := &Registry{
		handlers: make(map[Name]Handler),
		logger:   logger,
	}
	r.register(&createTaskHandler{tasks: tasks})
	r.register(&listTasksHandler{tasks: tasks})
	return r
}

func (r *Registry) register(h Handler) {
	r.handlers[h.Definition().Name] = h
}

// Names returns every registered tool, sorted
func (r *Registry) Names() []Name {
	names := make([]Name, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Validate fails on the first name that is not registered
func (r *Registry) Validate(names []string) error {
	for _, n := range names {
		if _, ok := r.handlers[Name(n)]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownTool, n)
		}
	}
	return nil
}

// Toolset binds the named tools to one project for a single agent response
func (r *Registry) Toolset(projectID string, names []string) (*Toolset, error) {
	if err := r.Validate(names); err != nil {
		return nil, err
	}
	handlers := make([]Handler, 0, len(names))
	seen := make(map[Name]bool, len(names))
	for _, n := range names {
		if seen[Name(n)] {
			continue
		}
		seen[Name(n)] = true
		handlers = append(handlers, r.handlers[Name(n)])
	}
	return &Toolset{projectID: projectID, handlers: handlers, logger: r.logger}, nil
}

// Toolset is the resolved, ordered tool list of one agent
type Toolset struct {
	projectID string
	handlers  []Handler
	executed  atomic.Int64
	logger    *zap.Logger
}

func (t *Toolset) Empty() bool {
	return t == nil || len(t.handlers) == 0
}

func (t *Toolset) Definitions() []Definition {
	defs := make([]Definition, 0, len(t.handlers))
	for _, h := range t.handlers {
		defs = append(defs, h.Definition())
	}
	return defs
}

// Executed reports how many tool handlers have run through this set
func (t *Toolset) Executed() int64 {
	if t == nil {
		return 0
	}
	return t.executed.Load()
}

// Execute runs the named tool. Tools not in the set are unknown even when the
// registry has them.
func (t *Toolset) Execute(ctx context.Context, name string, arguments string) (string, error) {
	for _, h := range t.handlers {
		if h.Definition().Name != Name(name) {
			continue
		}
		t.executed.Add(1)
		out, err := h.Handle(ctx, Call{ProjectID: t.projectID, Arguments: json.RawMessage(arguments)})
		if err != nil {
			t.logger.Warn("Tool call failed",
				zap.String("tool", name),
				zap.String("project_id", t.projectID),
				zap.Error(err))
			return "", err
		}
		return out, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTool, name)
}
