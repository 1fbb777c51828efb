// Package agents provides read-only lookup of agent profiles per project
package agents

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaenox/agent-router/internal/models"
)

var ErrProfileNotFound = errors.New("agent profile not found")

type Store interface {
	ListProfiles(ctx context.Context, projectID string) ([]models.AgentProfile, error)
	GetProfile(ctx context.Context, projectID, id string) (models.AgentProfile, error)
}

// ToolValidator rejects unknown tool names
type ToolValidator interface {
	Validate(names []string) error
}

// MemoryStore serves profiles loaded once at startup. It is never written
// after construction, so readers need no locking.
type MemoryStore struct {
	byProject map[string][]models.AgentProfile
}

func NewMemoryStore(profiles []models.AgentProfile, validator ToolValidator) (*MemoryStore, error) {
	s := &MemoryStore{byProject: make(map[string][]models.AgentProfile)}
	ids := make(map[string]bool, len(profiles))
	keys := make(map[string]string)

	for _, p := range profiles {
		if p.ID == "" || p.Name == "" || p.ProjectID == "" {
			return nil, fmt.Errorf("agent profile %q: id, name and project_id are required", p.ID)
		}
		if !p.Kind.Valid() {
			return nil, fmt.Errorf("agent profile %q: unknown kind %q", p.ID, p.Kind)
		}
		if ids[p.ID] {
			return nil, fmt.Errorf("agent profile %q: duplicate id", p.ID)
		}
		ids[p.ID] = true

		scoped := p.ProjectID + "/" + p.RoutingKey()
		if other, exists := keys[scoped]; exists {
			return nil, fmt.Errorf("agent profile %q: routing key %q already used by %q", p.ID, p.RoutingKey(), other)
		}
		keys[scoped] = p.ID

		if validator != nil {
			if err := validator.Validate(p.Tools); err != nil {
				return nil, fmt.Errorf("agent profile %q: %w", p.ID, err)
			}
		}
		s.byProject[p.ProjectID] = append(s.byProject[p.ProjectID], p)
	}
	return s, nil
}

func (s *MemoryStore) ListProfiles(ctx context.Context, projectID string) ([]models.AgentProfile, error) {
	profiles := s.byProject[projectID]
	return append([]models.AgentProfile(nil), profiles...), nil
}

func (s *MemoryStore) GetProfile(ctx context.Context, projectID, id string) (models.AgentProfile, error) {
	for _, p := range s.byProject[projectID] {
		if p.ID == id {
			return p, nil
		}
	}
	return models.AgentProfile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, id)
}
