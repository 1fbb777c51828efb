package models

import (
	"strings"
)

type AgentKind string

const (
	KindArchitect AgentKind = "architect"
	KindAnalyst   AgentKind = "analyst"
	KindPM        AgentKind = "pm"
	KindDBA       AgentKind = "dba"
	KindTechnical AgentKind = "technical"
	KindCustom    AgentKind = "custom"
)

func (k AgentKind) Valid() bool {
	switch k {
	case KindArchitect, KindAnalyst, KindPM, KindDBA, KindTechnical, KindCustom:
		return true
	}
	return false
}

// AgentProfile defines one responder available to a project. Profiles are
// read-only while a message is being routed and streamed.
type AgentProfile struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	Kind         AgentKind `json:"kind"`
	Name         string    `json:"name"`
	Instructions string    `json:"instructions"`
	Tools        []string  `json:"tools,omitempty"`
	Model        string    `json:"model,omitempty"`
	IsDefault    bool      `json:"is_default"`
	IsSystem     bool      `json:"is_system"`
}

// RoutingKey is the identifier the classifier uses for this agent. Built-in
// kinds are unique per project, custom agents are told apart by name.
func (a AgentProfile) RoutingKey() string {
	if a.Kind == KindCustom {
		return NormalizeKey(a.Name)
	}
	return string(a.Kind)
}

// NormalizeKey lower-cases s and strips spaces, dashes and underscores so
// "Data Architect", "data-architect" and "@DataArchitect" compare equal.
func NormalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "-", "", "_", "").Replace(s)
}

// FindAgent returns the profile with the given id
func FindAgent(agents []AgentProfile, id string) (AgentProfile, bool) {
	for _, a := range agents {
		if a.ID == id {
			return a, true
		}
	}
	return AgentProfile{}, false
}
