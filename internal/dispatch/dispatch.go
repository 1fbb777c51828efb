// Package dispatch turns a classification into either an immediate fan-out
// or a request for the human to pick agents.
package dispatch

import (
	"errors"
	"fmt"

	"github.com/xaenox/agent-router/internal/classifier"
	"github.com/xaenox/agent-router/internal/models"
)

// DirectThreshold is the "should respond" band
const DirectThreshold = 0.8

var ErrUnknownAgent = errors.New("unknown agent")

type Kind int

const (
	Direct Kind = iota
	NeedsSelection
)

func (k Kind) String() string {
	if k == Direct {
		return "direct"
	}
	return "needs_selection"
}

// Option is one agent offered to the human when no agent clears the bar
type Option struct {
	AgentID     string  `json:"agent_id"`
	DisplayName string  `json:"display_name"`
	Confidence  float64 `json:"confidence"`
}

type Decision struct {
	Kind Kind
	// Agents is set for Direct decisions, in candidate order
	Agents []models.AgentProfile
	// Options and Reasoning are set for NeedsSelection
	Options   []Option
	Reasoning string
}

type Policy struct{}

func NewPolicy() Policy {
	return Policy{}
}

// Decide dispatches directly to every candidate in the "should respond" band.
// When none qualifies the human has to choose; there is no timeout here.
func (p Policy) Decide(result *classifier.Result, profiles []models.AgentProfile) Decision {
	var direct []models.AgentProfile
	for _, c := range result.Candidates {
		if c.Confidence < DirectThreshold {
			continue
		}
		if a, ok := models.FindAgent(profiles, c.AgentID); ok {
			direct = append(direct, a)
		}
	}
	if len(direct) > 0 {
		return Decision{Kind: Direct, Agents: direct}
	}

	options := make([]Option, 0, len(result.Candidates))
	for _, c := range result.Candidates {
		name := c.Name
		if a, ok := models.FindAgent(profiles, c.AgentID); ok {
			name = a.Name
		}
		options = append(options, Option{AgentID: c.AgentID, DisplayName: name, Confidence: c.Confidence})
	}
	return Decision{Kind: NeedsSelection, Options: options, Reasoning: result.Reasoning}
}

// Manual resolves an explicit agent selection, bypassing classification.
// Duplicates are ignored and the requested order is kept.
func Manual(agentIDs []string, profiles []models.AgentProfile) (Decision, error) {
	if len(agentIDs) == 0 {
		return Decision{}, fmt.Errorf("%w: no agents selected", ErrUnknownAgent)
	}

	seen := make(map[string]bool, len(agentIDs))
	agents := make([]models.AgentProfile, 0, len(agentIDs))
	for _, id := range agentIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		a, ok := models.FindAgent(profiles, id)
		if !ok {
			return Decision{}, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
		}
		agents = append(agents, a)
	}
	return Decision{Kind: Direct, Agents: agents}, nil
}
