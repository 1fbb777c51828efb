// Package classifier decides which agents should answer a message. Scorers
// (the language model or a keyword table) only propose raw confidences; the
// Policy turns them into a ClassificationResult with the routing guarantees
// callers rely on.
package classifier

import (
	"context"
	"errors"

	"github.com/xaenox/agent-router/internal/models"
)

// ErrClassificationFailed is returned when the scorer is unreachable or its
// output cannot be used. There is no silent fallback; callers decide.
var ErrClassificationFailed = errors.New("classification failed")

// Hint carries conversation context for the continuity heuristic
type Hint struct {
	PreviousAgentID string
}

type Candidate struct {
	AgentID    string           `json:"agent_id"`
	AgentKind  models.AgentKind `json:"agent_kind"`
	Name       string           `json:"name"`
	Confidence float64          `json:"confidence"`
}

// Result is never empty and holds candidates by descending confidence
type Result struct {
	Candidates []Candidate `json:"candidates"`
	Reasoning  string      `json:"reasoning"`
}

func (r *Result) Top() Candidate {
	return r.Candidates[0]
}

type Classifier interface {
	Classify(ctx context.Context, message string, agents []models.AgentProfile, hint Hint) (*Result, error)
}

type Band string

const (
	BandShould   Band = "should"
	BandCould    Band = "could"
	BandExcluded Band = "excluded"
)

// BandOf maps a confidence to its routing band
func BandOf(confidence float64) Band {
	switch {
	case confidence >= 0.8:
		return BandShould
	case confidence >= 0.5:
		return BandCould
	default:
		return BandExcluded
	}
}
