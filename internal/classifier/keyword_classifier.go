package classifier

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/xaenox/agent-router/internal/models"
)

// KeywordClassifier scores agents from a fixed keyword table. It needs no
// model and is deterministic, which makes it the offline backend.
type KeywordClassifier struct {
	policy Policy
}

func NewKeywordClassifier(policy Policy) *KeywordClassifier {
	return &KeywordClassifier{policy: policy}
}

func (c *KeywordClassifier) Classify(ctx context.Context, message string, agents []models.AgentProfile, hint Hint) (*Result, error) {
	text := strings.ToLower(message)

	raw := Raw{FollowUp: looksLikeFollowUp(message)}
	var matched []string
	for _, a := range agents {
		hits := hitsFor(a, text)
		raw.Candidates = append(raw.Candidates, Scored{Key: a.ID, Confidence: keywordConfidence(a, len(hits))})
		if len(hits) > 0 {
			matched = append(matched, fmt.Sprintf("%s (%s)", a.Name, strings.Join(hits, ", ")))
		}
	}
	if len(matched) > 0 {
		raw.Reasoning = "Matched domain keywords for " + strings.Join(matched, "; ") + "."
	}

	return c.policy.Apply(message, agents, hint, raw)
}

// keywordConfidence: one hit is enough to answer, more hits add certainty.
// Agents without hits keep a low prior, the default agent a slightly higher one.
func keywordConfidence(a models.AgentProfile, hits int) float64 {
	if hits == 0 {
		if a.IsDefault {
			return 0.3
		}
		return 0.1
	}
	return math.Min(0.95, round2(0.7+0.1*float64(hits)))
}
