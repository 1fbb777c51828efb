package classifier

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/xaenox/agent-router/internal/models"
)

// PolicyConfig holds the routing thresholds. ContinuityBoost is the only
// value meant to be tuned; the rest mirror the confidence bands.
type PolicyConfig struct {
	MentionFloor     float64
	ContinuityBoost  float64
	FollowUpMaxWords int
	ExcludeBelow     float64
	AmbiguousMin     float64
	AmbiguousMax     float64
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MentionFloor:     0.85,
		ContinuityBoost:  0.20,
		FollowUpMaxWords: 8,
		ExcludeBelow:     0.5,
		AmbiguousMin:     0.55,
		AmbiguousMax:     0.70,
	}
}

type Policy struct {
	cfg PolicyConfig
}

func NewPolicy(cfg PolicyConfig) Policy {
	return Policy{cfg: cfg}
}

// Scored is a raw scorer proposal. Key is a routing key, agent name or id.
type Scored struct {
	Key        string
	Confidence float64
}

// Raw is what a scorer produced before the policy is applied
type Raw struct {
	Candidates []Scored
	Reasoning  string
	FollowUp   bool
}

var mentionPattern = regexp.MustCompile(`@([\p{L}\p{N}_\-]+)`)

type scoredAgent struct {
	agent      models.AgentProfile
	confidence float64
	order      int
}

// Apply enforces the routing contract on a raw proposal: confidences in
// [0,1], mentioned agents at or above MentionFloor, the continuity boost for
// short follow-ups, low-confidence candidates dropped, and a single
// best-guess candidate when nothing clears the bar.
func (p Policy) Apply(message string, agents []models.AgentProfile, hint Hint, raw Raw) (*Result, error) {
	if len(agents) == 0 {
		return nil, fmt.Errorf("%w: no agents available", ErrClassificationFailed)
	}

	scored := make(map[string]*scoredAgent)
	var order []string
	add := func(a models.AgentProfile, conf float64) {
		conf = clamp(conf, 0, 1)
		if s, ok := scored[a.ID]; ok {
			s.confidence = math.Max(s.confidence, conf)
			return
		}
		scored[a.ID] = &scoredAgent{agent: a, confidence: conf, order: len(order)}
		order = append(order, a.ID)
	}

	for _, c := range raw.Candidates {
		if a, ok := resolve(agents, c.Key); ok {
			add(a, c.Confidence)
		}
	}

	mentioned := p.mentions(message, agents)
	if len(scored) == 0 && len(mentioned) == 0 {
		return nil, fmt.Errorf("%w: no candidate matches an available agent", ErrClassificationFailed)
	}

	for _, a := range mentioned {
		add(a, p.cfg.MentionFloor)
	}

	if len(mentioned) == 0 && hint.PreviousAgentID != "" {
		if s, ok := scored[hint.PreviousAgentID]; ok && p.isFollowUp(message, raw.FollowUp, s.agent) {
			s.confidence = round2(math.Min(1, s.confidence+p.cfg.ContinuityBoost))
		}
	}

	kept := make([]*scoredAgent, 0, len(scored))
	for _, id := range order {
		if s := scored[id]; s.confidence >= p.cfg.ExcludeBelow {
			kept = append(kept, s)
		}
	}

	reasoning := strings.TrimSpace(raw.Reasoning)
	if len(kept) == 0 {
		best := p.bestGuess(order, scored)
		best.confidence = clamp(best.confidence, p.cfg.AmbiguousMin, p.cfg.AmbiguousMax)
		kept = []*scoredAgent{best}
		reasoning = firstSentence(reasoning)
		if reasoning == "" {
			reasoning = fmt.Sprintf("No strong domain signal; %s is the closest match.", best.agent.Name)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].confidence > kept[j].confidence
	})

	result := &Result{Reasoning: reasoning}
	for _, s := range kept {
		result.Candidates = append(result.Candidates, Candidate{
			AgentID:    s.agent.ID,
			AgentKind:  s.agent.Kind,
			Name:       s.agent.Name,
			Confidence: s.confidence,
		})
	}
	return result, nil
}

func (p Policy) mentions(message string, agents []models.AgentProfile) []models.AgentProfile {
	var out []models.AgentProfile
	seen := make(map[string]bool)
	for _, m := range mentionPattern.FindAllStringSubmatch(message, -1) {
		a, ok := resolve(agents, m[1])
		if !ok || seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		out = append(out, a)
	}
	return out
}

// isFollowUp: short, phrased as a continuation and without keywords that
// belong to another agent's domain
func (p Policy) isFollowUp(message string, modelSaysFollowUp bool, previous models.AgentProfile) bool {
	if len(strings.Fields(message)) > p.cfg.FollowUpMaxWords {
		return false
	}
	if !modelSaysFollowUp && !looksLikeFollowUp(message) {
		return false
	}
	text := strings.ToLower(message)
	for kind := range domainKeywords {
		if kind == previous.Kind {
			continue
		}
		if len(keywordHits(kind, text)) > 0 {
			return false
		}
	}
	return true
}

func (p Policy) bestGuess(order []string, scored map[string]*scoredAgent) *scoredAgent {
	var best *scoredAgent
	for _, id := range order {
		s := scored[id]
		switch {
		case best == nil:
			best = s
		case s.confidence > best.confidence:
			best = s
		case s.confidence == best.confidence && s.agent.IsDefault && !best.agent.IsDefault:
			best = s
		}
	}
	return best
}

// resolve finds the agent a scorer or a mention refers to
func resolve(agents []models.AgentProfile, key string) (models.AgentProfile, bool) {
	norm := models.NormalizeKey(key)
	if norm == "" {
		return models.AgentProfile{}, false
	}
	for _, a := range agents {
		if a.ID == key || models.NormalizeKey(a.RoutingKey()) == norm || models.NormalizeKey(a.Name) == norm {
			return a, true
		}
	}
	return models.AgentProfile{}, false
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func firstSentence(s string) string {
	if i := strings.IndexAny(s, ".!?"); i >= 0 {
		return strings.TrimSpace(s[:i+1])
	}
	return strings.TrimSpace(s)
}
