package classifier

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/agent-router/internal/models"
)

func testAgents() []models.AgentProfile {
	return []models.AgentProfile{
		{ID: "arch", ProjectID: "p", Kind: models.KindArchitect, Name: "Architect"},
		{ID: "dba", ProjectID: "p", Kind: models.KindDBA, Name: "DBA"},
		{ID: "pm", ProjectID: "p", Kind: models.KindPM, Name: "Project Manager", IsDefault: true},
		{ID: "sec", ProjectID: "p", Kind: models.KindCustom, Name: "Security Reviewer"},
	}
}

func confidenceOf(r *Result, agentID string) (float64, bool) {
	for _, c := range r.Candidates {
		if c.AgentID == agentID {
			return c.Confidence, true
		}
	}
	return 0, false
}

func TestPolicy_ClampsDropsAndSorts(t *testing.T) {
	p := NewPolicy(DefaultPolicyConfig())

	r, err := p.Apply("design the schema", testAgents(), Hint{}, Raw{
		Candidates: []Scored{
			{Key: "architect", Confidence: 0.7},
			{Key: "dba", Confidence: 1.4},
			{Key: "pm", Confidence: 0.2},
			{Key: "unknown", Confidence: 0.99},
			{Key: "architect", Confidence: 0.75},
		},
		Reasoning: "Schema design.",
	})
	require.NoError(t, err)
	require.Len(t, r.Candidates, 2)

	assert.Equal(t, "dba", r.Candidates[0].AgentID)
	assert.Equal(t, 1.0, r.Candidates[0].Confidence)
	assert.Equal(t, "arch", r.Candidates[1].AgentID)
	assert.Equal(t, 0.75, r.Candidates[1].Confidence)
	assert.Equal(t, "Schema design.", r.Reasoning)
}

func TestPolicy_ExplicitMentionFloor(t *testing.T) {
	p := NewPolicy(DefaultPolicyConfig())

	r, err := p.Apply("@security-reviewer is this login flow safe?", testAgents(), Hint{}, Raw{
		Candidates: []Scored{{Key: "architect", Confidence: 0.9}},
	})
	require.NoError(t, err)

	conf, ok := confidenceOf(r, "sec")
	require.True(t, ok, "mentioned agent must be a candidate")
	assert.GreaterOrEqual(t, conf, 0.85)

	conf, _ = confidenceOf(r, "arch")
	assert.Equal(t, 0.9, conf)
}

func TestPolicy_MentionKeepsHigherScore(t *testing.T) {
	p := NewPolicy(DefaultPolicyConfig())

	r, err := p.Apply("@dba indexes?", testAgents(), Hint{}, Raw{
		Candidates: []Scored{{Key: "dba", Confidence: 0.95}},
	})
	require.NoError(t, err)
	conf, _ := confidenceOf(r, "dba")
	assert.Equal(t, 0.95, conf)
}

func TestPolicy_MentionOverridesContinuity(t *testing.T) {
	p := NewPolicy(DefaultPolicyConfig())

	r, err := p.Apply("@dba continue", testAgents(), Hint{PreviousAgentID: "arch"}, Raw{
		Candidates: []Scored{{Key: "architect", Confidence: 0.6}},
		FollowUp:   true,
	})
	require.NoError(t, err)

	conf, _ := confidenceOf(r, "arch")
	assert.Equal(t, 0.6, conf, "no continuity boost when an agent is mentioned")
	conf, _ = confidenceOf(r, "dba")
	assert.GreaterOrEqual(t, conf, 0.85)
}

func TestPolicy_ContinuityBoost(t *testing.T) {
	p := NewPolicy(DefaultPolicyConfig())

	r, err := p.Apply("continue", testAgents(), Hint{PreviousAgentID: "arch"}, Raw{
		Candidates: []Scored{{Key: "architect", Confidence: 0.6}},
	})
	require.NoError(t, err)

	conf, _ := confidenceOf(r, "arch")
	assert.GreaterOrEqual(t, conf, 0.75)
	assert.Equal(t, 0.8, conf)
}

func TestPolicy_ContinuityBoostCappedAtOne(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.ContinuityBoost = 0.25
	p := NewPolicy(cfg)

	r, err := p.Apply("ok, go on", testAgents(), Hint{PreviousAgentID: "arch"}, Raw{
		Candidates: []Scored{{Key: "architect", Confidence: 0.9}},
	})
	require.NoError(t, err)
	conf, _ := confidenceOf(r, "arch")
	assert.Equal(t, 1.0, conf)
}

func TestPolicy_NoBoostForNewTopicOrLongMessage(t *testing.T) {
	p := NewPolicy(DefaultPolicyConfig())
	raw := Raw{Candidates: []Scored{{Key: "architect", Confidence: 0.6}}}

	r, err := p.Apply("what about the database index?", testAgents(), Hint{PreviousAgentID: "arch"}, raw)
	require.NoError(t, err)
	conf, _ := confidenceOf(r, "arch")
	assert.Equal(t, 0.6, conf, "dba keywords introduce a new topic")

	r, err = p.Apply("continue but this time walk me through every single step you took", testAgents(), Hint{PreviousAgentID: "arch"}, raw)
	require.NoError(t, err)
	conf, _ = confidenceOf(r, "arch")
	assert.Equal(t, 0.6, conf, "long messages are not follow-ups")

	r, err = p.Apply("tell me about it", testAgents(), Hint{PreviousAgentID: "arch"}, Raw{
		Candidates: raw.Candidates,
		FollowUp:   true,
	})
	require.NoError(t, err)
	conf, _ = confidenceOf(r, "arch")
	assert.Equal(t, 0.8, conf, "the model may flag a follow-up")
}

func TestPolicy_AmbiguousBestGuess(t *testing.T) {
	p := NewPolicy(DefaultPolicyConfig())

	r, err := p.Apply("hmm", testAgents(), Hint{}, Raw{
		Candidates: []Scored{
			{Key: "architect", Confidence: 0.2},
			{Key: "pm", Confidence: 0.4},
			{Key: "dba", Confidence: 0.1},
		},
		Reasoning: "Nothing specific. The PM is a generalist.",
	})
	require.NoError(t, err)
	require.Len(t, r.Candidates, 1)
	assert.Equal(t, "pm", r.Top().AgentID)
	assert.GreaterOrEqual(t, r.Top().Confidence, 0.55)
	assert.LessOrEqual(t, r.Top().Confidence, 0.70)
	assert.Equal(t, "Nothing specific.", r.Reasoning)
}

func TestPolicy_AmbiguousTiePrefersDefault(t *testing.T) {
	p := NewPolicy(DefaultPolicyConfig())

	r, err := p.Apply("hello", testAgents(), Hint{}, Raw{
		Candidates: []Scored{
			{Key: "architect", Confidence: 0.3},
			{Key: "pm", Confidence: 0.3},
		},
	})
	require.NoError(t, err)
	require.Len(t, r.Candidates, 1)
	assert.Equal(t, "pm", r.Top().AgentID)
	assert.Equal(t, 0.55, r.Top().Confidence)
	assert.Contains(t, r.Reasoning, "Project Manager")
}

func TestPolicy_Failures(t *testing.T) {
	p := NewPolicy(DefaultPolicyConfig())

	_, err := p.Apply("hi", nil, Hint{}, Raw{Candidates: []Scored{{Key: "dba", Confidence: 1}}})
	assert.ErrorIs(t, err, ErrClassificationFailed)

	_, err = p.Apply("hi", testAgents(), Hint{}, Raw{})
	assert.ErrorIs(t, err, ErrClassificationFailed)

	_, err = p.Apply("hi", testAgents(), Hint{}, Raw{Candidates: []Scored{{Key: "wizard", Confidence: 1}}})
	assert.ErrorIs(t, err, ErrClassificationFailed)
}

func TestPolicy_ResultAlwaysNonEmptyAndBounded(t *testing.T) {
	p := NewPolicy(DefaultPolicyConfig())
	agents := testAgents()
	keys := []string{"architect", "dba", "pm", "securityreviewer", "nobody"}
	messages := []string{"continue", "@dba", "@pm what now", "schema design", "why", ""}
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		var raw Raw
		for j := 0; j <= rng.Intn(4); j++ {
			raw.Candidates = append(raw.Candidates, Scored{
				Key:        keys[rng.Intn(len(keys))],
				Confidence: rng.Float64()*2 - 0.5,
			})
		}
		raw.FollowUp = rng.Intn(2) == 0
		raw.Candidates = append(raw.Candidates, Scored{Key: "dba", Confidence: rng.Float64()})
		hint := Hint{PreviousAgentID: agents[rng.Intn(len(agents))].ID}

		msg := messages[rng.Intn(len(messages))]
		r, err := p.Apply(msg, agents, hint, raw)
		require.NoError(t, err)
		require.NotEmpty(t, r.Candidates)
		for k, c := range r.Candidates {
			assert.GreaterOrEqual(t, c.Confidence, 0.0)
			assert.LessOrEqual(t, c.Confidence, 1.0)
			if k > 0 {
				assert.GreaterOrEqual(t, r.Candidates[k-1].Confidence, c.Confidence)
			}
		}
		for _, a := range p.mentions(msg, agents) {
			conf, ok := confidenceOf(r, a.ID)
			assert.True(t, ok)
			assert.GreaterOrEqual(t, conf, 0.85)
		}
	}
}

func TestBandOf(t *testing.T) {
	assert.Equal(t, BandShould, BandOf(0.8))
	assert.Equal(t, BandCould, BandOf(0.79))
	assert.Equal(t, BandCould, BandOf(0.5))
	assert.Equal(t, BandExcluded, BandOf(0.49))
}
