package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xaenox/agent-router/internal/llm"
	"github.com/xaenox/agent-router/internal/models"
	"go.uber.org/zap"
)

type GPTResponse struct {
	Candidates []GPTCandidate `json:"candidates"`
	Reasoning  string         `json:"reasoning"`
	FollowUp   bool           `json:"follow_up"`
}

type GPTCandidate struct {
	Agent      string  `json:"agent"`
	Confidence float64 `json:"confidence"`
}

const routerInstructions = `You route messages in a team of specialist agents.
Decide which agents should answer the user's message.
Confidence bands: 0.8 or higher means the agent should respond, 0.5 to 0.79 means it could respond, below 0.5 means it should not.
If the message has no strong domain signal, return one best-guess agent with confidence between 0.55 and 0.7 and explain in one sentence.
Always answer with a JSON object only.`

// GPTClassifier asks the language model for candidate agents
type GPTClassifier struct {
	responder llm.Responder
	model     string
	policy    Policy
	logger    *zap.Logger
}

func NewGPTClassifier(responder llm.Responder, model string, policy Policy, logger *zap.Logger) *GPTClassifier {
	return &GPTClassifier{
		responder: responder,
		model:     model,
		policy:    policy,
		logger:    logger,
	}
}

func (c *GPTClassifier) Classify(ctx context.Context, message string, agents []models.AgentProfile, hint Hint) (*Result, error) {
	if len(agents) == 0 {
		return nil, fmt.Errorf("%w: no agents available", ErrClassificationFailed)
	}

	resp, err := c.responder.Respond(ctx, llm.Request{
		Model:        c.model,
		Instructions: routerInstructions,
		Message:      c.buildPrompt(message, agents, hint),
		JSON:         true,
	})
	if err != nil {
		c.logger.Error("Failed to get routing response", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrClassificationFailed, err)
	}

	gptResponse, err := parseGPTResponse(resp.Text)
	if err != nil {
		c.logger.Error("Failed to parse routing response",
			zap.Error(err),
			zap.String("response", resp.Text))
		return nil, fmt.Errorf("%w: %w", ErrClassificationFailed, err)
	}

	raw := Raw{Reasoning: gptResponse.Reasoning, FollowUp: gptResponse.FollowUp}
	for _, cand := range gptResponse.Candidates {
		raw.Candidates = append(raw.Candidates, Scored{Key: cand.Agent, Confidence: cand.Confidence})
	}

	result, err := c.policy.Apply(message, agents, hint, raw)
	if err != nil {
		c.logger.Warn("Routing response unusable",
			zap.Error(err),
			zap.String("response", resp.Text))
		return nil, err
	}

	c.logger.Debug("Message classified",
		zap.Int("candidates", len(result.Candidates)),
		zap.String("top_agent", result.Top().AgentID),
		zap.Float64("top_confidence", result.Top().Confidence))
	return result, nil
}

func (c *GPTClassifier) buildPrompt(message string, agents []models.AgentProfile, hint Hint) string {
	var b strings.Builder
	b.WriteString("Available agents:\n")
	for _, a := range agents {
		fmt.Fprintf(&b, "- %s: %s", a.RoutingKey(), a.Name)
		if summary := firstLine(a.Instructions); summary != "" {
			fmt.Fprintf(&b, " (%s)", summary)
		}
		b.WriteString("\n")
	}
	if hint.PreviousAgentID != "" {
		if prev, ok := models.FindAgent(agents, hint.PreviousAgentID); ok {
			fmt.Fprintf(&b, "\nThe previous answer in this conversation came from %s.\n", prev.RoutingKey())
		}
	}

	fmt.Fprintf(&b, `
Return the response as a JSON object with this structure:
{
    "candidates": [{"agent": "agent_key", "confidence": 0.0}, ...],
    "reasoning": "why these agents",
    "follow_up": true if the message only continues the previous answer
}

Message: %s`, message)
	return b.String()
}

func parseGPTResponse(text string) (*GPTResponse, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var gptResponse GPTResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &gptResponse); err != nil {
		return nil, err
	}
	if len(gptResponse.Candidates) == 0 {
		return nil, fmt.Errorf("response names no candidates")
	}
	return &gptResponse, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}
