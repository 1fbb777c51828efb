// Package notify delivers out-of-band updates about a conversation to
// whoever is watching it: a browser tab, a chat channel, or both.
package notify

import (
	"context"
	"time"

	"github.com/xaenox/agent-router/internal/dispatch"
	"go.uber.org/zap"
)

type Type string

const (
	AgentsProcessing  Type = "agents_processing"
	MessageReceived   Type = "message_received"
	AgentFailed       Type = "agent_failed"
	SelectionRequired Type = "selection_required"
	RoutingFailed     Type = "routing_failed"
)

type Notification struct {
	Type           Type              `json:"type"`
	ConversationID string            `json:"conversation_id"`
	Agents         []string          `json:"agents,omitempty"`
	AgentID        string            `json:"agent_id,omitempty"`
	Message        string            `json:"message,omitempty"`
	MessageID      string            `json:"message_id,omitempty"`
	Options        []dispatch.Option `json:"options,omitempty"`
	Reasoning      string            `json:"reasoning,omitempty"`
	Error          string            `json:"error,omitempty"`
	At             time.Time         `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// Multi fans a notification out to every publisher. Each publisher is tried
// even when an earlier one fails; the first error is returned.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, n Notification) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, n); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Send publishes and logs a failure instead of returning it
func Send(ctx context.Context, p Publisher, n Notification, logger *zap.Logger) {
	if p == nil {
		return
	}
	if n.At.IsZero() {
		n.At = time.Now()
	}
	if err := p.Publish(ctx, n); err != nil {
		logger.Warn("Failed to publish notification",
			zap.Error(err),
			zap.String("type", string(n.Type)),
			zap.String("conversation_id", n.ConversationID))
	}
}
