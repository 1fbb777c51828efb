package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/xaenox/agent-router/internal/dispatch"
	"github.com/xaenox/agent-router/internal/models"
	"github.com/xaenox/agent-router/internal/notify"
	"github.com/xaenox/agent-router/internal/stream"
	"go.uber.org/zap"
)

// Selector asks a human to choose agents when routing is not confident.
// It blocks until a choice is made or ctx ends.
type Selector interface {
	Select(ctx context.Context, conversationID string, d dispatch.Decision) ([]string, error)
}

// Stream accepts a message and streams the routed agents' answers. Errors
// returned directly happen before anything was stored; failures after that
// arrive as events. Cancelling ctx stops every agent.
func (s *Service) Stream(ctx context.Context, in Input) (<-chan stream.Event, error) {
	t, err := s.accept(ctx, in)
	if err != nil {
		return nil, err
	}

	out := make(chan stream.Event, 16)
	go func() {
		defer close(out)
		if !send(ctx, out, stream.Conversation(t.conversation.ID, t.user.ID)) {
			return
		}

		decision, err := s.route(ctx, t, in.AgentIDs)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("Failed to route message",
				zap.Error(err),
				zap.String("conversation_id", t.conversation.ID))
			send(ctx, out, stream.Fatal(RoutingFailedMessage))
			return
		}

		if decision.Kind == dispatch.NeedsSelection {
			decision, err = s.selectAgents(ctx, t, decision, out)
			if err != nil || decision.Kind != dispatch.Direct {
				return
			}
		}

		s.forward(ctx, t, decision.Agents, out)
	}()
	return out, nil
}

// ResumeInput picks agents for a conversation whose last message is waiting
type ResumeInput struct {
	UserID         string
	ProjectID      string
	ConversationID string
	AgentIDs       []string
}

// Resume answers the pending user message with explicitly chosen agents
func (s *Service) Resume(ctx context.Context, in ResumeInput) (<-chan stream.Event, error) {
	conv, err := s.Conversation(ctx, in.UserID, in.ProjectID, in.ConversationID)
	if err != nil {
		return nil, err
	}
	profiles, err := s.profiles.ListProfiles(ctx, in.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("list agent profiles: %w", err)
	}
	decision, err := dispatch.Manual(in.AgentIDs, profiles)
	if err != nil {
		return nil, err
	}
	t, err := s.pending(ctx, conv, profiles)
	if err != nil {
		return nil, err
	}

	out := make(chan stream.Event, 16)
	go func() {
		defer close(out)
		if !send(ctx, out, stream.Conversation(conv.ID, t.user.ID)) {
			return
		}
		s.forward(ctx, t, decision.Agents, out)
	}()
	return out, nil
}

// selectAgents resolves a NeedsSelection decision. Without a Selector the
// options go to the client and the stream ends; the client resumes later.
func (s *Service) selectAgents(ctx context.Context, t *turn, d dispatch.Decision, out chan<- stream.Event) (dispatch.Decision, error) {
	s.publish(ctx, notify.Notification{
		Type:           notify.SelectionRequired,
		ConversationID: t.conversation.ID,
		Options:        d.Options,
		Reasoning:      d.Reasoning,
	})

	if s.selector == nil {
		send(ctx, out, stream.SelectionRequired(d))
		return d, nil
	}

	ids, err := s.selector.Select(ctx, t.conversation.ID, d)
	if err != nil {
		if !errors.Is(err, context.Canceled) && ctx.Err() == nil {
			s.logger.Warn("Agent selection failed", zap.Error(err), zap.String("conversation_id", t.conversation.ID))
			send(ctx, out, stream.Fatal(RoutingFailedMessage))
		}
		return d, err
	}
	manual, err := dispatch.Manual(ids, t.profiles)
	if err != nil {
		s.logger.Warn("Invalid agent selection", zap.Error(err), zap.Strings("agent_ids", ids))
		send(ctx, out, stream.Fatal(RoutingFailedMessage))
		return d, err
	}
	return manual, nil
}

// forward runs the multiplexer and relays its events, mirroring terminal
// events to the notification channel.
func (s *Service) forward(ctx context.Context, t *turn, agents []models.AgentProfile, out chan<- stream.Event) {
	s.publish(ctx, notify.Notification{
		Type:           notify.AgentsProcessing,
		ConversationID: t.conversation.ID,
		Agents:         agentIDs(agents),
	})

	events := s.mux.Run(ctx, stream.Request{
		Agents:       agents,
		Conversation: *t.conversation,
		Message:      t.user.Content,
		History:      t.history,
		Attachments:  t.user.Attachments,
	})

	for ev := range events {
		switch ev.Type {
		case stream.EventAgentFinished:
			s.publish(ctx, notify.Notification{
				Type:           notify.MessageReceived,
				ConversationID: t.conversation.ID,
				AgentID:        ev.AgentID,
				MessageID:      ev.MessageID,
			})
		case stream.EventAgentFailed:
			s.publish(ctx, notify.Notification{
				Type:           notify.AgentFailed,
				ConversationID: t.conversation.ID,
				AgentID:        ev.AgentID,
				Error:          ev.Error,
			})
		}
		send(ctx, out, ev)
	}
}

func send(ctx context.Context, out chan<- stream.Event, ev stream.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
