// Package chat orchestrates one user message end to end: it stores the
// message, routes it to agents and either streams their answers live or
// hands the work to background workers.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xaenox/agent-router/internal/agents"
	"github.com/xaenox/agent-router/internal/classifier"
	"github.com/xaenox/agent-router/internal/dispatch"
	"github.com/xaenox/agent-router/internal/models"
	"github.com/xaenox/agent-router/internal/notify"
	"github.com/xaenox/agent-router/internal/storage"
	"github.com/xaenox/agent-router/internal/stream"
	"go.uber.org/zap"
)

// RoutingFailedMessage is what users see when no agent could be chosen
const RoutingFailedMessage = "We couldn't route your message. Please try again."

const (
	defaultHistoryLimit = 50
	defaultQueueSize    = 64
	titleMaxRunes       = 50
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrNoAgents       = errors.New("project has no agents")
	ErrNothingPending = errors.New("conversation has no unanswered message")
	ErrQueueFull      = errors.New("background queue is full")
)

type Config struct {
	// HistoryLimit bounds how many earlier messages agents see
	HistoryLimit int
	QueueSize    int
	// NotifyQueueSize and NotifyTimeout bound the notification hand-off
	NotifyQueueSize int
	NotifyTimeout   time.Duration
}

type Deps struct {
	Conversations storage.ConversationStore
	Messages      storage.MessageStore
	Profiles      agents.Store
	Classifier    classifier.Classifier
	Dispatch      dispatch.Policy
	Multiplexer   *stream.Multiplexer
	Notifier      notify.Publisher
	// Selector is optional; without it selection is left to the client
	Selector Selector
}

type Service struct {
	conversations storage.ConversationStore
	messages      storage.MessageStore
	profiles      agents.Store
	classifier    classifier.Classifier
	dispatch      dispatch.Policy
	mux           *stream.Multiplexer
	notifier      *notify.Async
	selector      Selector
	historyLimit  int
	jobs          chan Job
	logger        *zap.Logger
}

func NewService(deps Deps, cfg Config, logger *zap.Logger) *Service {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	var notifier *notify.Async
	if deps.Notifier != nil {
		notifier = notify.NewAsync(deps.Notifier, cfg.NotifyQueueSize, cfg.NotifyTimeout, logger)
	}
	return &Service{
		conversations: deps.Conversations,
		messages:      deps.Messages,
		profiles:      deps.Profiles,
		classifier:    deps.Classifier,
		dispatch:      deps.Dispatch,
		mux:           deps.Multiplexer,
		notifier:      notifier,
		selector:      deps.Selector,
		historyLimit:  cfg.HistoryLimit,
		jobs:          make(chan Job, cfg.QueueSize),
		logger:        logger,
	}
}

// Input is one inbound user message
type Input struct {
	UserID         string
	ProjectID      string
	ConversationID string
	Message        string
	// AgentIDs bypasses classification when set
	AgentIDs    []string
	Attachments []models.Attachment
}

// turn is everything routing and answering need about one user message
type turn struct {
	conversation *models.Conversation
	user         *models.Message
	history      []*models.Message
	profiles     []models.AgentProfile
}

// accept stores the user message, creating the conversation when needed.
// History is read before the append so it never contains the new message.
func (s *Service) accept(ctx context.Context, in Input) (*turn, error) {
	content := strings.TrimSpace(in.Message)
	if content == "" && len(in.Attachments) == 0 {
		return nil, ErrEmptyMessage
	}

	profiles, err := s.profiles.ListProfiles(ctx, in.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("list agent profiles: %w", err)
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAgents, in.ProjectID)
	}

	conv, history, err := s.openConversation(ctx, in, content)
	if err != nil {
		return nil, err
	}

	user, err := s.messages.AppendMessage(ctx, conv.ID, &models.Message{
		Role:        models.RoleUser,
		Content:     content,
		Attachments: in.Attachments,
	})
	if err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}

	return &turn{conversation: conv, user: user, history: history, profiles: profiles}, nil
}

func (s *Service) openConversation(ctx context.Context, in Input, content string) (*models.Conversation, []*models.Message, error) {
	if in.ConversationID == "" {
		conv := &models.Conversation{
			ProjectID: in.ProjectID,
			UserID:    in.UserID,
			Title:     initialTitle(content),
		}
		if err := s.conversations.CreateConversation(ctx, conv); err != nil {
			return nil, nil, fmt.Errorf("create conversation: %w", err)
		}
		s.logger.Info("Conversation created",
			zap.String("conversation_id", conv.ID),
			zap.String("project_id", conv.ProjectID))
		return conv, nil, nil
	}

	conv, err := s.Conversation(ctx, in.UserID, in.ProjectID, in.ConversationID)
	if err != nil {
		return nil, nil, err
	}
	history, err := s.messages.ListMessages(ctx, conv.ID, s.historyLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("load history: %w", err)
	}
	return conv, history, nil
}

// Conversation returns a conversation only to the user and project that own it
func (s *Service) Conversation(ctx context.Context, userID, projectID, id string) (*models.Conversation, error) {
	conv, err := s.conversations.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID || conv.ProjectID != projectID {
		return nil, fmt.Errorf("conversation %s: %w", id, storage.ErrNotFound)
	}
	return conv, nil
}

// History returns the visible messages of a conversation and their turns
func (s *Service) History(ctx context.Context, userID, projectID, id string) ([]*models.Message, []models.Turn, error) {
	conv, err := s.Conversation(ctx, userID, projectID, id)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.messages.ListMessages(ctx, conv.ID, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("list messages: %w", err)
	}
	visible := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.HasFlag(models.FlagHidden) {
			visible = append(visible, m)
		}
	}
	return visible, models.GroupIntoTurns(visible), nil
}

// route picks the agents for a turn. Explicit agent ids skip the classifier.
func (s *Service) route(ctx context.Context, t *turn, agentIDs []string) (dispatch.Decision, error) {
	if len(agentIDs) > 0 {
		return dispatch.Manual(agentIDs, t.profiles)
	}

	hint := classifier.Hint{PreviousAgentID: models.LastRespondingAgent(t.history)}
	result, err := s.classifier.Classify(ctx, t.user.Content, t.profiles, hint)
	if err != nil {
		return dispatch.Decision{}, err
	}

	decision := s.dispatch.Decide(result, t.profiles)
	s.logger.Info("Message routed",
		zap.String("conversation_id", t.conversation.ID),
		zap.String("decision", decision.Kind.String()),
		zap.String("top_agent", result.Top().AgentID),
		zap.Float64("top_confidence", result.Top().Confidence))
	return decision, nil
}

// pending finds the unanswered user message that closes the conversation
func (s *Service) pending(ctx context.Context, conv *models.Conversation, profiles []models.AgentProfile) (*turn, error) {
	msgs, err := s.messages.ListMessages(ctx, conv.ID, s.historyLimit+1)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	last, ok := models.LastTurn(msgs)
	if !ok || !last.Pending() {
		return nil, fmt.Errorf("%w: %s", ErrNothingPending, conv.ID)
	}
	return &turn{
		conversation: conv,
		user:         last.User,
		history:      msgs[:len(msgs)-1],
		profiles:     profiles,
	}, nil
}

// publish hands n off without waiting for delivery
func (s *Service) publish(ctx context.Context, n notify.Notification) {
	if s.notifier == nil {
		return
	}
	notify.Send(ctx, s.notifier, n, s.logger)
}

// Close flushes pending notifications
func (s *Service) Close() {
	if s.notifier != nil {
		s.notifier.Close()
	}
}

func agentIDs(profiles []models.AgentProfile) []string {
	ids := make([]string, 0, len(profiles))
	for _, p := range profiles {
		ids = append(ids, p.ID)
	}
	return ids
}

// initialTitle is a placeholder until the first answer names the conversation
func initialTitle(content string) string {
	line := strings.TrimSpace(strings.SplitN(content, "\n", 2)[0])
	if line == "" {
		return "New conversation"
	}
	r := []rune(line)
	if len(r) <= titleMaxRunes {
		return line
	}
	return strings.TrimSpace(string(r[:titleMaxRunes])) + "..."
}
