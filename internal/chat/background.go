package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
	"github.com/xaenox/agent-router/internal/dispatch"
	"github.com/xaenox/agent-router/internal/llm"
	"github.com/xaenox/agent-router/internal/models"
	"github.com/xaenox/agent-router/internal/notify"
	"github.com/xaenox/agent-router/internal/stream"
	"github.com/xaenox/agent-router/internal/tools"
	"go.uber.org/zap"
)

// Job is a stored user message waiting for background answers
type Job struct {
	ConversationID string
	ProjectID      string
	MessageID      string
	AgentIDs       []string
}

// Submit stores the message and queues it. Answers are reported through the
// notification channel.
func (s *Service) Submit(ctx context.Context, in Input) (*models.Conversation, *models.Message, error) {
	t, err := s.accept(ctx, in)
	if err != nil {
		return nil, nil, err
	}

	job := Job{
		ConversationID: t.conversation.ID,
		ProjectID:      t.conversation.ProjectID,
		MessageID:      t.user.ID,
		AgentIDs:       in.AgentIDs,
	}
	select {
	case s.jobs <- job:
	default:
		s.logger.Warn("Background queue full",
			zap.String("conversation_id", job.ConversationID),
			zap.String("message_id", job.MessageID))
		return t.conversation, t.user, ErrQueueFull
	}

	s.logger.Info("Message queued",
		zap.String("conversation_id", job.ConversationID),
		zap.String("message_id", job.MessageID))
	return t.conversation, t.user, nil
}

type WorkerConfig struct {
	MaxWorkers int
	// Attempts counts the first try
	Attempts       int
	Delay          time.Duration
	AttemptTimeout time.Duration
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		MaxWorkers:     4,
		Attempts:       3,
		Delay:          2 * time.Second,
		AttemptTimeout: 120 * time.Second,
	}
}

// Worker answers queued jobs with a bounded number of goroutines
type Worker struct {
	svc       *Service
	responder llm.Responder
	tools     *tools.Registry
	titler    stream.Titler
	cfg       WorkerConfig
	logger    *zap.Logger
}

func NewWorker(svc *Service, responder llm.Responder, registry *tools.Registry, titler stream.Titler, cfg WorkerConfig, logger *zap.Logger) *Worker {
	def := DefaultWorkerConfig()
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = def.Attempts
	}
	if cfg.Delay < 0 {
		cfg.Delay = def.Delay
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	return &Worker{
		svc:       svc,
		responder: responder,
		tools:     registry,
		titler:    titler,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run consumes jobs until ctx is done, then waits for jobs in flight
func (w *Worker) Run(ctx context.Context) {
	p := pool.New().WithMaxGoroutines(w.cfg.MaxWorkers)
	defer p.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-w.svc.jobs:
			p.Go(func() { w.Process(ctx, job) })
		}
	}
}

// Process routes one job and answers it with every chosen agent
func (w *Worker) Process(ctx context.Context, job Job) {
	log := w.logger.With(
		zap.String("conversation_id", job.ConversationID),
		zap.String("message_id", job.MessageID))

	t, err := w.load(ctx, job)
	if err != nil {
		log.Error("Failed to load job", zap.Error(err))
		w.svc.publish(ctx, notify.Notification{
			Type:           notify.RoutingFailed,
			ConversationID: job.ConversationID,
			Error:          RoutingFailedMessage,
		})
		return
	}

	decision, err := w.route(ctx, t, job.AgentIDs)
	if err != nil {
		log.Error("Failed to route message", zap.Error(err))
		w.svc.publish(ctx, notify.Notification{
			Type:           notify.RoutingFailed,
			ConversationID: job.ConversationID,
			Error:          RoutingFailedMessage,
		})
		return
	}

	if decision.Kind == dispatch.NeedsSelection {
		w.svc.publish(ctx, notify.Notification{
			Type:           notify.SelectionRequired,
			ConversationID: job.ConversationID,
			Options:        decision.Options,
			Reasoning:      decision.Reasoning,
		})
		return
	}

	w.svc.publish(ctx, notify.Notification{
		Type:           notify.AgentsProcessing,
		ConversationID: job.ConversationID,
		Agents:         agentIDs(decision.Agents),
	})

	var titleOnce sync.Once
	var wg conc.WaitGroup
	for _, agent := range decision.Agents {
		agent := agent
		wg.Go(func() {
			msg, err := w.answer(ctx, t, agent)
			if err != nil {
				log.Warn("Agent failed in background",
					zap.String("agent_id", agent.ID),
					zap.Error(err))
				w.svc.publish(ctx, notify.Notification{
					Type:           notify.AgentFailed,
					ConversationID: job.ConversationID,
					AgentID:        agent.ID,
					Error:          "The agent could not answer.",
				})
				return
			}
			w.svc.publish(ctx, notify.Notification{
				Type:           notify.MessageReceived,
				ConversationID: job.ConversationID,
				AgentID:        agent.ID,
				MessageID:      msg.ID,
				Message:        msg.Content,
			})
			if w.titler != nil {
				titleOnce.Do(func() {
					go w.titler.GenerateTitle(context.WithoutCancel(ctx), job.ConversationID, msg.Content)
				})
			}
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		log.Error("Background agent panicked", zap.String("panic", r.String()))
	}
}

func (w *Worker) load(ctx context.Context, job Job) (*turn, error) {
	conv, err := w.svc.conversations.GetConversation(ctx, job.ConversationID)
	if err != nil {
		return nil, err
	}
	profiles, err := w.svc.profiles.ListProfiles(ctx, job.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("list agent profiles: %w", err)
	}
	msgs, err := w.svc.messages.ListMessages(ctx, conv.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	for i, m := range msgs {
		if m.ID != job.MessageID {
			continue
		}
		history := msgs[:i]
		if len(history) > w.svc.historyLimit {
			history = history[len(history)-w.svc.historyLimit:]
		}
		return &turn{conversation: conv, user: m, history: history, profiles: profiles}, nil
	}
	return nil, fmt.Errorf("message %s not found in conversation %s", job.MessageID, conv.ID)
}

// route retries classification with the same policy as agent answers
func (w *Worker) route(ctx context.Context, t *turn, agentIDs []string) (dispatch.Decision, error) {
	if len(agentIDs) > 0 {
		return dispatch.Manual(agentIDs, t.profiles)
	}

	var decision dispatch.Decision
	err := w.retry(ctx, "classify", func(ctx context.Context) error {
		d, err := w.svc.route(ctx, t, nil)
		if err != nil {
			return err
		}
		decision = d
		return nil
	})
	return decision, err
}

func (w *Worker) answer(ctx context.Context, t *turn, agent models.AgentProfile) (*models.Message, error) {
	req := llm.Request{
		AgentID:      agent.ID,
		Model:        agent.Model,
		Instructions: agent.Instructions,
		History:      t.history,
		Message:      t.user.Content,
		Attachments:  t.user.Attachments,
	}
	var ts *tools.Toolset
	if w.tools != nil && len(agent.Tools) > 0 {
		var err error
		ts, err = w.tools.Toolset(t.conversation.ProjectID, agent.Tools)
		if err != nil {
			return nil, err
		}
		if !ts.Empty() {
			req.Tools = ts
		}
	}

	var resp *llm.Response
	err := w.retry(ctx, "answer", func(ctx context.Context) error {
		r, err := w.responder.Respond(ctx, req)
		if err != nil {
			// tools may have changed state; replaying the answer would repeat them
			if ts.Executed() > 0 {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	agentID := agent.ID
	return w.svc.messages.AppendMessage(context.WithoutCancel(ctx), t.conversation.ID, &models.Message{
		Role:        models.RoleAssistant,
		AgentID:     &agentID,
		AuthorLabel: agent.Name,
		Content:     resp.Text,
		ToolCalls:   rawOrNil(resp.ToolCalls),
		ToolResults: rawOrNil(resp.ToolResults),
		Usage:       resp.Usage,
	})
}

// retry runs op up to Attempts times with a constant delay. Each attempt gets
// its own timeout; a done parent context ends retrying.
func (w *Worker) retry(ctx context.Context, what string, op func(ctx context.Context) error) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(w.cfg.Delay), uint64(w.cfg.Attempts-1)),
		ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.AttemptTimeout)
		defer cancel()

		err := op(attemptCtx)
		if err != nil && errors.Is(err, dispatch.ErrUnknownAgent) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, next time.Duration) {
		w.logger.Info("Retrying after error",
			zap.String("operation", what),
			zap.Int("attempt", attempt),
			zap.Duration("next", next),
			zap.Error(err))
	})
}

func rawOrNil(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
