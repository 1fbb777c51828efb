// Package stream runs several agents' answers at once and merges their
// token streams into one ordered event sequence.
//
// Each agent gets its own producer goroutine. Producers write to a single
// channel that the caller drains; a slow agent never holds back another's
// tokens. Every agent ends in exactly one of agent_finished or agent_failed,
// after all of its chunks.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"github.com/xaenox/agent-router/internal/llm"
	"github.com/xaenox/agent-router/internal/models"
	"github.com/xaenox/agent-router/internal/storage"
	"go.uber.org/zap"
)

var (
	ErrAgentStartFailed  = errors.New("agent stream could not start")
	ErrAgentStreamFailed = errors.New("agent stream failed")
)

const defaultBufferSize = 64

// Titler names a conversation from its first answer. Calls are fire and
// forget; implementations log their own failures.
type Titler interface {
	GenerateTitle(ctx context.Context, conversationID, firstAnswer string)
}

type Request struct {
	Agents       []models.AgentProfile
	Conversation models.Conversation
	Message      string
	History      []*models.Message
	Attachments  []models.Attachment
}

type Multiplexer struct {
	responder  llm.Responder
	messages   storage.MessageStore
	titler     Titler
	bufferSize int
	logger     *zap.Logger
}

type Option func(*Multiplexer)

func WithTitler(t Titler) Option {
	return func(m *Multiplexer) { m.titler = t }
}

func WithBufferSize(n int) Option {
	return func(m *Multiplexer) {
		if n > 0 {
			m.bufferSize = n
		}
	}
}

func NewMultiplexer(responder llm.Responder, messages storage.MessageStore, logger *zap.Logger, opts ...Option) *Multiplexer {
	m := &Multiplexer{
		responder:  responder,
		messages:   messages,
		bufferSize: defaultBufferSize,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// agentState is the per-agent scratch space of one run. It is owned by the
// agent's producer goroutine and dropped once the agent reaches a terminal
// state.
type agentState struct {
	agentID     string
	displayName string
	buffer      strings.Builder
	active      bool
	terminated  bool
}

type run struct {
	m         *Multiplexer
	req       Request
	out       chan Event
	titleOnce sync.Once
	logger    *zap.Logger
}

// Run starts one producer per agent and returns the merged event channel.
// The channel is closed when every agent has terminated or ctx is done.
// Cancelling ctx stops all producers, closes their streams and saves
// nothing for agents that had not finished.
func (m *Multiplexer) Run(ctx context.Context, req Request) <-chan Event {
	r := &run{
		m:   m,
		req: req,
		out: make(chan Event, m.bufferSize),
		logger: m.logger.With(
			zap.String("conversation_id", req.Conversation.ID),
			zap.Int("agents", len(req.Agents))),
	}

	go func() {
		defer close(r.out)
		var wg conc.WaitGroup
		for _, agent := range req.Agents {
			agent := agent
			wg.Go(func() { r.produce(ctx, agent) })
		}
		wg.Wait()
		r.logger.Debug("Multiplex run complete")
	}()

	return r.out
}

func (r *run) produce(ctx context.Context, agent models.AgentProfile) {
	st := &agentState{agentID: agent.ID, displayName: agent.Name}
	log := r.logger.With(zap.String("agent_id", agent.ID))

	var catcher panics.Catcher
	catcher.Try(func() { r.stream(ctx, agent, st, log) })
	if recovered := catcher.Recovered(); recovered != nil && !st.terminated {
		log.Error("Agent producer panicked", zap.String("panic", recovered.String()))
		r.fail(ctx, st, fmt.Errorf("%w: %w", ErrAgentStreamFailed, recovered.AsError()), ErrorStreamFailed, log)
	}
}

func (r *run) stream(ctx context.Context, agent models.AgentProfile, st *agentState, log *zap.Logger) {
	tokens, err := r.m.responder.Stream(ctx, llm.Request{
		AgentID:      agent.ID,
		Model:        agent.Model,
		Instructions: agent.Instructions,
		History:      r.req.History,
		Message:      r.req.Message,
		Attachments:  r.req.Attachments,
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.fail(ctx, st, fmt.Errorf("%w: %w", ErrAgentStartFailed, err), ErrorStartFailed, log)
		return
	}

	// Closing on cancellation releases the connection even while Recv blocks
	stop := context.AfterFunc(ctx, func() { tokens.Close() })
	defer func() {
		if stop() {
			tokens.Close()
		}
	}()

	st.active = true
	if !r.emit(ctx, Started(st.agentID, st.displayName)) {
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		delta, err := tokens.Recv()
		if errors.Is(err, io.EOF) {
			r.finish(ctx, st, log)
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.fail(ctx, st, fmt.Errorf("%w: %w", ErrAgentStreamFailed, err), ErrorStreamFailed, log)
			return
		}
		if delta == "" {
			continue
		}
		st.buffer.WriteString(delta)
		if !r.emit(ctx, Chunk(st.agentID, delta)) {
			return
		}
	}
}

func (r *run) finish(ctx context.Context, st *agentState, log *zap.Logger) {
	if ctx.Err() != nil {
		return
	}
	st.active = false
	st.terminated = true

	content := st.buffer.String()
	msg, err := r.persist(ctx, st, content, nil)
	if err != nil {
		log.Error("Failed to persist agent answer", zap.Error(err))
		r.emit(ctx, Failed(st.agentID, ErrorPersistenceFailed, "The answer could not be saved.", ""))
		return
	}

	log.Info("Agent finished",
		zap.String("message_id", msg.ID),
		zap.Int("length", len(content)))
	r.emit(ctx, Finished(st.agentID, msg.ID))

	if r.m.titler != nil {
		r.titleOnce.Do(func() {
			go r.m.titler.GenerateTitle(context.WithoutCancel(ctx), r.req.Conversation.ID, content)
		})
	}
}

// fail keeps whatever the agent produced before failing
func (r *run) fail(ctx context.Context, st *agentState, cause error, kind ErrorKind, log *zap.Logger) {
	if ctx.Err() != nil {
		return
	}
	st.active = false
	st.terminated = true

	log.Warn("Agent failed",
		zap.Error(cause),
		zap.String("kind", string(kind)),
		zap.Int("buffered", st.buffer.Len()))

	var partialID string
	if st.buffer.Len() > 0 {
		msg, err := r.persist(ctx, st, st.buffer.String(), []string{models.FlagPartial})
		if err != nil {
			log.Error("Failed to persist partial answer", zap.Error(err))
			r.emit(ctx, Failed(st.agentID, ErrorPersistenceFailed, "The partial answer could not be saved.", ""))
			return
		}
		partialID = msg.ID
	}

	r.emit(ctx, Failed(st.agentID, kind, failureMessage(kind), partialID))
}

// persist runs detached from ctx so a write that has begun is not torn by
// a late disconnect.
func (r *run) persist(ctx context.Context, st *agentState, content string, flags []string) (*models.Message, error) {
	agentID := st.agentID
	return r.m.messages.AppendMessage(context.WithoutCancel(ctx), r.req.Conversation.ID, &models.Message{
		Role:        models.RoleAssistant,
		AgentID:     &agentID,
		AuthorLabel: st.displayName,
		Content:     content,
		Flags:       flags,
	})
}

func (r *run) emit(ctx context.Context, ev Event) bool {
	select {
	case r.out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func failureMessage(kind ErrorKind) string {
	switch kind {
	case ErrorStartFailed:
		return "The agent could not start responding."
	case ErrorPersistenceFailed:
		return "The answer could not be saved."
	default:
		return "The agent stopped responding before finishing."
	}
}
