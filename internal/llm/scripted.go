package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xaenox/agent-router/internal/models"
)

// Script is the canned behaviour of one agent
type Script struct {
	Chunks []string
	// StartErr fails the stream before any chunk
	StartErr error
	// Err is returned after FailAfter chunks have been delivered
	Err       error
	FailAfter int
	// Delay is waited before every chunk
	Delay time.Duration
	Usage *models.Usage
}

// ScriptedResponder replays scripts keyed by agent id. It backs local mode
// when no model is configured and is used as a test double.
type ScriptedResponder struct {
	mu      sync.Mutex
	scripts map[string]Script
	// Fallback builds a script for agents without one
	Fallback func(req Request) Script
	calls    []Request
}

func NewScriptedResponder(scripts map[string]Script) *ScriptedResponder {
	if scripts == nil {
		scripts = make(map[string]Script)
	}
	return &ScriptedResponder{scripts: scripts, Fallback: EchoScript}
}

// EchoScript answers with the agent's name followed by the user's words
func EchoScript(req Request) Script {
	words := strings.Fields(req.Message)
	chunks := make([]string, 0, len(words)+1)
	chunks = append(chunks, "You asked:")
	for _, w := range words {
		chunks = append(chunks, " "+w)
	}
	return Script{Chunks: chunks}
}

func (r *ScriptedResponder) SetScript(agentID string, s Script) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts[agentID] = s
}

// Calls returns the requests received so far
func (r *ScriptedResponder) Calls() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Request(nil), r.calls...)
}

func (r *ScriptedResponder) script(req Request) Script {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, req)
	if s, ok := r.scripts[req.AgentID]; ok {
		return s
	}
	if r.Fallback != nil {
		return r.Fallback(req)
	}
	return Script{}
}

func (r *ScriptedResponder) Stream(ctx context.Context, req Request) (TokenStream, error) {
	s := r.script(req)
	if s.StartErr != nil {
		return nil, s.StartErr
	}
	return &scriptedStream{ctx: ctx, script: s}, nil
}

func (r *ScriptedResponder) Respond(ctx context.Context, req Request) (*Response, error) {
	s := r.script(req)
	if s.StartErr != nil {
		return nil, s.StartErr
	}
	if s.Err != nil {
		return nil, s.Err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.Delay * time.Duration(len(s.Chunks))):
	}
	return &Response{Text: strings.Join(s.Chunks, ""), Usage: s.Usage}, nil
}

type scriptedStream struct {
	ctx    context.Context
	script Script
	next   int
	closed atomic.Bool
}

var errStreamClosed = errors.New("stream closed")

func (s *scriptedStream) Recv() (string, error) {
	if s.closed.Load() {
		return "", errStreamClosed
	}
	if s.script.Err != nil && s.next >= s.script.FailAfter {
		return "", s.script.Err
	}
	if s.next >= len(s.script.Chunks) {
		return "", io.EOF
	}
	if s.script.Delay > 0 {
		t := time.NewTimer(s.script.Delay)
		defer t.Stop()
		select {
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		case <-t.C:
		}
	} else if err := s.ctx.Err(); err != nil {
		return "", err
	}
	chunk := s.script.Chunks[s.next]
	s.next++
	return chunk, nil
}

func (s *scriptedStream) Close() error {
	s.closed.Store(true)
	return nil
}
