package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBreakerResponder_OpensAfterConsecutiveFailures(t *testing.T) {
	boom := errors.New("upstream 500")
	inner := NewScriptedResponder(map[string]Script{"a": {Err: boom}})
	b := NewBreakerResponder(inner, BreakerConfig{MaxFailures: 2, Timeout: time.Minute}, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := b.Respond(ctx, Request{AgentID: "a"})
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.Respond(ctx, Request{AgentID: "a"})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Len(t, inner.Calls(), 2, "open breaker must not reach the model")
}

func TestBreakerResponder_StreamOpenOnly(t *testing.T) {
	boom := errors.New("mid-stream failure")
	inner := NewScriptedResponder(map[string]Script{
		"a": {Chunks: []string{"x"}, Err: boom, FailAfter: 1},
	})
	b := NewBreakerResponder(inner, BreakerConfig{MaxFailures: 1}, zap.NewNop())

	for i := 0; i < 3; i++ {
		s, err := b.Stream(context.Background(), Request{AgentID: "a"})
		require.NoError(t, err)
		_, err = drain(t, s)
		assert.ErrorIs(t, err, boom)
	}
}

func TestBreakerResponder_CancellationDoesNotTrip(t *testing.T) {
	inner := NewScriptedResponder(map[string]Script{"a": {Err: context.Canceled}})
	b := NewBreakerResponder(inner, BreakerConfig{MaxFailures: 1}, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := b.Respond(context.Background(), Request{AgentID: "a"})
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
