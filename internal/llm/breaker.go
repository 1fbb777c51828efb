package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const (
	defaultBreakerMaxFailures uint32 = 5
	defaultBreakerTimeout            = 30 * time.Second
	defaultBreakerInterval           = 60 * time.Second
)

type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens
	MaxFailures uint32
	// Timeout is how long the circuit stays open before a probe is allowed
	Timeout time.Duration
	// Interval clears failure counts while closed. Zero keeps the default.
	Interval time.Duration
}

// ErrCircuitOpen is returned while the breaker rejects calls
var ErrCircuitOpen = errors.New("model circuit open")

// BreakerResponder fails fast once the wrapped responder keeps failing.
// Only opening a stream counts towards the breaker; errors after the first
// token are the caller's to handle.
type BreakerResponder struct {
	inner   Responder
	respond *gobreaker.CircuitBreaker[*Response]
	stream  *gobreaker.CircuitBreaker[TokenStream]
	logger  *zap.Logger
}

func NewBreakerResponder(inner Responder, cfg BreakerConfig, logger *zap.Logger) *BreakerResponder {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultBreakerMaxFailures
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultBreakerTimeout
	}
	if cfg.Interval == 0 {
		cfg.Interval = defaultBreakerInterval
	}

	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.MaxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Circuit breaker state change",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
			// A cancelled caller says nothing about the model's health
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		}
	}

	return &BreakerResponder{
		inner:   inner,
		respond: gobreaker.NewCircuitBreaker[*Response](settings("llm:respond")),
		stream:  gobreaker.NewCircuitBreaker[TokenStream](settings("llm:stream")),
		logger:  logger,
	}
}

func (b *BreakerResponder) Stream(ctx context.Context, req Request) (TokenStream, error) {
	s, err := b.stream.Execute(func() (TokenStream, error) {
		return b.inner.Stream(ctx, req)
	})
	return s, wrapBreakerErr(err)
}

func (b *BreakerResponder) Respond(ctx context.Context, req Request) (*Response, error) {
	resp, err := b.respond.Execute(func() (*Response, error) {
		return b.inner.Respond(ctx, req)
	})
	return resp, wrapBreakerErr(err)
}

func (b *BreakerResponder) State() gobreaker.State {
	return b.respond.State()
}

func wrapBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	return err
}
