package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

const (
	defaultAsyncQueue  = 256
	defaultSendTimeout = 10 * time.Second
)

var (
	ErrQueueFull = errors.New("notification queue is full")
	ErrClosed    = errors.New("notification queue is closed")
)

type queued struct {
	ctx context.Context
	n   Notification
}

// Async hands notifications to a background goroutine so publishing never
// waits on a slow downstream. Order is preserved; when the queue is full the
// notification is dropped.
type Async struct {
	next    Publisher
	queue   chan queued
	timeout time.Duration
	dropped atomic.Int64
	mu      sync.RWMutex
	closed  bool
	wg      conc.WaitGroup
	logger  *zap.Logger
}

func NewAsync(next Publisher, queueSize int, timeout time.Duration, logger *zap.Logger) *Async {
	if queueSize <= 0 {
		queueSize = defaultAsyncQueue
	}
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	a := &Async{
		next:    next,
		queue:   make(chan queued, queueSize),
		timeout: timeout,
		logger:  logger,
	}
	a.wg.Go(a.drain)
	return a
}

// Publish enqueues n and returns immediately
func (a *Async) Publish(ctx context.Context, n Notification) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- queued{ctx: context.WithoutCancel(ctx), n: n}:
		return nil
	default:
		a.dropped.Add(1)
		return ErrQueueFull
	}
}

func (a *Async) drain() {
	for q := range a.queue {
		a.deliver(q)
	}
}

func (a *Async) deliver(q queued) {
	ctx, cancel := context.WithTimeout(q.ctx, a.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Notification publisher panicked",
				zap.Any("panic", r),
				zap.String("type", string(q.n.Type)))
		}
	}()
	if err := a.next.Publish(ctx, q.n); err != nil {
		a.logger.Warn("Failed to deliver notification",
			zap.Error(err),
			zap.String("type", string(q.n.Type)),
			zap.String("conversation_id", q.n.ConversationID))
	}
}

func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting notifications and waits for queued ones to be
// delivered.
func (a *Async) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	a.wg.Wait()
}
