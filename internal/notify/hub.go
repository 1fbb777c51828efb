package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

const defaultSubscriberBuffer = 32

type subscriber struct {
	id uint64
	ch chan Notification
}

// Hub is an in-process publisher keyed by conversation id. Slow subscribers
// lose notifications rather than blocking the publisher.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]map[uint64]subscriber
	nextID      atomic.Uint64
	bufferSize  int
	dropped     atomic.Int64
	closed      bool
	logger      *zap.Logger
}

func NewHub(bufferSize int, logger *zap.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBuffer
	}
	return &Hub{
		subscribers: make(map[string]map[uint64]subscriber),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Subscribe returns a channel of notifications for one conversation and a
// cancel func that removes the subscription and closes the channel.
func (h *Hub) Subscribe(conversationID string) (<-chan Notification, func()) {
	ch := make(chan Notification, h.bufferSize)
	id := h.nextID.Add(1)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	subs, ok := h.subscribers[conversationID]
	if !ok {
		subs = make(map[uint64]subscriber)
		h.subscribers[conversationID] = subs
	}
	subs[id] = subscriber{id: id, ch: ch}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { h.remove(conversationID, id) })
	}
}

func (h *Hub) remove(conversationID string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[conversationID]
	if !ok {
		return
	}
	sub, ok := subs[id]
	if !ok {
		return
	}
	delete(subs, id)
	close(sub.ch)
	if len(subs) == 0 {
		delete(h.subscribers, conversationID)
	}
}

func (h *Hub) Publish(ctx context.Context, n Notification) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subscribers[n.ConversationID] {
		select {
		case sub.ch <- n:
		default:
			h.dropped.Add(1)
			h.logger.Warn("Dropping notification for slow subscriber",
				zap.String("conversation_id", n.ConversationID),
				zap.String("type", string(n.Type)))
		}
	}
	return nil
}

func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close ends every subscription
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for conversationID, subs := range h.subscribers {
		for _, sub := range subs {
			close(sub.ch)
		}
		delete(h.subscribers, conversationID)
	}
}
