package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/agent-router/internal/dispatch"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func receive(t *testing.T, ch <-chan Notification) Notification {
	t.Helper()
	select {
	case n, ok := <-ch:
		require.True(t, ok, "channel closed")
		return n
	case <-time.After(time.Second):
		t.Fatal("no notification received")
		return Notification{}
	}
}

func TestHub_DeliversByConversation(t *testing.T) {
	hub := NewHub(4, zaptest.NewLogger(t))
	first, cancelFirst := hub.Subscribe("c1")
	defer cancelFirst()
	other, cancelOther := hub.Subscribe("c2")
	defer cancelOther()

	require.NoError(t, hub.Publish(context.Background(), Notification{Type: AgentsProcessing, ConversationID: "c1", Agents: []string{"arch"}}))

	n := receive(t, first)
	assert.Equal(t, AgentsProcessing, n.Type)
	assert.Equal(t, []string{"arch"}, n.Agents)

	select {
	case <-other:
		t.Fatal("notification leaked to another conversation")
	default:
	}
}

func TestHub_DropsWhenSubscriberIsFull(t *testing.T) {
	hub := NewHub(1, zap.NewNop())
	ch, cancel := hub.Subscribe("c1")
	defer cancel()

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, Notification{Type: MessageReceived, ConversationID: "c1", Message: "one"}))
	require.NoError(t, hub.Publish(ctx, Notification{Type: MessageReceived, ConversationID: "c1", Message: "two"}))

	assert.Equal(t, "one", receive(t, ch).Message)
	assert.Equal(t, int64(1), hub.Dropped())
}

func TestHub_CancelClosesChannel(t *testing.T) {
	hub := NewHub(1, zap.NewNop())
	ch, cancel := hub.Subscribe("c1")
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	require.NoError(t, hub.Publish(context.Background(), Notification{ConversationID: "c1"}))
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(1, zap.NewNop())
	ch, cancel := hub.Subscribe("c1")
	hub.Close()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := hub.Subscribe("c1")
	_, ok = <-late
	assert.False(t, ok)
}

type recordingPublisher struct {
	got []Notification
	err error
}

func (r *recordingPublisher) Publish(ctx context.Context, n Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func TestMulti_TriesEveryPublisher(t *testing.T) {
	failing := &recordingPublisher{err: errors.New("down")}
	ok := &recordingPublisher{}

	err := Multi{failing, ok}.Publish(context.Background(), Notification{Type: RoutingFailed})
	require.Error(t, err)
	assert.Len(t, failing.got, 1)
	assert.Len(t, ok.got, 1)
}

func TestSend_StampsTime(t *testing.T) {
	rec := &recordingPublisher{}
	Send(context.Background(), rec, Notification{Type: AgentFailed}, zap.NewNop())
	require.Len(t, rec.got, 1)
	assert.False(t, rec.got[0].At.IsZero())

	Send(context.Background(), nil, Notification{Type: AgentFailed}, zap.NewNop())
}

type fakeSender struct {
	sent []tgbotapi.Chattable
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, f.err
}

func TestTelegramPublisher_FormatsSelection(t *testing.T) {
	sender := &fakeSender{}
	pub := NewTelegramPublisherWithSender(sender, 42, zaptest.NewLogger(t))

	err := pub.Publish(context.Background(), Notification{
		Type:           SelectionRequired,
		ConversationID: "c-1",
		Options: []dispatch.Option{
			{AgentID: "arch", DisplayName: "Architect", Confidence: 0.62},
		},
		Reasoning: "Unclear domain.",
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)

	msg, ok := sender.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Equal(t, "MarkdownV2", msg.ParseMode)
	assert.Contains(t, msg.Text, "*Pick an agent*")
	assert.Contains(t, msg.Text, "c\\-1")
	assert.Contains(t, msg.Text, "Architect \\(0\\.62\\)")
	assert.Contains(t, msg.Text, "_Unclear domain\\._")
}

func TestTelegramPublisher_SendError(t *testing.T) {
	sender := &fakeSender{err: errors.New("forbidden")}
	pub := NewTelegramPublisherWithSender(sender, 42, zap.NewNop())

	err := pub.Publish(context.Background(), Notification{Type: RoutingFailed, ConversationID: "c1"})
	require.Error(t, err)
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, "a\\_b\\.c\\!", escapeMarkdown("a_b.c!"))
	assert.Equal(t, "x\\\\y", escapeMarkdown("x\\y"))
}

type blockingPublisher struct {
	release chan struct{}
	got     chan Notification
}

func (b *blockingPublisher) Publish(ctx context.Context, n Notification) error {
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.got <- n
	return nil
}

func TestAsync_PublishDoesNotWaitForDelivery(t *testing.T) {
	slow := &blockingPublisher{release: make(chan struct{}), got: make(chan Notification, 4)}
	async := NewAsync(slow, 4, time.Minute, zaptest.NewLogger(t))

	start := time.Now()
	require.NoError(t, async.Publish(context.Background(), Notification{Type: AgentsProcessing}))
	require.NoError(t, async.Publish(context.Background(), Notification{Type: MessageReceived}))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(slow.release)
	assert.Equal(t, AgentsProcessing, receive(t, slow.got).Type)
	assert.Equal(t, MessageReceived, receive(t, slow.got).Type)
	async.Close()
}

func TestAsync_DropsWhenQueueIsFull(t *testing.T) {
	slow := &blockingPublisher{release: make(chan struct{}), got: make(chan Notification, 8)}
	async := NewAsync(slow, 1, time.Minute, zap.NewNop())

	// the first one may already be held by the delivery goroutine
	var errs []error
	for i := 0; i < 4; i++ {
		errs = append(errs, async.Publish(context.Background(), Notification{Type: AgentFailed}))
	}
	assert.ErrorIs(t, errs[len(errs)-1], ErrQueueFull)
	assert.Positive(t, async.Dropped())

	close(slow.release)
	async.Close()
	assert.ErrorIs(t, async.Publish(context.Background(), Notification{}), ErrClosed)
}

func TestAsync_DeliveryTimesOut(t *testing.T) {
	slow := &blockingPublisher{release: make(chan struct{}), got: make(chan Notification, 1)}
	async := NewAsync(slow, 1, 20*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, async.Publish(ctx, Notification{Type: RoutingFailed}))
	cancel()

	done := make(chan struct{})
	go func() {
		async.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("close did not return after the send timeout")
	}
	assert.Empty(t, slow.got)
}
