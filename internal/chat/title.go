package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xaenox/agent-router/internal/llm"
	"github.com/xaenox/agent-router/internal/models"
	"github.com/xaenox/agent-router/internal/storage"
	"go.uber.org/zap"
)

const (
	titleTimeout  = 30 * time.Second
	titleMaxInput = 2000
)

const titleInstructions = "You name conversations. Reply with a title of at most six words, no quotes, no trailing punctuation."

// Titler replaces the placeholder title of a new conversation once the
// first answer is in. Later answers leave the title alone.
type Titler struct {
	responder     llm.Responder
	conversations storage.ConversationStore
	messages      storage.MessageStore
	model         string
	logger        *zap.Logger
}

func NewTitler(responder llm.Responder, conversations storage.ConversationStore, messages storage.MessageStore, model string, logger *zap.Logger) *Titler {
	return &Titler{
		responder:     responder,
		conversations: conversations,
		messages:      messages,
		model:         model,
		logger:        logger,
	}
}

func (t *Titler) GenerateTitle(ctx context.Context, conversationID, firstAnswer string) {
	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	msgs, err := t.messages.ListMessages(ctx, conversationID, 0)
	if err != nil {
		t.logger.Warn("Failed to load messages for title", zap.Error(err), zap.String("conversation_id", conversationID))
		return
	}
	var question string
	users := 0
	for _, m := range msgs {
		if m.Role == models.RoleUser {
			users++
			question = m.Content
		}
	}
	if users != 1 {
		return
	}

	resp, err := t.responder.Respond(ctx, llm.Request{
		AgentID:      "titler",
		Model:        t.model,
		Instructions: titleInstructions,
		Message:      fmt.Sprintf("Question: %s\n\nAnswer: %s", truncate(question, titleMaxInput), truncate(firstAnswer, titleMaxInput)),
	})
	if err != nil {
		t.logger.Warn("Failed to generate title", zap.Error(err), zap.String("conversation_id", conversationID))
		return
	}

	title := cleanTitle(resp.Text)
	if title == "" {
		return
	}
	if err := t.conversations.UpdateConversationTitle(ctx, conversationID, title); err != nil {
		t.logger.Warn("Failed to save title", zap.Error(err), zap.String("conversation_id", conversationID))
		return
	}
	t.logger.Debug("Conversation titled", zap.String("conversation_id", conversationID), zap.String("title", title))
}

func cleanTitle(text string) string {
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(text), "\n", 2)[0])
	line = strings.Trim(line, "\"'` ")
	line = strings.TrimRight(line, ".!?:;")
	return truncate(line, titleMaxRunes)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
