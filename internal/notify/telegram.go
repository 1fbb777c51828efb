package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Sender is the part of the bot API used to post messages
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramPublisher posts a short summary of every notification to one chat
const telegramTimeout = 10 * time.Second

type TelegramPublisher struct {
	api    Sender
	chatID int64
	logger *zap.Logger
}

func NewTelegramPublisher(token string, chatID int64, logger *zap.Logger) (*TelegramPublisher, error) {
	client := &http.Client{Timeout: telegramTimeout}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return NewTelegramPublisherWithSender(api, chatID, logger), nil
}

func NewTelegramPublisherWithSender(api Sender, chatID int64, logger *zap.Logger) *TelegramPublisher {
	return &TelegramPublisher{api: api, chatID: chatID, logger: logger}
}

func (t *TelegramPublisher) Publish(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(t.chatID, formatNotification(n))
	msg.ParseMode = "MarkdownV2"

	if _, err := t.api.Send(msg); err != nil {
		t.logger.Error("Failed to send notification",
			zap.Error(err),
			zap.Int64("chat_id", t.chatID),
			zap.String("conversation_id", n.ConversationID))
		return fmt.Errorf("send telegram notification: %w", err)
	}
	return nil
}

func formatNotification(n Notification) string {
	text := fmt.Sprintf("*%s*\n", escapeMarkdown(headline(n.Type)))
	text += fmt.Sprintf("Conversation: %s\n", escapeMarkdown(n.ConversationID))

	switch n.Type {
	case AgentsProcessing:
		text += fmt.Sprintf("Agents: %s\n", escapeMarkdown(strings.Join(n.Agents, ", ")))
	case MessageReceived:
		text += fmt.Sprintf("From: %s\n", escapeMarkdown(n.AgentID))
		if n.Message != "" {
			text += fmt.Sprintf("\n_%s_", escapeMarkdown(preview(n.Message, 300)))
		}
	case AgentFailed:
		text += fmt.Sprintf("Agent: %s\n", escapeMarkdown(n.AgentID))
		text += fmt.Sprintf("Error: %s\n", escapeMarkdown(n.Error))
	case SelectionRequired:
		opts := make([]string, 0, len(n.Options))
		for _, o := range n.Options {
			opts = append(opts, fmt.Sprintf("%s (%.2f)", o.DisplayName, o.Confidence))
		}
		text += fmt.Sprintf("Options: %s\n", escapeMarkdown(strings.Join(opts, ", ")))
		if n.Reasoning != "" {
			text += fmt.Sprintf("\n_%s_", escapeMarkdown(n.Reasoning))
		}
	case RoutingFailed:
		text += fmt.Sprintf("Error: %s\n", escapeMarkdown(n.Error))
	}
	return text
}

func headline(t Type) string {
	switch t {
	case AgentsProcessing:
		return "Agents are working"
	case MessageReceived:
		return "New answer"
	case AgentFailed:
		return "Agent failed"
	case SelectionRequired:
		return "Pick an agent"
	case RoutingFailed:
		return "Routing failed"
	default:
		return string(t)
	}
}

func preview(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

// escapeMarkdown escapes the characters MarkdownV2 reserves
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}
