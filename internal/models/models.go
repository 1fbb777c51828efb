package models

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	// FlagHidden marks a message that is kept in history but not shown to the user
	FlagHidden = "hidden"
	// FlagPartial marks an answer saved after its agent failed mid-response
	FlagPartial = "partial"
)

// Attachment is a file reference carried by a message. The file itself lives
// in external storage.
type Attachment struct {
	Filename  string `json:"filename"`
	URL       string `json:"url"`
	MediaType string `json:"media_type"`
}

// Usage holds token accounting reported by the model for one response
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Message is one entry of a conversation. It is immutable once appended,
// apart from soft deletion.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Role           Role            `json:"role"`
	AgentID        *string         `json:"agent_id,omitempty"`
	AuthorLabel    string          `json:"author_label,omitempty"`
	Content        string          `json:"content"`
	Attachments    []Attachment    `json:"attachments,omitempty"`
	ToolCalls      json.RawMessage `json:"tool_calls,omitempty"`
	ToolResults    json.RawMessage `json:"tool_results,omitempty"`
	Usage          *Usage          `json:"usage,omitempty"`
	Flags          []string        `json:"flags,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	DeletedAt      *time.Time      `json:"deleted_at,omitempty"`
}

func (m *Message) HasFlag(flag string) bool {
	for _, f := range m.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// RespondedBy returns the agent id of an assistant message, or "" for user
// messages and assistant messages without an agent.
func (m *Message) RespondedBy() string {
	if m.Role != RoleAssistant || m.AgentID == nil {
		return ""
	}
	return *m.AgentID
}

// Conversation owns an ordered sequence of messages
type Conversation struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	UserID       string    `json:"user_id"`
	Title        string    `json:"title"`
	LinkedTaskID *string   `json:"linked_task_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
