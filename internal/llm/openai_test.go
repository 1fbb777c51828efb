package llm

import (
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/agent-router/internal/models"
)

func TestBuildMessages_LabelsOtherAgents(t *testing.T) {
	dba, arch := "dba", "architect"
	req := Request{
		AgentID:      "dba",
		Instructions: "You are a DBA.",
		History: []*models.Message{
			{Role: models.RoleUser, Content: "Which database?"},
			{Role: models.RoleAssistant, AgentID: &arch, AuthorLabel: "Architect", Content: "Depends."},
			{Role: models.RoleAssistant, AgentID: &dba, AuthorLabel: "DBA", Content: "Postgres."},
			{Role: models.RoleAssistant, Content: ""},
		},
		Message: "Why?",
	}

	msgs := buildMessages(req)
	require.Len(t, msgs, 5)
	assert.Equal(t, openai.ChatMessageRoleSystem, msgs[0].Role)
	assert.Equal(t, "[Architect] Depends.", msgs[2].Content)
	assert.Equal(t, "Postgres.", msgs[3].Content)
	assert.Equal(t, "Why?", msgs[4].Content)
}

func TestUserMessage_Attachments(t *testing.T) {
	msg := userMessage("look", []models.Attachment{
		{Filename: "erd.png", URL: "https://files/erd.png", MediaType: "image/png"},
		{Filename: "design.pdf", URL: "https://files/design.pdf", MediaType: "application/pdf"},
	})

	assert.Empty(t, msg.Content)
	require.Len(t, msg.MultiContent, 3)
	assert.Equal(t, openai.ChatMessagePartTypeImageURL, msg.MultiContent[1].Type)
	assert.Equal(t, "https://files/erd.png", msg.MultiContent[1].ImageURL.URL)
	assert.Contains(t, msg.MultiContent[2].Text, "design.pdf")
}
