package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(id string, role Role, agent string) *Message {
	m := &Message{ID: id, Role: role, Content: id}
	if agent != "" {
		m.AgentID = &agent
	}
	return m
}

func TestGroupIntoTurns_Basic(t *testing.T) {
	msgs := []*Message{
		msg("u1", RoleUser, ""),
		msg("a1", RoleAssistant, "dba"),
		msg("a2", RoleAssistant, "architect"),
		msg("u2", RoleUser, ""),
		msg("a3", RoleAssistant, "dba"),
		msg("u3", RoleUser, ""),
	}

	turns := GroupIntoTurns(msgs)
	require.Len(t, turns, 3)

	assert.Equal(t, "u1", turns[0].User.ID)
	assert.Equal(t, []string{"dba", "architect"}, turns[0].Agents())
	assert.Equal(t, "u2", turns[1].User.ID)
	assert.Len(t, turns[1].Replies, 1)
	assert.True(t, turns[2].Pending())
	assert.False(t, turns[0].Pending())
}

func TestGroupIntoTurns_OrphanedAssistantMessages(t *testing.T) {
	msgs := []*Message{
		msg("a0", RoleAssistant, "pm"),
		msg("a1", RoleAssistant, ""),
		msg("u1", RoleUser, ""),
		msg("a2", RoleAssistant, "pm"),
	}

	turns := GroupIntoTurns(msgs)
	require.Len(t, turns, 2)

	assert.True(t, turns[0].Orphaned)
	assert.Nil(t, turns[0].User)
	assert.Len(t, turns[0].Replies, 2)
	assert.False(t, turns[0].Pending())
	assert.Equal(t, "u1", turns[1].User.ID)
}

func TestGroupIntoTurns_PartitionsExactly(t *testing.T) {
	msgs := []*Message{
		msg("a0", RoleAssistant, "pm"),
		msg("u1", RoleUser, ""),
		msg("a1", RoleAssistant, "dba"),
		msg("u2", RoleUser, ""),
		msg("u3", RoleUser, ""),
		msg("a2", RoleAssistant, "dba"),
		msg("a3", RoleAssistant, "pm"),
	}

	var flattened []string
	for _, turn := range GroupIntoTurns(msgs) {
		if turn.User != nil {
			flattened = append(flattened, turn.User.ID)
		}
		for _, r := range turn.Replies {
			flattened = append(flattened, r.ID)
		}
	}

	var want []string
	for _, m := range msgs {
		want = append(want, m.ID)
	}
	assert.Equal(t, want, flattened)
}

func TestGroupIntoTurns_Idempotent(t *testing.T) {
	msgs := []*Message{
		msg("u1", RoleUser, ""),
		msg("a1", RoleAssistant, "dba"),
		msg("u2", RoleUser, ""),
	}

	first := GroupIntoTurns(msgs)
	second := GroupIntoTurns(msgs)
	assert.Equal(t, first, second)
	assert.Equal(t, "u1", msgs[0].ID, "input must not be reordered")
}

func TestGroupIntoTurns_Empty(t *testing.T) {
	assert.Empty(t, GroupIntoTurns(nil))

	_, ok := LastTurn(nil)
	assert.False(t, ok)
}

func TestLastRespondingAgent(t *testing.T) {
	msgs := []*Message{
		msg("u1", RoleUser, ""),
		msg("a1", RoleAssistant, "architect"),
		msg("u2", RoleUser, ""),
		msg("a2", RoleAssistant, ""),
	}
	assert.Equal(t, "architect", LastRespondingAgent(msgs))
	assert.Equal(t, "", LastRespondingAgent(msgs[:1]))
}

func TestAgentProfile_RoutingKey(t *testing.T) {
	dba := AgentProfile{Kind: KindDBA, Name: "Database Guru"}
	custom := AgentProfile{Kind: KindCustom, Name: "Security Reviewer"}

	assert.Equal(t, "dba", dba.RoutingKey())
	assert.Equal(t, "securityreviewer", custom.RoutingKey())
	assert.Equal(t, NormalizeKey("security-reviewer"), custom.RoutingKey())
}
