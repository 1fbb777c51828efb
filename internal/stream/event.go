package stream

import (
	"github.com/xaenox/agent-router/internal/dispatch"
)

type EventType string

const (
	EventConversation      EventType = "conversation"
	EventAgentStarted      EventType = "agent_started"
	EventChunk             EventType = "chunk"
	EventAgentFinished     EventType = "agent_finished"
	EventAgentFailed       EventType = "agent_failed"
	EventSelectionRequired EventType = "selection_required"
	EventFatal             EventType = "fatal"
)

type ErrorKind string

const (
	ErrorStartFailed       ErrorKind = "start_failed"
	ErrorStreamFailed      ErrorKind = "stream_failed"
	ErrorPersistenceFailed ErrorKind = "persistence_failed"
)

// Event is one item of the outbound sequence. Clients key their state off
// AgentID; which other fields are set depends on Type.
type Event struct {
	Type           EventType         `json:"type"`
	ConversationID string            `json:"conversation_id,omitempty"`
	AgentID        string            `json:"agent_id,omitempty"`
	Name           string            `json:"name,omitempty"`
	Delta          string            `json:"delta,omitempty"`
	MessageID      string            `json:"message_id,omitempty"`
	Error          string            `json:"error,omitempty"`
	ErrorKind      ErrorKind         `json:"error_kind,omitempty"`
	Options        []dispatch.Option `json:"options,omitempty"`
	Reasoning      string            `json:"reasoning,omitempty"`
}

// Terminal reports whether the event ends its agent's lifecycle
func (e Event) Terminal() bool {
	return e.Type == EventAgentFinished || e.Type == EventAgentFailed
}

// Conversation opens every live stream so new conversations learn their id
func Conversation(conversationID, messageID string) Event {
	return Event{Type: EventConversation, ConversationID: conversationID, MessageID: messageID}
}

func Started(agentID, name string) Event {
	return Event{Type: EventAgentStarted, AgentID: agentID, Name: name}
}

func Chunk(agentID, delta string) Event {
	return Event{Type: EventChunk, AgentID: agentID, Delta: delta}
}

func Finished(agentID, messageID string) Event {
	return Event{Type: EventAgentFinished, AgentID: agentID, MessageID: messageID}
}

// Failed carries the id of the partial answer when one was saved
func Failed(agentID string, kind ErrorKind, message, partialMessageID string) Event {
	return Event{Type: EventAgentFailed, AgentID: agentID, ErrorKind: kind, Error: message, MessageID: partialMessageID}
}

func SelectionRequired(d dispatch.Decision) Event {
	return Event{Type: EventSelectionRequired, Options: d.Options, Reasoning: d.Reasoning}
}

func Fatal(message string) Event {
	return Event{Type: EventFatal, Error: message}
}
