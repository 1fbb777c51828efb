package models

// Turn groups one user message with the assistant messages that answer it.
// Turns are derived from the message sequence and never stored.
//
// An Orphaned turn has no User message: it holds assistant messages that
// appear before the first user message of the conversation.
type Turn struct {
	User     *Message   `json:"user,omitempty"`
	Replies  []*Message `json:"replies"`
	Orphaned bool       `json:"orphaned,omitempty"`
}

// Agents returns the agent ids that replied in this turn, in reply order
func (t Turn) Agents() []string {
	ids := make([]string, 0, len(t.Replies))
	for _, r := range t.Replies {
		if id := r.RespondedBy(); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Pending reports whether the turn has a user message nobody answered yet
func (t Turn) Pending() bool {
	return !t.Orphaned && t.User != nil && len(t.Replies) == 0
}

// GroupIntoTurns partitions msgs, already in creation order, into turns.
// It does not modify msgs and returns the same result for the same input.
func GroupIntoTurns(msgs []*Message) []Turn {
	turns := make([]Turn, 0)
	current := -1

	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == RoleUser {
			turns = append(turns, Turn{User: m, Replies: []*Message{}})
			current = len(turns) - 1
			continue
		}
		if current < 0 {
			turns = append(turns, Turn{Orphaned: true, Replies: []*Message{}})
			current = len(turns) - 1
		}
		turns[current].Replies = append(turns[current].Replies, m)
	}

	return turns
}

// LastTurn returns the final turn of msgs
func LastTurn(msgs []*Message) (Turn, bool) {
	turns := GroupIntoTurns(msgs)
	if len(turns) == 0 {
		return Turn{}, false
	}
	return turns[len(turns)-1], true
}

// LastRespondingAgent returns the agent of the most recent assistant message
// that has one, scanning backwards.
func LastRespondingAgent(msgs []*Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i] == nil {
			continue
		}
		if id := msgs[i].RespondedBy(); id != "" {
			return id
		}
	}
	return ""
}
