// Package llm is the boundary to the language model. Agents and the router
// only see Responder: a streaming call yielding text increments and a
// non-streaming call returning the whole answer.
package llm

import (
	"context"
	"encoding/json"

	"github.com/xaenox/agent-router/internal/models"
	"github.com/xaenox/agent-router/internal/tools"
)

// ToolExecutor is the set of tools an agent may call while answering
type ToolExecutor interface {
	Definitions() []tools.Definition
	Execute(ctx context.Context, name string, arguments string) (string, error)
}

type Request struct {
	AgentID      string
	Model        string
	Instructions string
	History      []*models.Message
	Message      string
	Attachments  []models.Attachment
	Tools        ToolExecutor
	// JSON asks the model for a single JSON object
	JSON bool
}

type Response struct {
	Text        string
	Usage       *models.Usage
	ToolCalls   json.RawMessage
	ToolResults json.RawMessage
}

// TokenStream yields text increments. Recv returns io.EOF once the answer is
// complete. Streams are finite and cannot be restarted.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

type Responder interface {
	Stream(ctx context.Context, req Request) (TokenStream, error)
	Respond(ctx context.Context, req Request) (*Response, error)
}
