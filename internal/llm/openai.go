package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/agent-router/internal/models"
	"go.uber.org/zap"
)

const maxToolRounds = 5

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// OpenAIResponder answers through the Chat Completions API
type OpenAIResponder struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

func NewOpenAIResponder(cfg OpenAIConfig, logger *zap.Logger) *OpenAIResponder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIResponder{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger,
	}
}

func (r *OpenAIResponder) Stream(ctx context.Context, req Request) (TokenStream, error) {
	chatReq := r.buildRequest(req)
	chatReq.Stream = true

	stream, err := r.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		r.logger.Error("Failed to open completion stream",
			zap.Error(err),
			zap.String("agent_id", req.AgentID),
			zap.String("model", chatReq.Model))
		return nil, err
	}
	return &openAIStream{stream: stream}, nil
}

// Respond runs a non-streaming completion. When the agent has tools, tool
// calls requested by the model are executed and fed back until the model
// answers with text or maxToolRounds is reached.
func (r *OpenAIResponder) Respond(ctx context.Context, req Request) (*Response, error) {
	chatReq := r.buildRequest(req)

	var (
		calls   []openai.ToolCall
		results []toolResult
		usage   models.Usage
	)

	for round := 0; ; round++ {
		resp, err := r.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			r.logger.Error("Failed to get completion",
				zap.Error(err),
				zap.String("agent_id", req.AgentID),
				zap.String("model", chatReq.Model))
			return nil, err
		}
		usage.PromptTokens += resp.Usage.PromptTokens
		usage.CompletionTokens += resp.Usage.CompletionTokens
		usage.TotalTokens += resp.Usage.TotalTokens

		if len(resp.Choices) == 0 {
			return nil, errors.New("completion returned no choices")
		}
		choice := resp.Choices[0]

		if len(choice.Message.ToolCalls) == 0 || req.Tools == nil {
			out := &Response{
				Text:  strings.TrimSpace(choice.Message.Content),
				Usage: &usage,
			}
			if len(calls) > 0 {
				out.ToolCalls, _ = json.Marshal(calls)
				out.ToolResults, _ = json.Marshal(results)
			}
			return out, nil
		}
		if round >= maxToolRounds {
			return nil, fmt.Errorf("model kept calling tools after %d rounds", maxToolRounds)
		}

		chatReq.Messages = append(chatReq.Messages, choice.Message)
		for _, call := range choice.Message.ToolCalls {
			calls = append(calls, call)
			output, err := req.Tools.Execute(ctx, call.Function.Name, call.Function.Arguments)
			if err != nil {
				output = "error: " + err.Error()
			}
			results = append(results, toolResult{ToolCallID: call.ID, Name: call.Function.Name, Output: output})
			chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    output,
				ToolCallID: call.ID,
			})
		}
	}
}

type toolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Output     string `json:"output"`
}

func (r *OpenAIResponder) buildRequest(req Request) openai.ChatCompletionRequest {
	model := r.model
	if req.Model != "" {
		model = req.Model
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    buildMessages(req),
		MaxTokens:   r.maxTokens,
		Temperature: float32(r.temperature),
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	if req.Tools != nil {
		for _, def := range req.Tools.Definitions() {
			chatReq.Tools = append(chatReq.Tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        string(def.Name),
					Description: def.Description,
					Parameters:  def.Parameters,
				},
			})
		}
	}
	return chatReq
}

func buildMessages(req Request) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.Instructions != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.Instructions,
		})
	}

	for _, m := range req.History {
		if m == nil || m.Content == "" {
			continue
		}
		switch m.Role {
		case models.RoleUser:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: m.Content,
			})
		case models.RoleAssistant:
			content := m.Content
			// Other agents' answers are labelled so the model can tell voices apart
			if m.AuthorLabel != "" && m.RespondedBy() != req.AgentID {
				content = fmt.Sprintf("[%s] %s", m.AuthorLabel, content)
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: content,
			})
		}
	}

	messages = append(messages, userMessage(req.Message, req.Attachments))
	return messages
}

func userMessage(text string, attachments []models.Attachment) openai.ChatCompletionMessage {
	if len(attachments) == 0 {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text}
	}

	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: text}}
	for _, a := range attachments {
		if strings.HasPrefix(a.MediaType, "image/") {
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: a.URL},
			})
			continue
		}
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: fmt.Sprintf("Attached file %s (%s): %s", a.Filename, a.MediaType, a.URL),
		})
	}
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts}
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
}

// Recv skips role-only and empty deltas
func (s *openAIStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}
