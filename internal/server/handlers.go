package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/xaenox/agent-router/internal/chat"
	"github.com/xaenox/agent-router/internal/dispatch"
	"github.com/xaenox/agent-router/internal/models"
	"github.com/xaenox/agent-router/internal/storage"
	"go.uber.org/zap"
)

const (
	userHeader    = "X-User-ID"
	projectHeader = "X-Project-ID"
	maxBodyBytes  = 1 << 20
)

type messageRequest struct {
	Message        string              `json:"message"`
	ConversationID string              `json:"conversation_id,omitempty"`
	AgentIDs       []string            `json:"agent_ids,omitempty"`
	Attachments    []models.Attachment `json:"attachments,omitempty"`
}

type selectRequest struct {
	AgentIDs []string `json:"agent_ids"`
}

type submitResponse struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

type historyResponse struct {
	Conversation *models.Conversation `json:"conversation"`
	Messages     []*models.Message    `json:"messages"`
	Turns        []models.Turn        `json:"turns"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// caller identifies the user and project a request acts for. Authentication
// happens upstream; these headers are trusted.
type caller struct {
	userID    string
	projectID string
}

func callerFrom(w http.ResponseWriter, r *http.Request) (caller, bool) {
	c := caller{
		userID:    strings.TrimSpace(r.Header.Get(userHeader)),
		projectID: strings.TrimSpace(r.Header.Get(projectHeader)),
	}
	if c.userID == "" || c.projectID == "" {
		writeError(w, http.StatusUnauthorized, "missing "+userHeader+" or "+projectHeader)
		return caller{}, false
	}
	return c, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	c, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if !decode(w, r, &req) {
		return
	}

	events, err := s.chat.Stream(r.Context(), chat.Input{
		UserID:         c.userID,
		ProjectID:      c.projectID,
		ConversationID: req.ConversationID,
		Message:        req.Message,
		AgentIDs:       req.AgentIDs,
		Attachments:    req.Attachments,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.serveEvents(w, r, events)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	c, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req selectRequest
	if !decode(w, r, &req) {
		return
	}

	events, err := s.chat.Resume(r.Context(), chat.ResumeInput{
		UserID:         c.userID,
		ProjectID:      c.projectID,
		ConversationID: r.PathValue("id"),
		AgentIDs:       req.AgentIDs,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.serveEvents(w, r, events)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	c, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if !decode(w, r, &req) {
		return
	}

	conv, msg, err := s.chat.Submit(r.Context(), chat.Input{
		UserID:         c.userID,
		ProjectID:      c.projectID,
		ConversationID: req.ConversationID,
		Message:        req.Message,
		AgentIDs:       req.AgentIDs,
		Attachments:    req.Attachments,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{ConversationID: conv.ID, MessageID: msg.ID})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	c, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	conv, err := s.chat.Conversation(r.Context(), c.userID, c.projectID, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	msgs, turns, err := s.chat.History(r.Context(), c.userID, c.projectID, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Conversation: conv, Messages: msgs, Turns: turns})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	c, ok := callerFrom(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if _, err := s.chat.Conversation(r.Context(), c.userID, c.projectID, id); err != nil {
		s.fail(w, r, err)
		return
	}
	if s.hub == nil {
		writeError(w, http.StatusNotImplemented, "notifications are disabled")
		return
	}

	// subscribe first so nothing published after the handshake is missed
	notifications, cancel := s.hub.Subscribe(id)
	defer cancel()

	upgrader := s.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err), zap.String("conversation_id", id))
		return
	}
	defer conn.Close()

	log := s.logger.With(zap.String("conversation_id", id))
	log.Debug("Notification subscriber connected")
	s.streamNotifications(conn, notifications, log)
}

// fail maps engine errors to HTTP statuses
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, chat.ErrNoAgents):
		status, message = http.StatusUnprocessableEntity, "project has no agents"
	case errors.Is(err, dispatch.ErrUnknownAgent):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, storage.ErrNotFound):
		status, message = http.StatusNotFound, "conversation not found"
	case errors.Is(err, chat.ErrNothingPending):
		status, message = http.StatusConflict, "conversation has no unanswered message"
	case errors.Is(err, chat.ErrQueueFull):
		status, message = http.StatusServiceUnavailable, "too many queued messages, try again later"
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Error(err), zap.String("path", r.URL.Path))
	} else {
		s.logger.Debug("Request rejected", zap.Error(err), zap.String("path", r.URL.Path))
	}
	writeError(w, status, message)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "request body is empty")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
