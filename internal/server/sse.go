package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xaenox/agent-router/internal/stream"
	"go.uber.org/zap"
)

const defaultHeartbeat = 15 * time.Second

var errNoFlusher = errors.New("response writer does not support flushing")

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func startSSE(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errNoFlusher
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-store")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) comment(text string) error {
	if _, err := io.WriteString(s.w, ": "+strings.TrimSpace(text)+"\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) event(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if name != "" {
		buf.WriteString("event: " + name + "\n")
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")

	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// serveEvents writes events until the channel closes or the client leaves.
// The producer side is cancelled through the request context.
func (s *Server) serveEvents(w http.ResponseWriter, r *http.Request, events <-chan stream.Event) {
	sse, err := startSSE(w)
	if err != nil {
		s.logger.Error("SSE unavailable", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	heartbeat := s.cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := sse.comment("ping"); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sse.event(string(ev.Type), ev); err != nil {
				return
			}
		}
	}
}
