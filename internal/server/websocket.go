package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xaenox/agent-router/internal/notify"
	"go.uber.org/zap"
)

const (
	wsBufferSize   = 1024
	wsWriteTimeout = 10 * time.Second
)

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  wsBufferSize,
		WriteBufferSize: wsBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r, s.cfg.AllowedOrigins)
		},
	}
}

// originAllowed accepts same-host requests and any configured origin
func originAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// streamNotifications writes notifications to conn until the subscription
// ends or the client goes away.
func (s *Server) streamNotifications(conn *websocket.Conn, notifications <-chan notify.Notification, log *zap.Logger) {
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case n, ok := <-notifications:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
			if err := conn.WriteJSON(n); err != nil {
				log.Debug("Websocket write failed", zap.Error(err))
				return
			}
		}
	}
}
