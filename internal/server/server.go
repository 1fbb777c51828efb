// Package server exposes the chat engine over HTTP: server-sent events for
// live answers, JSON for background submissions and history, and a
// websocket for notifications.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/xaenox/agent-router/internal/chat"
	"github.com/xaenox/agent-router/internal/notify"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

type Config struct {
	Addr            string
	RateLimitPerMin int
	RateBurst       int
	Heartbeat       time.Duration
	AllowedOrigins  []string
}

type Server struct {
	chat    *chat.Service
	hub     *notify.Hub
	cfg     Config
	handler http.Handler
	logger  *zap.Logger
}

// New builds the routes. ctx bounds background goroutines of the middleware.
func New(ctx context.Context, svc *chat.Service, hub *notify.Hub, cfg Config, logger *zap.Logger) *Server {
	s := &Server{chat: svc, hub: hub, cfg: cfg, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /conversations/stream", s.handleStream)
	mux.HandleFunc("POST /conversations/messages", s.handleSubmit)
	mux.HandleFunc("POST /conversations/{id}/select", s.handleSelect)
	mux.HandleFunc("GET /conversations/{id}/messages", s.handleMessages)
	mux.HandleFunc("GET /conversations/{id}/events", s.handleEvents)

	middlewares := []func(http.Handler) http.Handler{WithRequestLogging(logger)}
	if cfg.RateLimitPerMin > 0 {
		middlewares = append(middlewares, RateLimit(ctx, cfg.RateLimitPerMin, cfg.RateBurst, logger))
	}

	s.handler = chainMiddlewares(mux, middlewares...)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is done and then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
