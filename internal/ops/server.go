// Package ops exposes a read-only operational surface for the running
// pipeline: a health probe, a JSON snapshot of every supervised trade, and a
// WebSocket tap that streams trade events as they happen.
package ops

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/yalvarez/trading-platform/internal/config"
	"github.com/yalvarez/trading-platform/pkg/types"
)

// Server runs the HTTP/WebSocket ops endpoint
type Server struct {
	cfg      config.OpsConfig
	provider StatusProvider
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates a new ops server
func NewServer(cfg config.OpsConfig, provider StatusProvider, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(provider, cfg, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		provider: provider,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "ops-server"),
	}
}

// Start runs the ops server. Blocks until the server exits.
func (s *Server) Start() error {
	s.logger.Info("ops server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ops server error: %w", err)
	}

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.logger.Info("stopping ops server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Broadcast pushes a trade event to every connected WebSocket client
func (s *Server) Broadcast(ev types.TradeEvent) {
	s.hub.BroadcastEvent(NewTradeEvent(ev))
}
