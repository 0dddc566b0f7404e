// Package server exposes the draft and exercise workflows over HTTP and a
// WebSocket event stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/optionsd/internal/domain"
	"github.com/alanyoungcy/optionsd/internal/server/handler"
	"github.com/alanyoungcy/optionsd/internal/server/middleware"
	"github.com/alanyoungcy/optionsd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Assets   *handler.AssetHandler
	Drafts   *handler.DraftHandler
	Maturity *handler.MaturityHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, wsHub, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // exercise waits for the receipt
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/assets", handlers.Assets.ListSelectable)

	// Market-creation drafts.
	mux.HandleFunc("POST /api/drafts", handlers.Drafts.Create)
	mux.HandleFunc("GET /api/drafts/{id}", handlers.Drafts.Get)
	mux.HandleFunc("PATCH /api/drafts/{id}", handlers.Drafts.Update)
	mux.HandleFunc("POST /api/drafts/{id}/submit", handlers.Drafts.Submit)
	mux.HandleFunc("DELETE /api/drafts/{id}", handlers.Drafts.Close)
	mux.HandleFunc("GET /api/creations", handlers.Drafts.ListRequests)
	mux.HandleFunc("GET /api/creations/{id}", handlers.Drafts.GetRequest)

	// Maturity exercise.
	mux.HandleFunc("GET /api/markets/{market}/maturity", handlers.Maturity.View)
	mux.HandleFunc("POST /api/markets/{market}/session", handlers.Maturity.Session)
	mux.HandleFunc("POST /api/markets/{market}/estimate", handlers.Maturity.Estimate)
	mux.HandleFunc("POST /api/markets/{market}/exercise", handlers.Maturity.Exercise)
	mux.HandleFunc("GET /api/accounts/{account}/exercises", handlers.Maturity.History)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute, logger)(h)
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
