// Package server assembles the HTTP + WebSocket API of the ecovest service.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/ecovest/internal/domain"
	"github.com/alanyoungcy/ecovest/internal/server/handler"
	"github.com/alanyoungcy/ecovest/internal/server/middleware"
	"github.com/alanyoungcy/ecovest/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimiter guards the projection endpoint when set.
	RateLimiter domain.RateLimiter
	RateLimit   int
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Positions and Audit may be nil.
type Handlers struct {
	Health      *handler.HealthHandler
	Status      *handler.StatusHandler
	Projections *handler.ProjectionHandler
	Settlement  *handler.SettlementHandler
	Positions   *handler.PositionHandler
	Audit       *handler.AuditHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limit) and attaches the
// WebSocket hub when one is given.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http_server"))
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Projections are public previews, so they are rate limited instead.
	var project http.Handler = http.HandlerFunc(handlers.Projections.Project)
	if cfg.RateLimiter != nil && cfg.RateLimit > 0 {
		project = middleware.RateLimit(cfg.RateLimiter, "projections", cfg.RateLimit, cfg.RateWindow, logger)(project)
	}
	mux.Handle("POST /api/projections", project)

	// Settlement operator endpoints.
	mux.HandleFunc("POST /api/settlement/trigger", handlers.Settlement.Trigger)
	mux.HandleFunc("GET /api/settlement/runs", handlers.Settlement.ListRuns)

	// Position endpoints.
	if handlers.Positions != nil {
		mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
		mux.HandleFunc("POST /api/positions", handlers.Positions.Invest)
		mux.HandleFunc("POST /api/positions/{id}/topup", handlers.Positions.TopUp)
		mux.HandleFunc("POST /api/positions/{id}/sell", handlers.Positions.Sell)
	}

	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.List)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health", "/api/projections")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{httpServer: srv, logger: logger}
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
