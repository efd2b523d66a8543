package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/streampredict/internal/domain"
	"github.com/alanyoungcy/streampredict/internal/server/handler"
	"github.com/alanyoungcy/streampredict/internal/server/middleware"
	"github.com/alanyoungcy/streampredict/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // if empty, authentication is disabled
	RateLimit       int    // requests per RateLimitWindow per client IP; 0 disables
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Markets     *handler.MarketHandler
	Settlements *handler.SettlementHandler
	Analytics   *handler.AnalyticsHandler
}

// Server is the HTTP and WebSocket API of the market engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. limiter and wsHub
// may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, wsHub, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed and middleware-wrapped handler. It is split
// out of NewServer so tests can drive it with httptest.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Markets and bets.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/bets", handlers.Markets.ListBets)
	mux.HandleFunc("GET /api/participants/{id}/bets", handlers.Markets.ListParticipantBets)
	mux.HandleFunc("POST /api/markets/{id}/bets", handlers.Markets.PlaceBet)
	mux.HandleFunc("POST /api/markets/{id}/odds", handlers.Markets.Reprice)

	// Settlement.
	mux.HandleFunc("POST /api/markets/{id}/resolve", handlers.Settlements.Resolve)
	mux.HandleFunc("POST /api/markets/{id}/cancel", handlers.Settlements.Cancel)
	mux.HandleFunc("GET /api/markets/{id}/settlement", handlers.Settlements.GetSettlement)

	// Analytics.
	mux.HandleFunc("GET /api/markets/{id}/volatility", handlers.Analytics.Volatility)
	mux.HandleFunc("GET /api/markets/{id}/prediction", handlers.Analytics.Prediction)
	mux.HandleFunc("GET /api/creators/{id}/analytics", handlers.Analytics.Creator)
	mux.HandleFunc("GET /api/leaderboard", handlers.Analytics.Leaderboard)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateLimitWindow, logger)(h)
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
