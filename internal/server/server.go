// Package server exposes the engine's operator API: health, performance,
// trades, transactions, risk configuration and a live event stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/server/handler"
	"github.com/alanyoungcy/arbengine/internal/server/middleware"
	"github.com/alanyoungcy/arbengine/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimit is requests per minute per client IP; 0 disables limiting.
	RateLimit int
}

// Handlers aggregates the HTTP handlers the server registers. Metrics and
// Hub are optional.
type Handlers struct {
	Health       *handler.HealthHandler
	Trades       *handler.TradeHandler
	Transactions *handler.TransactionHandler
	Engine       *handler.EngineHandler
	Risk         *handler.RiskHandler
	Metrics      http.Handler
	Hub          *ws.Hub
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain
// (rate limit, auth, logging, CORS; outermost last). limiter may be nil.
func NewServer(cfg Config, h Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      Routes(cfg, h, limiter, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Routes builds the complete handler. It is exported for tests.
func Routes(cfg Config, h Handlers, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	mux.HandleFunc("GET /api/performance", h.Trades.Performance)
	mux.HandleFunc("GET /api/trades", h.Trades.ListRecent)
	mux.HandleFunc("GET /api/trades/in-flight", h.Engine.ListInFlight)
	mux.HandleFunc("GET /api/trades/{id}", h.Trades.GetTrade)
	mux.HandleFunc("POST /api/trades/{id}/abort", h.Engine.Abort)
	mux.HandleFunc("GET /api/trades/{id}/transactions", h.Transactions.ListByTrade)

	mux.HandleFunc("GET /api/transactions/{id}", h.Transactions.GetTransaction)

	mux.HandleFunc("GET /api/candidates", h.Engine.ListCandidates)
	mux.HandleFunc("GET /api/scorer", h.Engine.GetScorer)
	mux.HandleFunc("PUT /api/scorer", h.Engine.SetScorer)

	mux.HandleFunc("GET /api/risk/config", h.Risk.GetConfig)
	mux.HandleFunc("PUT /api/risk/config", h.Risk.UpdateConfig)

	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	if h.Hub != nil {
		mux.HandleFunc("GET /ws", h.Hub.HandleWS)
	}

	var root http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		root = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute, logger)(root)
	}
	root = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(root)
	root = middleware.Logging(logger)(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)
	return root
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.logger.Info("server: starting", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return ctx.Err()
}
