// Package server is the HTTP and WebSocket API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/updown/internal/domain"
	"github.com/alanyoungcy/updown/internal/server/handler"
	"github.com/alanyoungcy/updown/internal/server/middleware"
	"github.com/alanyoungcy/updown/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// AdminKey guards /api/admin. Empty disables the admin routes.
	AdminKey        string
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates the route handlers. Chain, Hub and Metrics are
// optional.
type Handlers struct {
	Health  *handler.HealthHandler
	Market  *handler.MarketHandler
	Rounds  *handler.RoundHandler
	Bets    *handler.BetHandler
	Agents  *handler.AgentHandler
	Admin   *handler.AdminHandler
	Chain   *handler.ChainHandler
	Hub     *ws.Hub
	Metrics http.Handler
}

// Deps are the cross-cutting collaborators of the middleware chain.
// Limiter and Events may be nil.
type Deps struct {
	Auth    middleware.Authenticator
	Limiter domain.RateLimiter
	Events  middleware.EventCounter
}

// Server is the API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in logging, CORS and
// rate limiting.
func NewServer(cfg Config, h Handlers, deps Deps, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, h, deps, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed handler without a listener.
func NewHandler(cfg Config, h Handlers, deps Deps, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	agent := middleware.AgentAuth(deps.Auth)
	admin := middleware.AdminKey(cfg.AdminKey)

	// Public.
	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/market", h.Market.GetMarket)
	mux.HandleFunc("GET /api/rounds", h.Rounds.ListRounds)
	mux.HandleFunc("GET /api/rounds/{id}", h.Rounds.GetRound)
	mux.HandleFunc("GET /api/rounds/{id}/receipt", h.Rounds.Receipt)
	mux.HandleFunc("GET /api/receipts", h.Rounds.Receipts)
	mux.HandleFunc("GET /api/leaderboard", h.Agents.Leaderboard)
	mux.HandleFunc("POST /api/agents", h.Agents.Register)
	if h.Hub != nil {
		mux.HandleFunc("GET /ws", h.Hub.HandleWS)
	}
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}

	// Agent.
	mux.Handle("GET /api/agents/me", agent(http.HandlerFunc(h.Agents.Me)))
	mux.Handle("POST /api/bets", agent(http.HandlerFunc(h.Bets.PlaceBet)))
	mux.Handle("GET /api/bets/today", agent(http.HandlerFunc(h.Bets.Today)))
	mux.Handle("GET /api/bets/history", agent(http.HandlerFunc(h.Bets.History)))
	mux.Handle("GET /api/rounds/{id}/payout", agent(http.HandlerFunc(h.Rounds.Payout)))

	// Admin.
	mux.Handle("POST /api/admin/rounds", admin(http.HandlerFunc(h.Admin.OpenRound)))
	mux.Handle("POST /api/admin/rounds/{id}/settle", admin(http.HandlerFunc(h.Admin.Settle)))
	mux.Handle("POST /api/admin/rounds/{id}/refund", admin(http.HandlerFunc(h.Admin.Refund)))
	mux.Handle("POST /api/admin/rounds/{id}/claim-fee", admin(http.HandlerFunc(h.Admin.ClaimFee)))
	mux.Handle("POST /api/admin/bets", admin(http.HandlerFunc(h.Admin.BetFor)))
	mux.Handle("POST /api/admin/price", admin(http.HandlerFunc(h.Admin.PushPrice)))
	mux.Handle("POST /api/admin/paused", admin(http.HandlerFunc(h.Admin.SetPaused)))
	mux.Handle("GET /api/admin/audit", admin(http.HandlerFunc(h.Admin.Audit)))

	if h.Chain != nil {
		mux.HandleFunc("GET /api/chain/pool", h.Chain.Pool)
		mux.HandleFunc("GET /api/chain/rounds/{id}/bets/{address}", h.Chain.AgentBet)
		mux.Handle("POST /api/admin/chain/claim-batch", admin(http.HandlerFunc(h.Chain.ClaimBatch)))
		mux.Handle("POST /api/admin/chain/claim-fee", admin(http.HandlerFunc(h.Chain.ClaimFee)))
		mux.Handle("POST /api/admin/chain/bets", admin(http.HandlerFunc(h.Chain.BetFor)))
	}

	var out http.Handler = mux
	if deps.Limiter != nil && cfg.RateLimit > 0 {
		out = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateLimitWindow, logger)(out)
	}
	if deps.Events != nil {
		out = middleware.Analytics(deps.Events)(out)
	}
	out = middleware.Logging(logger)(out)
	return middleware.CORS(cfg.CORSOrigins)(out)
}

// Start blocks until the server stops. A graceful shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
