// Package server exposes the prediction engine over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hyperpredict/predictd/internal/server/handler"
	"github.com/hyperpredict/predictd/internal/server/middleware"
	"github.com/hyperpredict/predictd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	Auth        middleware.AuthConfig

	// RateLimit is requests per client per RateWindow; zero disables the
	// limiter even when a RateLimiter is wired.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Instances *handler.InstanceHandler
	Rounds    *handler.RoundHandler
	Bets      *handler.BetHandler
	Claims    *handler.ClaimHandler
	Users     *handler.UserHandler
	Referrals *handler.ReferralHandler
	Events    *handler.EventHandler
	Admin     *handler.AdminHandler
}

// Server is the HTTP + WebSocket API server for the prediction engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// Middleware wraps an http.Handler, the shape the middleware package
// produces.
type Middleware func(http.Handler) http.Handler

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter Middleware, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health checks (no auth required by convention; auth middleware only
	// guards mutating verbs below when a key is configured).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/ready", handlers.Health.Readiness)

	// Instance endpoints.
	mux.HandleFunc("GET /api/instances", handlers.Instances.ListInstances)
	mux.HandleFunc("POST /api/instances", handlers.Instances.CreateInstance)
	mux.HandleFunc("GET /api/instances/{id}", handlers.Instances.GetInstance)

	// Round endpoints.
	mux.HandleFunc("GET /api/instances/{id}/rounds", handlers.Rounds.ListRounds)
	mux.HandleFunc("GET /api/instances/{id}/rounds/current", handlers.Rounds.GetCurrentRound)
	mux.HandleFunc("GET /api/instances/{id}/rounds/{epoch}", handlers.Rounds.GetRound)

	// Bet endpoints.
	mux.HandleFunc("POST /api/instances/{id}/bets", handlers.Bets.PlaceBet)
	mux.HandleFunc("GET /api/instances/{id}/rounds/{epoch}/bets/{user}", handlers.Bets.GetBet)

	// Claim endpoints.
	mux.HandleFunc("POST /api/claims", handlers.Claims.BatchClaim)
	mux.HandleFunc("POST /api/claims/validate", handlers.Claims.ValidateClaim)

	// User endpoints.
	mux.HandleFunc("GET /api/instances/{id}/users/{user}/rounds", handlers.Users.GetUserRounds)
	mux.HandleFunc("GET /api/instances/{id}/users/{user}/rounds/{epoch}/eligibility", handlers.Users.GetClaimEligibility)
	mux.HandleFunc("GET /api/instances/{id}/users/{user}/history", handlers.Users.GetUserHistory)
	mux.HandleFunc("GET /api/users/{user}/balance", handlers.Users.GetBalance)

	// Referral endpoints.
	mux.HandleFunc("POST /api/referrals", handlers.Referrals.SetReferrer)
	mux.HandleFunc("GET /api/referrals/{user}", handlers.Referrals.GetReferrer)

	// Event history.
	mux.HandleFunc("GET /api/instances/{id}/events", handlers.Events.ListEvents)

	// Administration.
	mux.HandleFunc("GET /api/admin/params", handlers.Admin.GetParams)
	mux.HandleFunc("PUT /api/admin/params", handlers.Admin.UpdateParams)
	mux.HandleFunc("POST /api/admin/instances/{id}/pause", handlers.Admin.Pause)
	mux.HandleFunc("POST /api/admin/instances/{id}/unpause", handlers.Admin.Unpause)
	mux.HandleFunc("PUT /api/admin/instances/{id}/operator", handlers.Admin.SetOperator)
	mux.HandleFunc("POST /api/admin/instances/{id}/treasury/claim", handlers.Admin.ClaimTreasury)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	h = middleware.Auth(cfg.Auth)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = limiter(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
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
