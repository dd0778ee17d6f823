// Package server exposes pools over a JSON HTTP API and streams their events
// over a websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/rankpool/internal/domain"
	"github.com/alanyoungcy/rankpool/internal/server/handler"
	"github.com/alanyoungcy/rankpool/internal/server/middleware"
	"github.com/alanyoungcy/rankpool/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards operator routes. Empty disables authentication.
	APIKey string
	// RateLimitRPS and RateBurst size the per-client budget; zero disables
	// rate limiting.
	RateLimitRPS float64
	RateBurst    int
	MetricsPath  string
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Pools      *handler.PoolHandler
	Bets       *handler.BetHandler
	Ranking    *handler.RankingHandler
	Settlement *handler.SettlementHandler
	Oracle     *handler.OracleHandler
}

// Options are the optional collaborators of the server.
type Options struct {
	Hub *ws.Hub
	// Metrics serves MetricsPath and counts requests.
	Metrics interface {
		middleware.RequestRecorder
		Handler() http.Handler
	}
	// Limiter shares the rate budget across replicas. Without it each
	// replica limits on its own.
	Limiter domain.RateLimiter
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain.
func NewServer(cfg Config, h Handlers, opts Options, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	mux := http.NewServeMux()
	operator := func(f http.HandlerFunc) http.Handler { return middleware.Auth(cfg.APIKey)(f) }

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	// Pools.
	mux.HandleFunc("GET /api/pools", h.Pools.ListPools)
	mux.Handle("POST /api/pools", operator(h.Pools.CreatePool))
	mux.HandleFunc("GET /api/pools/{address}", h.Pools.GetPool)
	mux.HandleFunc("POST /api/pools/{address}/advance", h.Pools.Advance)
	mux.HandleFunc("GET /api/pools/{address}/report", h.Pools.GetReport)
	mux.HandleFunc("GET /api/pools/{address}/audit", h.Pools.History)

	// Bets and funding move value on behalf of an account, so only the
	// operator may call them.
	mux.Handle("POST /api/pools/{address}/bets", operator(h.Bets.PlaceBet))
	mux.HandleFunc("GET /api/pools/{address}/bets/{token}/score", h.Bets.Score)
	mux.Handle("POST /api/pools/{address}/bets/{token}/transfer", operator(h.Bets.Transfer))
	mux.Handle("POST /api/pools/{address}/fund", operator(h.Bets.Fund))
	mux.Handle("POST /api/pools/{address}/manager/fund", operator(h.Bets.FundManager))

	// Ranking submissions are open to anyone.
	mux.HandleFunc("POST /api/pools/{address}/ranking", h.Ranking.Register)
	mux.HandleFunc("POST /api/pools/{address}/ranking/batch", h.Ranking.RegisterAll)
	mux.HandleFunc("GET /api/pools/{address}/ranking/plan", h.Ranking.Plan)

	// Payouts only ever pay the account owed, so anyone may trigger them.
	mux.HandleFunc("POST /api/pools/{address}/claims", h.Settlement.Claim)
	mux.HandleFunc("POST /api/pools/{address}/bets/{token}/reimburse", h.Settlement.Reimburse)
	mux.HandleFunc("POST /api/pools/{address}/remaining", h.Settlement.DistributeRemaining)
	mux.HandleFunc("POST /api/pools/{address}/withdraw", h.Settlement.Withdraw)
	mux.HandleFunc("POST /api/pools/{address}/fees/distribute", h.Settlement.DistributeFees)
	mux.HandleFunc("POST /api/pools/{address}/fees/surplus", h.Settlement.DistributeSurplus)
	mux.HandleFunc("POST /api/pools/{address}/fees/creator", h.Settlement.ExecuteCreator)
	mux.HandleFunc("POST /api/pools/{address}/fees/protocol", h.Settlement.ExecuteProtocol)

	mux.Handle("POST /api/oracle/answers", operator(h.Oracle.Resolve))

	var rec middleware.RequestRecorder
	if opts.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, opts.Metrics.Handler())
		rec = opts.Metrics
	}
	if opts.Hub != nil {
		mux.HandleFunc("GET /ws", opts.Hub.HandleWS)
	}

	var chain http.Handler = middleware.Logging(logger, rec)(mux)
	switch {
	case cfg.RateLimitRPS <= 0:
	case opts.Limiter != nil:
		window := time.Second
		limit := max(int(cfg.RateLimitRPS), cfg.RateBurst, 1)
		chain = middleware.RateLimit(opts.Limiter, limit, window, logger)(chain)
	default:
		chain = middleware.LocalRateLimit(cfg.RateLimitRPS, cfg.RateBurst)(chain)
	}
	chain = middleware.CORS(cfg.CORSOrigins)(chain)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           chain,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the full middleware chain, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
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
