// Package server exposes the exchange over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stockex/marketd/internal/domain"
	"github.com/stockex/marketd/internal/server/handler"
	"github.com/stockex/marketd/internal/server/middleware"
	"github.com/stockex/marketd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// TradeRateLimit / TradeRateWindow throttle the trade submission
	// endpoints per client IP. A zero limit or nil limiter disables
	// throttling.
	TradeRateLimit  int
	TradeRateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health   *handler.HealthHandler
	Exchange *handler.ExchangeHandler

	// Metrics serves the Prometheus scrape endpoint; nil disables it.
	Metrics http.Handler
}

// Server is the HTTP + WebSocket API server for the exchange.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. It wires up the
// middleware chain (logging, CORS, auth) and attaches the WebSocket hub.
// limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check and metrics bypass nothing but are cheap to serve.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	// Market reads.
	mux.HandleFunc("GET /api/rate", handlers.Exchange.GetRate)
	mux.HandleFunc("GET /api/accounts/{address}/balances", handlers.Exchange.GetBalances)
	mux.HandleFunc("GET /api/accounts/{address}/allowances", handlers.Exchange.GetAllowances)
	mux.HandleFunc("GET /api/accounts/{address}/history", handlers.Exchange.GetHistory)

	// Market writes. Trade submissions are rate limited per client IP.
	mux.HandleFunc("POST /api/accounts/{address}/approve", handlers.Exchange.Approve)

	var buy http.Handler = http.HandlerFunc(handlers.Exchange.Buy)
	var sell http.Handler = http.HandlerFunc(handlers.Exchange.Sell)
	if limiter != nil && cfg.TradeRateLimit > 0 {
		throttle := middleware.RateLimit(limiter, cfg.TradeRateLimit, cfg.TradeRateWindow)
		buy = throttle(buy)
		sell = throttle(sell)
	}
	mux.Handle("POST /api/trades/buy", buy)
	mux.Handle("POST /api/trades/sell", sell)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
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
