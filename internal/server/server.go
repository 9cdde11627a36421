// Package server hosts the resolver's HTTP API and WebSocket push endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jetlagged/skyshield/internal/domain"
	"github.com/jetlagged/skyshield/internal/server/handler"
	"github.com/jetlagged/skyshield/internal/server/middleware"
	"github.com/jetlagged/skyshield/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port         int
	CORSOrigins  []string
	APIKey       string // guards operator endpoints; empty disables them
	RateLimit    int    // /resolve requests per client per minute; 0 disables
	// TrustedProxies may set forwarding headers for rate limiting.
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Audit may be nil when no database is configured.
type Handlers struct {
	Health      *handler.HealthHandler
	Resolve     *handler.ResolveHandler
	Resolutions *handler.ResolutionHandler
	Markets     *handler.MarketHandler
	Audit       *handler.AuditHandler
}

// Server is the HTTP + WebSocket API server for the resolver.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub. limiter and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewHandler(cfg, handlers, wsHub, limiter, logger),
			ReadTimeout:       orDefault(cfg.ReadTimeout, 15*time.Second),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      orDefault(cfg.WriteTimeout, 3*time.Minute),
			IdleTimeout:       orDefault(cfg.IdleTimeout, 60*time.Second),
		},
		logger: logger,
	}
}

// NewHandler builds the routed and middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	operator := middleware.Auth(cfg.APIKey)

	var resolve http.Handler = http.HandlerFunc(handlers.Resolve.Resolve)
	if limiter != nil && cfg.RateLimit > 0 {
		trusted, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
		if err != nil {
			logger.Warn("ignoring trusted proxies", slog.String("error", err.Error()))
			trusted = nil
		}
		resolve = middleware.RateLimit(limiter, "resolve", cfg.RateLimit, time.Minute, trusted, logger)(resolve)
	}

	// --- Register routes ---

	mux.HandleFunc("GET /health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Resolution.
	mux.Handle("GET /resolve", resolve)
	mux.HandleFunc("GET /resolutions", handlers.Resolutions.List)
	mux.HandleFunc("GET /resolutions/events", handlers.Resolutions.Events)
	mux.HandleFunc("GET /resolutions/{id}", handlers.Resolutions.Get)
	mux.HandleFunc("GET /resolutions/{id}/evidence", handlers.Resolutions.Evidence)
	mux.Handle("POST /resolutions/{id}/submit", operator(http.HandlerFunc(handlers.Resolutions.Submit)))

	// Markets.
	mux.HandleFunc("GET /markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /markets/{id}/positions/{address}", handlers.Markets.Positions)
	mux.HandleFunc("GET /quote", handlers.Markets.Quote)
	mux.Handle("POST /markets", operator(http.HandlerFunc(handlers.Markets.CreateMarket)))

	if handlers.Audit != nil {
		mux.Handle("GET /audit", operator(http.HandlerFunc(handlers.Audit.List)))
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	mux.HandleFunc("/", handler.NotFound)

	// Build the middleware chain.
	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until the server is shut down.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server: starting",
		slog.String("addr", ln.Addr().String()),
	)
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
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

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
