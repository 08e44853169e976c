package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/insightra/internal/domain"
	"github.com/alanyoungcy/insightra/internal/metrics"
	"github.com/alanyoungcy/insightra/internal/server/handler"
	"github.com/alanyoungcy/insightra/internal/server/middleware"
	"github.com/alanyoungcy/insightra/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port             int
	CORSOrigins      []string
	RequireSignature bool
	SignatureMaxAge  time.Duration
	RateLimit        int
	RateWindow       time.Duration
	// MetricsPath defaults to /metrics.
	MetricsPath string
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Archives and Events may be nil when object storage or the event log is
// not configured.
type Handlers struct {
	Health    *handler.HealthHandler
	Config    *handler.ConfigHandler
	Questions *handler.QuestionHandler
	Markets   *handler.MarketHandler
	Portfolio *handler.PortfolioHandler
	Admin     *handler.AdminHandler
	Archives  *handler.ArchiveHandler
	Events    *handler.EventHandler
}

// Server is the HTTP + WebSocket API over the protocol services.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// limiter, wsHub and m may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, m *metrics.Metrics, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	h := handlers

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      Routes(cfg, h, wsHub, limiter, m, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// Routes builds the routed handler with its middleware chain. It is split
// from NewServer so tests can drive it with httptest.
func Routes(cfg Config, h Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/config", h.Config.GetConfig)

	// Oracle questions and the reporter flow.
	mux.HandleFunc("GET /api/questions", h.Questions.ListQuestions)
	mux.HandleFunc("GET /api/questions/{id}", h.Questions.GetQuestion)
	mux.HandleFunc("GET /api/questions/{id}/events", h.Questions.QuestionEvents)
	mux.HandleFunc("POST /api/questions/{id}/commit", h.Questions.Commit)
	mux.HandleFunc("POST /api/questions/{id}/recommit", h.Questions.Recommit)
	mux.HandleFunc("POST /api/questions/{id}/reveal", h.Questions.Reveal)
	mux.HandleFunc("POST /api/questions/{id}/finalize", h.Questions.Finalize)
	mux.HandleFunc("POST /api/questions/{id}/escalate", h.Questions.Escalate)

	// Markets and trading.
	mux.HandleFunc("GET /api/factories", h.Markets.ListFactories)
	mux.HandleFunc("GET /api/markets", h.Markets.ListMarkets)
	mux.HandleFunc("POST /api/markets", h.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets/{address}", h.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{address}/events", h.Markets.MarketEvents)
	mux.HandleFunc("POST /api/markets/{address}/split", h.Markets.Split)
	mux.HandleFunc("POST /api/markets/{address}/merge", h.Markets.Merge)
	mux.HandleFunc("POST /api/markets/{address}/redeem", h.Markets.Redeem)

	mux.HandleFunc("GET /api/portfolio", h.Portfolio.GetPortfolio)
	mux.HandleFunc("GET /api/portfolio/{account}", h.Portfolio.GetPortfolio)
	mux.HandleFunc("GET /api/portfolio/{account}/markets/{address}", h.Portfolio.GetPositions)

	// Admin. The service layer enforces the admin policy on every call.
	mux.HandleFunc("GET /api/admin/me", h.Admin.Me)
	mux.HandleFunc("POST /api/admin/markets", h.Admin.CreateMarket)
	mux.HandleFunc("POST /api/admin/markets/{address}/remove", h.Admin.RemoveListing)
	mux.HandleFunc("POST /api/admin/markets/{address}/restore", h.Admin.RestoreListing)
	mux.HandleFunc("POST /api/admin/markets/{address}/finalize", h.Admin.FinalizeMarket)
	mux.HandleFunc("PUT /api/admin/factories/{type}/fee", h.Admin.SetDefaultRedeemFee)
	mux.HandleFunc("POST /api/admin/questions/{id}/rule", h.Admin.Rule)
	mux.HandleFunc("PUT /api/admin/oracle", h.Admin.SetOracleParams)
	mux.HandleFunc("GET /api/admin/cases", h.Admin.ListCases)
	mux.HandleFunc("GET /api/admin/audit", h.Admin.ListAudit)

	if h.Events != nil {
		mux.HandleFunc("GET /api/events", h.Events.ListRecent)
	}
	if h.Archives != nil {
		mux.HandleFunc("GET /api/archives", h.Archives.ListArchives)
		mux.HandleFunc("GET /api/archives/{path...}", h.Archives.GetArchive)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}
	if m != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, m.Handler())
	}

	// Outermost first: CORS answers preflights before identity is checked;
	// logging and the rate limiter run inside Actor to see the caller.
	var out http.Handler = mux
	out = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(out)
	if m != nil {
		out = m.Instrument(out)
	}
	out = middleware.Logging(logger)(out)
	out = middleware.Actor(middleware.ActorConfig{
		RequireSignature: cfg.RequireSignature,
		MaxAge:           cfg.SignatureMaxAge,
	})(out)
	out = middleware.CORS(cfg.CORSOrigins)(out)
	return out
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

// Run serves until ctx is cancelled and then shuts down, giving in-flight
// requests up to grace to finish.
func (s *Server) Run(ctx context.Context, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
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
