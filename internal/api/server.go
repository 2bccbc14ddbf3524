package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/migrator-io/migrator/internal/api/middleware"
	"github.com/migrator-io/migrator/internal/export"
	"github.com/migrator-io/migrator/internal/storage"
	"github.com/migrator-io/migrator/internal/task"
)

// Server is the HTTP API server. Configuration is separated from
// dependencies: the config says what to listen on, the injected
// collaborators say how to do the work.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	config     *ServerConfig

	exports *export.Service
	runner  task.Runner
	store   storage.ExceptionStore
	metrics *Metrics
}

// NewServer creates an HTTP server with the full middleware stack.
//
// Parameters:
//   - cfg: server configuration (address, timeouts, CORS, auth, limits)
//   - exports: the export orchestrator (required)
//   - runner: background task runner for export jobs (required)
//   - store: exceptions store for queries and readiness checks (required)
func NewServer(cfg *ServerConfig, exports *export.Service, runner task.Runner, store storage.ExceptionStore) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	if exports == nil || runner == nil || store == nil {
		logger.Error("export service, task runner, and exceptions store are required")
		panic("migrator: NewServer called with nil dependencies")
	}

	server := &Server{
		logger:  logger,
		config:  cfg,
		exports: exports,
		runner:  runner,
		store:   store,
		metrics: NewMetrics(),
	}

	mux := http.NewServeMux()
	server.setupRoutes(mux)

	auth := middleware.NewAPIKeyAuthenticator(cfg.APIKeyHashes)
	if auth != nil {
		logger.Info("API key authentication enabled", slog.Int("keys", len(cfg.APIKeyHashes)))
	} else {
		logger.Warn("MIGRATOR_API_KEYS not configured - authentication disabled")
	}

	var limiter middleware.RateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = middleware.NewInMemoryRateLimiter(cfg.RateLimitRPS)
	} else {
		logger.Warn("rate limiting disabled")
	}

	// Middleware executes top-to-bottom: correlation IDs first so every
	// later stage can log them, recovery next so panics anywhere below
	// are caught, auth and limits before the handlers do real work.
	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithAPIKeyAuth(auth, logger),
		middleware.WithRateLimit(limiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Handler exposes the full middleware-wrapped handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server and blocks until SIGINT/SIGTERM, then shuts
// down gracefully: stop accepting requests, then drain the task runner so
// in-flight exports finish.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP server listening", slog.String("address", s.config.Address()))

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	s.runner.Shutdown()
	s.logger.Info("server stopped")

	return nil
}
