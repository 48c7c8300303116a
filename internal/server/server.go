package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/haskel/branchsim/internal/config"
	"github.com/haskel/branchsim/internal/monitor"
	"github.com/haskel/branchsim/internal/server/middleware"
	"github.com/haskel/branchsim/internal/worker"
)

// Node is the worker node whose state the status endpoint reports.
type Node interface {
	Addrs() []string
	Connections() []worker.Info
}

// Server is the HTTP status endpoint of a worker node.
type Server struct {
	httpServer *http.Server
	node       Node
	aggregator *monitor.Aggregator
	config     *config.Config
	logger     *slog.Logger
	version    string
	started    time.Time
}

func New(cfg *config.Config, node Node, agg *monitor.Aggregator, logger *slog.Logger, version string) *Server {
	s := &Server{
		node:       node,
		aggregator: agg,
		config:     cfg,
		logger:     logger,
		version:    version,
		started:    time.Now(),
	}

	mux := s.setupRoutes()

	handler := middleware.Chain(
		mux,
		middleware.Recovery(logger),
		middleware.Logging(logger, "/health", "/metrics"),
		middleware.Headers(version),
		middleware.RateLimit(middleware.RateLimitConfig{
			Enabled:           cfg.Status.RateLimit.Enabled,
			RequestsPerSecond: cfg.Status.RateLimit.RequestsPerSecond,
			Burst:             cfg.Status.RateLimit.Burst,
		}),
		middleware.Auth(middleware.AuthConfig{
			Enabled:  cfg.Auth.Enabled,
			User:     cfg.Auth.User,
			Password: cfg.Auth.Password,
		}, "/health"),
	)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Status.Host, fmt.Sprint(cfg.Status.Port)),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("status server starting",
		"addr", s.httpServer.Addr,
	)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("status server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
