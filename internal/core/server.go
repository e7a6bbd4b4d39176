// Package core provides the API chassis for the LogoForge service. It owns
// the chi router, the global middleware chain (recovery, timeouts, request
// IDs, logging, CORS, metrics, authentication), and the response utilities
// shared by all handlers. Cross-cutting concerns are enforced here before
// requests reach domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"logoforge/internal/config"
)

// MetricsCollector records API telemetry. Implementations publish request
// latency and count metrics to CloudWatch or equivalent backends.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// Server encapsulates all dependencies for the LogoForge API, allowing for
// easy injection during testing and distinct configuration for different
// environments.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Metrics       MetricsCollector
	Authenticator Authenticator // Resolves bearer tokens to Actors; nil disables auth.
	HealthProbes  []HealthProbe

	// V1RouteRegistrars are populated by the application entry point; each
	// mounts one handler group under /v1. The indirection avoids import
	// cycles between core and the handler packages.
	V1RouteRegistrars []func(chi.Router)

	router *chi.Mux
}

// NewServer initializes dependencies, sets up the router, and prepares the
// server for route mounting. It performs a fail-fast check on critical
// dependencies.
//
// The caller mounts routes (via MountRoutes) after construction; tests can
// customize route registration before mounting.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for the router, for http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration and tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs a graceful termination of server-held resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	for _, probe := range s.HealthProbes {
		if closer, ok := probe.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				s.Logger.Error("error closing health probe resource",
					slog.String("probe", probe.Name()),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	// Flush buffered telemetry before exit.
	if closer, ok := s.Metrics.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.Logger.Error("error closing metrics collector",
				slog.String("error", err.Error()),
			)
		}
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
