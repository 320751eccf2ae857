// Package core provides the API chassis for the Roadmap backend.
// It builds the chi router and enforces the cross-cutting concerns
// (recovery, request ids, logging, CORS, authentication, rate limiting and
// error formatting) before requests reach the domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"roadmap/internal/config"
)

// RouteRegistrar mounts a group of handler routes on a router. Handler
// packages provide registrars so core never imports them.
type RouteRegistrar func(r chi.Router)

// Server encapsulates all dependencies for the Roadmap API, allowing for
// easy injection during testing and distinct configuration for different
// environments.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Authenticator Authenticator  // Resolves session tokens to Actors.
	RateLimits    RateLimitStore // nil disables rate limiting.
	HealthProbes  []HealthProbe

	// Route groups, populated by cmd/api before MountRoutes.
	APIRoutes     []RouteRegistrar // authenticated, general limiter
	AIRoutes      []RouteRegistrar // authenticated, AI limiter, longer timeout
	WebhookRoutes []RouteRegistrar // signature-authenticated, no limiter
	AdminRoutes   []RouteRegistrar // admin key

	// Closers run on Shutdown in registration order.
	closers []func(context.Context) error

	router *chi.Mux
}

// NewServer validates the critical inputs and prepares an empty router.
// The caller fills the route groups and then calls MountRoutes.
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

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a cleanup function (pool close, client disconnect).
func (s *Server) OnShutdown(fn func(context.Context) error) {
	s.closers = append(s.closers, fn)
}

// Shutdown runs every registered closer and returns the first error.
// All closers run even when an earlier one fails.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var firstErr error
	for _, closeFn := range s.closers {
		if err := closeFn(ctx); err != nil {
			s.Logger.Error("error closing resource", "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("closing resources: %w", err)
			}
		}
	}

	s.Logger.Info("server shutdown complete")
	return firstErr
}
