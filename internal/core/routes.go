package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"roadmap/internal/types"
)

const defaultRequestTimeout = 30 * time.Second

// defaultRedactedHeaders lists header names whose values are masked in request
// logs to prevent accidental leakage of credentials or signatures.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	"X-Admin-Key",
	"Stripe-Signature",
	"Svix-Signature",
}

// MountRoutes registers the global middleware chain and the route groups.
//
// Global order:
//  1. Recoverer       - outermost, catches every panic.
//  2. RequestID       - correlation id for logs and error bodies.
//  3. SecurityHeaders
//  4. RequestLogger   - redacted headers.
//  5. CORS
//
// Groups:
//   - /health                 public
//   - /api/webhooks/*         raw body, provider signatures, no limiter
//   - /api/admin/*            admin key
//   - /api/ai/*               auth, AI limiter, long timeout
//   - /api/*                  auth, general limiter, gzip
func (s *Server) MountRoutes() error {
	compress, err := Compress()
	if err != nil {
		return err
	}

	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
	s.router.Use(NewCORSMiddleware(s.corsAllowedOrigins()))

	s.router.Get("/health", s.HandleHealth)

	s.router.Route("/api", func(api chi.Router) {
		api.Group(func(r chi.Router) {
			r.Use(ContextTimeoutMiddleware(s.requestTimeout()))
			for _, registrar := range s.WebhookRoutes {
				registrar(r)
			}
		})

		api.Group(func(r chi.Router) {
			r.Use(ContextTimeoutMiddleware(s.requestTimeout()))
			r.Use(s.AdminKeyMiddleware)
			for _, registrar := range s.AdminRoutes {
				registrar(r)
			}
		})

		api.Group(func(r chi.Router) {
			r.Use(ContextTimeoutMiddleware(s.aiRequestTimeout()))
			r.Use(s.AuthMiddleware)
			r.Use(s.RateLimit(AIPolicy(s.Config.RateLimit)))
			for _, registrar := range s.AIRoutes {
				registrar(r)
			}
		})

		api.Group(func(r chi.Router) {
			r.Use(ContextTimeoutMiddleware(s.requestTimeout()))
			r.Use(s.AuthMiddleware)
			r.Use(s.RateLimit(GeneralPolicy(s.Config.RateLimit)))
			r.Use(compress)
			for _, registrar := range s.APIRoutes {
				registrar(r)
			}
		})
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		Error(w, r, types.NewAppError(errCodeRouteNotFound, "route not found", nil))
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		Error(w, r, types.NewAppError(types.ErrCodeMethodNotAllowed, "method not allowed", nil))
	})
	return nil
}

const errCodeRouteNotFound types.ErrorCode = "not_found_route"

func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return defaultRequestTimeout
}

func (s *Server) aiRequestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.AIRequestTimeout > 0 {
		return s.Config.Server.AIRequestTimeout
	}
	return 3 * defaultRequestTimeout
}

// corsAllowedOrigins returns the CORS allowed origins from configuration.
func (s *Server) corsAllowedOrigins() []string {
	if s.Config != nil {
		if origins := s.Config.Security.TrimmedOrigins(); len(origins) > 0 {
			return origins
		}
	}
	return []string{"*"}
}

// ContextTimeoutMiddleware sets a deadline on the request context.
// Downstream store and provider calls observe the cancelled context.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware reuses an incoming X-Request-Id or generates one,
// stores it via types.WithRequestID and echoes it in the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" || len(requestID) > 128 {
			requestID = generateRequestID()
		}

		ctx := types.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// generateRequestID returns 16 random bytes as 32 hex characters.
func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "fallback-" + hex.EncodeToString([]byte(time.Now().String()))
	}
	return hex.EncodeToString(b)
}
