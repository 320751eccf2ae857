package core

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"roadmap/internal/config"
	"roadmap/internal/types"
)

// GeneralPolicy and AIPolicy build the two limiter policies from config.
func GeneralPolicy(cfg config.RateLimitConfig) RateLimitPolicy {
	return RateLimitPolicy{Name: "general", Limit: cfg.GeneralLimit, Window: cfg.GeneralWindow, Block: cfg.GeneralBlock}
}

// AIPolicy is the stricter limiter for content generation routes.
func AIPolicy(cfg config.RateLimitConfig) RateLimitPolicy {
	return RateLimitPolicy{Name: "ai", Limit: cfg.AILimit, Window: cfg.AIWindow, Block: cfg.AIBlock}
}

// RateLimit returns middleware enforcing policy through the RateLimitStore.
//
// The key is the authenticated user id when an Actor is present, otherwise
// the client IP. Store errors fail open so a cache outage never blocks
// traffic.
//
// On every request (allowed or not), the middleware sets standard rate limit
// response headers:
//   - X-RateLimit-Limit: The maximum number of requests in the window.
//   - X-RateLimit-Remaining: The number of requests remaining.
//   - X-RateLimit-Reset: Unix timestamp when the window resets.
//
// Denied requests get 429 with Retry-After and a retry_after detail.
func (s *Server) RateLimit(policy RateLimitPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.RateLimits == nil || (s.Config != nil && !s.Config.RateLimit.Enabled) {
				next.ServeHTTP(w, r)
				return
			}

			key := rateLimitKey(r)
			result, err := s.RateLimits.IncrementAndCheck(r.Context(), policy.Name+":"+key, policy)
			if err != nil {
				s.Logger.ErrorContext(r.Context(), "rate limit store error",
					slog.String("policy", policy.Name),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w, policy.Limit, result)

			if !result.Allowed {
				retryAfter := int(time.Until(result.ResetAt).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				s.Logger.WarnContext(r.Context(), "rate limit exceeded",
					slog.String("policy", policy.Name),
					slog.String("key", key),
					slog.String("path", r.URL.Path),
					slog.Int("retry_after", retryAfter),
				)

				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				Error(w, r, types.NewAppErrorWithDetails(
					types.ErrCodeRateLimit,
					"Too many requests, please try again later.",
					nil,
					map[string]any{"retry_after": retryAfter},
				))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// rateLimitKey prefers the authenticated identity over the network address.
func rateLimitKey(r *http.Request) string {
	if actor, ok := types.GetActor(r.Context()); ok && actor.ID != "" {
		return "user:" + actor.ID
	}
	return "ip:" + extractClientIP(r)
}

// setRateLimitHeaders writes the standard X-RateLimit-* headers to the response.
func setRateLimitHeaders(w http.ResponseWriter, limit int, result RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

// extractClientIP returns the first X-Forwarded-For entry, falling back to
// RemoteAddr without its port.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr may not have a port (e.g., in tests).
		return r.RemoteAddr
	}
	return ip
}
