package core

import (
	"context"
	"time"

	"roadmap/internal/types"
)

// Authenticator decouples the HTTP layer from the identity provider so the
// middleware can be exercised with a fake in tests.
type Authenticator interface {
	// ResolveToken verifies a session token and returns the Actor it names.
	//
	// Distinct Error Codes:
	// - ErrCodeAuthTokenInvalid if the token is malformed, badly signed or
	//   issued by an unexpected issuer.
	// - ErrCodeAuthTokenExpired if the token verified but is past its expiry.
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// RateLimitPolicy describes one fixed-window limiter. Once Limit requests
// land inside a Window the key is blocked for Block.
type RateLimitPolicy struct {
	Name   string
	Limit  int
	Window time.Duration
	Block  time.Duration
}

// RateLimitStore abstracts the backing store for rate limiting.
// Production uses Redis; tests use MockRateLimitStore.
type RateLimitStore interface {
	// IncrementAndCheck atomically counts one request for key under policy
	// and reports whether it is allowed.
	IncrementAndCheck(ctx context.Context, key string, policy RateLimitPolicy) (RateLimitResult, error)
}

// RateLimitResult contains the outcome of a rate limit check.
type RateLimitResult struct {
	// Allowed indicates whether the request is within the rate limit.
	Allowed bool
	// Remaining is the number of requests remaining in the current window.
	Remaining int
	// ResetAt is when the window (or the block, if denied) ends.
	ResetAt time.Time
}
