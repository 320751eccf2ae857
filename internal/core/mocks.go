package core

import (
	"context"
	"sync"

	"roadmap/internal/types"
)

// MockAuthenticator implements Authenticator for tests and for local runs
// without an identity provider.
//
//	mock := &MockAuthenticator{Actor: &types.Actor{ID: "user_2abc", Type: types.ActorTypeUser}}
type MockAuthenticator struct {
	// Actor is returned on success. Err takes precedence when set.
	Actor *types.Actor
	Err   error

	// ResolveTokenFunc, when set, overrides Actor and Err.
	ResolveTokenFunc func(ctx context.Context, token string) (*types.Actor, error)

	mu    sync.Mutex
	Calls []string
}

// ResolveToken implements the Authenticator interface.
func (m *MockAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, token)
	m.mu.Unlock()

	if m.ResolveTokenFunc != nil {
		return m.ResolveTokenFunc(ctx, token)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Actor, nil
}

// MockRateLimitStore implements RateLimitStore with a fixed result.
type MockRateLimitStore struct {
	Result RateLimitResult
	Err    error

	mu    sync.Mutex
	Calls []RateLimitCall
}

// RateLimitCall records one IncrementAndCheck invocation.
type RateLimitCall struct {
	Key    string
	Policy RateLimitPolicy
}

// IncrementAndCheck implements the RateLimitStore interface.
func (m *MockRateLimitStore) IncrementAndCheck(_ context.Context, key string, policy RateLimitPolicy) (RateLimitResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, RateLimitCall{Key: key, Policy: policy})
	m.mu.Unlock()

	if m.Err != nil {
		return RateLimitResult{}, m.Err
	}
	return m.Result, nil
}
