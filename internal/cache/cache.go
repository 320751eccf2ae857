// Package cache holds the Redis-backed helpers of the API: the
// subscription mirror cache, the Stripe customer id cache, day-streak keys,
// the fixed-window rate limiter and webhook event-id dedup.
//
// Everything here is ephemeral. The document store stays authoritative and
// callers treat cache errors as soft failures.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"roadmap/internal/config"
)

// Client is the subset of *redis.Client the package uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// ErrRedisNotReady is returned by Connect when the server never answered.
var ErrRedisNotReady = errors.New("redis not ready")

// Connect parses cfg.URL and pings the server, retrying a few times while
// the container or managed instance comes up.
func Connect(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	const attempts = 3
	for i := range attempts {
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()

		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(time.Second):
		}
	}
	return nil, ErrRedisNotReady
}

// Healthcheck returns a probe function for the health endpoint.
func Healthcheck(client Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
