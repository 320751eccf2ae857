package cache

import (
	"context"
	"fmt"
	"time"

	"roadmap/internal/core"
)

// rateLimitScript counts one hit in a fixed window and blocks the key for
// the policy's block duration once the limit is passed.
//
// KEYS[1] window counter, KEYS[2] block marker.
// ARGV[1] limit, ARGV[2] window ms, ARGV[3] block ms.
// Returns {allowed, count, ms until reset}.
const rateLimitScript = `
local blocked = redis.call('PTTL', KEYS[2])
if blocked > 0 then
	return {0, tonumber(ARGV[1]) + 1, blocked}
end
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	ttl = tonumber(ARGV[2])
end
if count > tonumber(ARGV[1]) then
	if tonumber(ARGV[3]) > 0 then
		redis.call('SET', KEYS[2], '1', 'PX', ARGV[3])
		return {0, count, tonumber(ARGV[3])}
	end
	return {0, count, ttl}
end
return {1, count, ttl}
`

// RateLimiter implements core.RateLimitStore on Redis.
type RateLimiter struct {
	client Client
	now    func() time.Time
}

// NewRateLimiter returns a RateLimiter over client.
func NewRateLimiter(client Client) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

// IncrementAndCheck counts one request for key and reports whether it fits
// the policy.
func (l *RateLimiter) IncrementAndCheck(ctx context.Context, key string, policy core.RateLimitPolicy) (core.RateLimitResult, error) {
	keys := []string{"ratelimit:" + key, "ratelimit:block:" + key}
	res, err := l.client.Eval(ctx, rateLimitScript, keys,
		policy.Limit, policy.Window.Milliseconds(), policy.Block.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return core.RateLimitResult{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return core.RateLimitResult{}, fmt.Errorf("rate limit script returned %d values", len(res))
	}

	count := int(res[1])
	return core.RateLimitResult{
		Allowed:   res[0] == 1,
		Remaining: max(policy.Limit-count, 0),
		ResetAt:   l.now().Add(time.Duration(res[2]) * time.Millisecond),
	}, nil
}
