package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"roadmap/internal/types"
)

// SubscriptionCache stores the latest provider subscription snapshot per
// Stripe customer at stripe:customer:<customerId>, and the Clerk user to
// Stripe customer mapping at stripe:user:<clerkId>.
type SubscriptionCache struct {
	client        Client
	customerIDTTL time.Duration
}

// NewSubscriptionCache returns a cache over client. customerIDTTL of zero
// keeps customer ids without expiry.
func NewSubscriptionCache(client Client, customerIDTTL time.Duration) *SubscriptionCache {
	return &SubscriptionCache{client: client, customerIDTTL: customerIDTTL}
}

func snapshotKey(customerID string) string { return "stripe:customer:" + customerID }
func customerKey(clerkID string) string    { return "stripe:user:" + clerkID }

// PutSnapshot overwrites the snapshot for customerID.
func (c *SubscriptionCache) PutSnapshot(ctx context.Context, customerID string, snap types.SubscriptionSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding subscription snapshot: %w", err)
	}
	return c.client.Set(ctx, snapshotKey(customerID), raw, 0).Err()
}

// Snapshot returns the cached snapshot. ok is false on a cache miss.
func (c *SubscriptionCache) Snapshot(ctx context.Context, customerID string) (snap types.SubscriptionSnapshot, ok bool, err error) {
	raw, err := c.client.Get(ctx, snapshotKey(customerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return snap, false, nil
	}
	if err != nil {
		return snap, false, err
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, false, fmt.Errorf("decoding subscription snapshot: %w", err)
	}
	return snap, true, nil
}

// CustomerID returns the cached Stripe customer id for a Clerk user.
func (c *SubscriptionCache) CustomerID(ctx context.Context, clerkID string) (string, bool, error) {
	id, err := c.client.Get(ctx, customerKey(clerkID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, id != "", nil
}

// PutCustomerID remembers the Stripe customer created for a Clerk user.
func (c *SubscriptionCache) PutCustomerID(ctx context.Context, clerkID, customerID string) error {
	return c.client.Set(ctx, customerKey(clerkID), customerID, c.customerIDTTL).Err()
}
