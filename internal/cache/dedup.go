package cache

import (
	"context"
	"time"
)

// EventDedup remembers processed webhook event ids so a redelivered event
// does not send its email twice. Keys are webhook:<source>:<eventId>.
type EventDedup struct {
	client Client
	ttl    time.Duration
}

// NewEventDedup returns an EventDedup whose claims expire after ttl.
func NewEventDedup(client Client, ttl time.Duration) *EventDedup {
	return &EventDedup{client: client, ttl: ttl}
}

func dedupKey(source, eventID string) string {
	return "webhook:" + source + ":" + eventID
}

// Claim marks the event as being handled. It returns false when another
// delivery already claimed it.
func (d *EventDedup) Claim(ctx context.Context, source, eventID string) (bool, error) {
	return d.client.SetNX(ctx, dedupKey(source, eventID), "1", d.ttl).Result()
}

// Release drops a claim so a later delivery can retry.
func (d *EventDedup) Release(ctx context.Context, source, eventID string) error {
	return d.client.Del(ctx, dedupKey(source, eventID)).Err()
}
