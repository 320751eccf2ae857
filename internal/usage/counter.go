// Package usage implements the monthly usage counters and the quota gate
// that enforces plan limits on topic and skill creation.
//
// Counters reset lazily: the first access in a new UTC calendar month zeroes
// the counter. There is no background job, and skipped months are not reset
// one by one.
package usage

import (
	"context"
	"fmt"
	"log/slog"

	"roadmap/internal/store"
	"roadmap/internal/types"
)

// Counter applies the lazy monthly reset to a user's counters.
type Counter struct {
	users  store.UserStore
	clock  types.Clock
	logger *slog.Logger
}

// NewCounter returns a Counter over users. A nil clock uses the wall clock.
func NewCounter(users store.UserStore, clock types.Clock, logger *slog.Logger) *Counter {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Counter{users: users, clock: clock, logger: logger}
}

func validKind(kind types.CounterKind) error {
	if !kind.Valid() {
		return types.NewAppError(types.ErrCodeValidationCounterKind,
			fmt.Sprintf("unknown counter %q", kind), nil)
	}
	return nil
}

// CheckAndResetIfNeeded zeroes the kind counter when its last reset lies in
// an earlier (or later) UTC month than now and returns the current user.
// Calling it twice in the same month mutates nothing the second time.
func (c *Counter) CheckAndResetIfNeeded(ctx context.Context, userID string, kind types.CounterKind) (*types.User, error) {
	if err := validKind(kind); err != nil {
		return nil, err
	}

	reset, err := c.users.ResetCounterIfStale(ctx, userID, kind, c.clock.Now())
	if err != nil {
		return nil, err
	}
	if reset {
		c.logger.InfoContext(ctx, "usage counter reset for new month",
			slog.String("user_id", userID),
			slog.String("counter", string(kind)),
		)
	}

	return c.users.GetByID(ctx, userID)
}
