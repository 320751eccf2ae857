package usage

import (
	"context"
	"fmt"
	"log/slog"

	"roadmap/internal/store"
	"roadmap/internal/types"
)

// PlanResolver returns the plan governing a user. Implementations fall back
// to the Free limits when the plan cannot be resolved.
type PlanResolver interface {
	LimitsFor(ctx context.Context, planID string) types.Plan
}

// Gate answers and enforces "may this user create one more X this month".
type Gate struct {
	counter *Counter
	users   store.UserStore
	plans   PlanResolver
	logger  *slog.Logger
}

// NewGate wires a Gate.
func NewGate(counter *Counter, users store.UserStore, plans PlanResolver, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{counter: counter, users: users, plans: plans, logger: logger}
}

// decide builds the decision for a counter value against a plan limit.
func decide(used, limit int) types.QuotaDecision {
	if limit == types.Unlimited {
		return types.QuotaDecision{Allowed: true, Used: used, Limit: limit, Remaining: limit, Unlimited: true}
	}
	return types.QuotaDecision{
		Allowed:   used < limit,
		Used:      used,
		Limit:     limit,
		Remaining: max(limit-used, 0),
	}
}

// CanPerform reports whether the user may create one more kind this month.
// It resets a stale counter first, so the answer reflects the current month.
func (g *Gate) CanPerform(ctx context.Context, userID string, kind types.CounterKind) (types.QuotaDecision, error) {
	u, err := g.counter.CheckAndResetIfNeeded(ctx, userID, kind)
	if err != nil {
		return types.QuotaDecision{}, err
	}
	plan := g.plans.LimitsFor(ctx, u.PlanID)
	used, _ := u.Counter(kind)
	return decide(used, plan.LimitFor(kind)), nil
}

// Commit records one completed creation and returns the new counter value.
// It does not check the limit; callers pairing CanPerform with Commit race
// with concurrent requests. TryConsume is the atomic alternative.
func (g *Gate) Commit(ctx context.Context, userID string, kind types.CounterKind) (int, error) {
	if _, err := g.counter.CheckAndResetIfNeeded(ctx, userID, kind); err != nil {
		return 0, err
	}
	return g.users.IncrementCounter(ctx, userID, kind)
}

// TryConsume resets a stale counter and then increments it only while it is
// below the plan limit, in one conditional update. The decision describes
// the counter after the call; Allowed is false when nothing was consumed.
func (g *Gate) TryConsume(ctx context.Context, userID string, kind types.CounterKind) (types.QuotaDecision, error) {
	u, err := g.counter.CheckAndResetIfNeeded(ctx, userID, kind)
	if err != nil {
		return types.QuotaDecision{}, err
	}
	plan := g.plans.LimitsFor(ctx, u.PlanID)
	limit := plan.LimitFor(kind)

	if limit == types.Unlimited {
		used, err := g.users.IncrementCounter(ctx, userID, kind)
		if err != nil {
			return types.QuotaDecision{}, err
		}
		return decide(used, limit), nil
	}

	used, consumed, err := g.users.IncrementCounterIfBelow(ctx, userID, kind, limit)
	if err != nil {
		return types.QuotaDecision{}, err
	}
	d := decide(used, limit)
	d.Allowed = consumed
	if !consumed {
		g.logger.InfoContext(ctx, "usage quota exhausted",
			slog.String("user_id", userID),
			slog.String("counter", string(kind)),
			slog.Int("used", used),
			slog.Int("limit", limit),
		)
	}
	return d, nil
}

// Release gives back a unit taken by TryConsume when the create it paid for
// did not persist. The counter never drops below zero.
func (g *Gate) Release(ctx context.Context, userID string, kind types.CounterKind) error {
	return g.users.DecrementCounter(ctx, userID, kind)
}

// QuotaError is the 429 returned to a caller whose gated create was refused.
func QuotaError(kind types.CounterKind, d types.QuotaDecision) *types.AppError {
	noun := "topics this month"
	if kind == types.CounterSkills {
		noun = "skills"
	}
	return types.NewAppErrorWithDetails(types.ErrCodeQuotaExceeded,
		fmt.Sprintf("Plan limit reached: you can create %d %s. Upgrade to Pro for unlimited access.", d.Limit, noun),
		nil,
		d.Details(),
	)
}
