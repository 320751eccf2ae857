// Package billing provides the plan catalog: the reference data that maps a
// user's plan to its usage limits.
package billing

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"roadmap/internal/store"
	"roadmap/internal/types"
)

// DefaultFreeLimits are the limits applied when a user's plan cannot be
// resolved. They match the seeded Free plan.
var DefaultFreeLimits = types.Plan{
	Name:           types.PlanNameFree,
	Currency:       "GBP",
	MaxSkills:      1,
	TopicsPerMonth: 3,
}

// SeedPlans returns the catalog written by Seed. proPriceID is the Stripe
// price backing Pro checkouts and may be empty outside production.
func SeedPlans(proPriceID string) []types.Plan {
	free := DefaultFreeLimits
	return []types.Plan{
		free,
		{
			Name:             types.PlanNamePro,
			MonthlyPrice:     999,
			Currency:         "GBP",
			MaxSkills:        types.Unlimited,
			TopicsPerMonth:   types.Unlimited,
			ExternalPriceRef: proPriceID,
		},
	}
}

// PlanCatalog resolves plans by id or name. Plans are immutable at runtime
// so resolved entries are cached for the life of the process; concurrent
// misses for the same key share one store read.
type PlanCatalog struct {
	plans  store.PlanStore
	logger *slog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	byID  map[string]types.Plan
	names map[string]string
}

// NewPlanCatalog returns a catalog reading through plans.
func NewPlanCatalog(plans store.PlanStore, logger *slog.Logger) *PlanCatalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanCatalog{
		plans:  plans,
		logger: logger,
		byID:   make(map[string]types.Plan),
		names:  make(map[string]string),
	}
}

func (c *PlanCatalog) remember(p *types.Plan) {
	c.mu.Lock()
	c.byID[p.ID] = *p
	c.names[p.Name] = p.ID
	c.mu.Unlock()
}

// ByID returns the plan with id. A missing plan yields a not_found_plan
// AppError.
func (c *PlanCatalog) ByID(ctx context.Context, id string) (*types.Plan, error) {
	c.mu.RLock()
	p, ok := c.byID[id]
	c.mu.RUnlock()
	if ok {
		return &p, nil
	}

	v, err, _ := c.group.Do("id:"+id, func() (any, error) {
		return c.plans.GetByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	plan := v.(*types.Plan)
	c.remember(plan)
	out := *plan
	return &out, nil
}

// ByName returns the plan called name ("Free", "Pro").
func (c *PlanCatalog) ByName(ctx context.Context, name string) (*types.Plan, error) {
	c.mu.RLock()
	id, ok := c.names[name]
	var p types.Plan
	if ok {
		p, ok = c.byID[id]
	}
	c.mu.RUnlock()
	if ok {
		return &p, nil
	}

	v, err, _ := c.group.Do("name:"+name, func() (any, error) {
		return c.plans.GetByName(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	plan := v.(*types.Plan)
	c.remember(plan)
	out := *plan
	return &out, nil
}

// LimitsFor resolves the plan governing a user. An unresolvable plan is a
// data-integrity problem: it is logged and the Free limits apply.
func (c *PlanCatalog) LimitsFor(ctx context.Context, planID string) types.Plan {
	p, err := c.ByID(ctx, planID)
	if err == nil {
		return *p
	}
	c.logger.WarnContext(ctx, "plan unresolvable, applying free limits",
		slog.String("plan_id", planID),
		slog.String("error", err.Error()),
	)
	return DefaultFreeLimits
}

// List returns every plan from the store.
func (c *PlanCatalog) List(ctx context.Context) ([]types.Plan, error) {
	return c.plans.List(ctx)
}

// Seed upserts the Free and Pro plans and returns them with their ids.
// Existing plans keep their ids so users stay attached.
func (c *PlanCatalog) Seed(ctx context.Context, proPriceID string) ([]types.Plan, error) {
	plans := SeedPlans(proPriceID)
	for i := range plans {
		if err := c.plans.Upsert(ctx, &plans[i]); err != nil {
			return nil, err
		}
		c.remember(&plans[i])
	}
	c.logger.InfoContext(ctx, "plan catalog seeded", slog.Int("plans", len(plans)))
	return plans, nil
}
