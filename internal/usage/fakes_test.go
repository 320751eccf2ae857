package usage

import (
	"context"
	"sync"
	"time"

	"roadmap/internal/store"
	"roadmap/internal/types"
)

// memUsers implements the counter subset of store.UserStore in memory with
// the same month semantics as the SQL repositories. Methods not used by the
// package panic through the nil embedded interface.
type memUsers struct {
	store.UserStore

	mu    sync.Mutex
	users map[string]*types.User
}

func newMemUsers(users ...types.User) *memUsers {
	m := &memUsers{users: make(map[string]*types.User)}
	for i := range users {
		u := users[i]
		m.users[u.ID] = &u
	}
	return m
}

func (m *memUsers) get(id string) types.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.users[id]
}

func notFound() error {
	return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
}

func (m *memUsers) GetByID(_ context.Context, id string) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, notFound()
	}
	out := *u
	return &out, nil
}

func counterRef(u *types.User, kind types.CounterKind) (*int, *time.Time) {
	if kind == types.CounterSkills {
		return &u.SkillsAddedThisMonth, &u.LastSkillCounterReset
	}
	return &u.TopicsCreatedThisMonth, &u.LastTopicCounterReset
}

func (m *memUsers) ResetCounterIfStale(_ context.Context, id string, kind types.CounterKind, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return false, nil
	}
	count, reset := counterRef(u, kind)
	if types.SameMonth(*reset, now) {
		return false, nil
	}
	*count = 0
	*reset = now.UTC()
	return true, nil
}

func (m *memUsers) IncrementCounter(_ context.Context, id string, kind types.CounterKind) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return 0, notFound()
	}
	count, _ := counterRef(u, kind)
	*count++
	return *count, nil
}

func (m *memUsers) DecrementCounter(_ context.Context, id string, kind types.CounterKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return notFound()
	}
	count, _ := counterRef(u, kind)
	if *count > 0 {
		*count--
	}
	return nil
}

func (m *memUsers) IncrementCounterIfBelow(_ context.Context, id string, kind types.CounterKind, limit int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return 0, false, notFound()
	}
	count, _ := counterRef(u, kind)
	if *count >= limit {
		return *count, false, nil
	}
	*count++
	return *count, true, nil
}

// staticPlans resolves plan ids from a map and falls back to Free limits.
type staticPlans map[string]types.Plan

func (p staticPlans) LimitsFor(_ context.Context, planID string) types.Plan {
	if plan, ok := p[planID]; ok {
		return plan
	}
	return types.Plan{Name: types.PlanNameFree, MaxSkills: 1, TopicsPerMonth: 3}
}

var testPlans = staticPlans{
	"free": {ID: "free", Name: types.PlanNameFree, MaxSkills: 1, TopicsPerMonth: 3},
	"pro":  {ID: "pro", Name: types.PlanNamePro, MaxSkills: types.Unlimited, TopicsPerMonth: types.Unlimited},
}

func fixedClock(t time.Time) types.Clock {
	return types.ClockFunc(func() time.Time { return t })
}
