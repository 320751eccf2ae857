package webhooks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"roadmap/internal/external"
	"roadmap/internal/store"
	"roadmap/internal/types"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func userNotFound() error {
	return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
}

// memUsers implements the user store methods the reconcilers call.
type memUsers struct {
	store.UserStore

	mu      sync.Mutex
	users   map[string]*types.User
	mirrors []types.SubscriptionMirror
	deleted []string
	failAll error
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

func (m *memUsers) find(match func(*types.User) bool) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return nil, m.failAll
	}
	for _, u := range m.users {
		if match(u) {
			out := *u
			return &out, nil
		}
	}
	return nil, userNotFound()
}

func (m *memUsers) GetByID(_ context.Context, id string) (*types.User, error) {
	return m.find(func(u *types.User) bool { return u.ID == id })
}

func (m *memUsers) GetByExternalID(_ context.Context, externalID string) (*types.User, error) {
	return m.find(func(u *types.User) bool { return u.ExternalIdentityID == externalID })
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*types.User, error) {
	return m.find(func(u *types.User) bool { return u.Email == email })
}

func (m *memUsers) Create(_ context.Context, u *types.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = "u_" + u.ExternalIdentityID
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) UpdateProfile(_ context.Context, id string, p types.UserProfilePatch) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, userNotFound()
	}
	u.Email, u.FirstName, u.LastName, u.ImageURL = p.Email, p.FirstName, p.LastName, p.ImageURL
	out := *u
	return &out, nil
}

func (m *memUsers) SetPlan(_ context.Context, id, planID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return userNotFound()
	}
	u.PlanID = planID
	return nil
}

func (m *memUsers) ApplyMirror(_ context.Context, id string, mirror types.SubscriptionMirror) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return m.failAll
	}
	u, ok := m.users[id]
	if !ok {
		return userNotFound()
	}
	mirror.Apply(u)
	m.mirrors = append(m.mirrors, mirror)
	return nil
}

func (m *memUsers) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	m.deleted = append(m.deleted, id)
	return nil
}

// staticPlans is a two-plan catalog.
type staticPlans map[string]types.Plan

func testPlans() staticPlans {
	return staticPlans{
		"plan_free": {ID: "plan_free", Name: types.PlanNameFree, TopicsPerMonth: 3, MaxSkills: 1},
		"plan_pro":  {ID: "plan_pro", Name: types.PlanNamePro, TopicsPerMonth: types.Unlimited, MaxSkills: types.Unlimited},
	}
}

func (p staticPlans) ByID(_ context.Context, id string) (*types.Plan, error) {
	plan, ok := p[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundPlan, "plan not found", nil)
	}
	return &plan, nil
}

func (p staticPlans) ByName(_ context.Context, name string) (*types.Plan, error) {
	for _, plan := range p {
		if plan.Name == name {
			return &plan, nil
		}
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundPlan, "plan not found", nil)
}

// fakeCustomers serves Stripe customers from a map.
type fakeCustomers struct {
	customers map[string]*external.Customer
	snapshot  types.SubscriptionSnapshot
	err       error
}

func (f *fakeCustomers) GetCustomer(_ context.Context, id string) (*external.Customer, error) {
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.customers[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundCustomer, "no such customer", nil)
	}
	return c, nil
}

func (f *fakeCustomers) LatestSubscription(context.Context, string) (types.SubscriptionSnapshot, error) {
	return f.snapshot, nil
}

type fakeSnapshots struct {
	puts map[string]types.SubscriptionSnapshot
}

func (f *fakeSnapshots) PutSnapshot(_ context.Context, customerID string, snap types.SubscriptionSnapshot) error {
	if f.puts == nil {
		f.puts = make(map[string]types.SubscriptionSnapshot)
	}
	f.puts[customerID] = snap
	return nil
}

// memDedup mimics SETNX semantics.
type memDedup struct {
	mu       sync.Mutex
	keys     map[string]bool
	released []string
	err      error
}

func newMemDedup() *memDedup { return &memDedup{keys: make(map[string]bool)} }

func (d *memDedup) Claim(_ context.Context, source, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	k := source + ":" + id
	if d.keys[k] {
		return false, nil
	}
	d.keys[k] = true
	return true, nil
}

func (d *memDedup) Release(_ context.Context, source, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.keys, source+":"+id)
	d.released = append(d.released, source+":"+id)
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []types.NotificationMessage
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, msg types.NotificationMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeNotifier) kinds() []types.NotificationKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.NotificationKind, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.Kind)
	}
	return out
}

type fakeDirectory struct {
	users map[string]*external.IdentityUser
	calls int
}

func (f *fakeDirectory) GetUser(_ context.Context, id string) (*external.IdentityUser, error) {
	f.calls++
	u, ok := f.users[id]
	if !ok {
		return nil, errors.New("clerk unavailable")
	}
	return u, nil
}
