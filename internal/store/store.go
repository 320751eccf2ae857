// Package store declares the persistence contracts of the Roadmap domain.
// Two drivers implement them: internal/db (PostgreSQL, the default) and
// internal/docstore (MongoDB). Callers receive a Set and never know which
// driver backs it.
package store

import (
	"context"
	"time"

	"roadmap/internal/types"
)

// UserStore persists users, their monthly usage counters and the
// subscription state mirror.
//
// Lookups return a not_found_user AppError when no row matches. Counter
// methods operate on the counter selected by kind.
type UserStore interface {
	// Create assigns ID when empty and inserts u. Duplicate external ids or
	// emails return a conflict AppError.
	Create(ctx context.Context, u *types.User) error
	GetByID(ctx context.Context, id string) (*types.User, error)
	GetByExternalID(ctx context.Context, externalID string) (*types.User, error)
	GetByEmail(ctx context.Context, email string) (*types.User, error)

	// UpdateProfile overwrites the identity-owned profile fields.
	UpdateProfile(ctx context.Context, id string, p types.UserProfilePatch) (*types.User, error)
	SetPlan(ctx context.Context, id, planID string) error
	// ApplyMirror writes every non-nil mirror field in one update.
	ApplyMirror(ctx context.Context, id string, m types.SubscriptionMirror) error

	// ResetCounterIfStale zeroes the counter and stamps now as its reset time
	// when the stored reset lies outside now's UTC calendar month. It reports
	// whether a reset happened. The check and the write are one statement.
	ResetCounterIfStale(ctx context.Context, id string, kind types.CounterKind, now time.Time) (bool, error)
	// IncrementCounter adds one unconditionally and returns the new value.
	IncrementCounter(ctx context.Context, id string, kind types.CounterKind) (int, error)
	// IncrementCounterIfBelow adds one only while the counter is below limit.
	// It returns the counter value after the call and whether it was bumped.
	IncrementCounterIfBelow(ctx context.Context, id string, kind types.CounterKind, limit int) (int, bool, error)
	// DecrementCounter gives back one unit, never going below zero.
	DecrementCounter(ctx context.Context, id string, kind types.CounterKind) error

	// AddPoints adds delta to the points balance and stores streak.
	AddPoints(ctx context.Context, id string, delta, streak int) (*types.User, error)
	SetDayStreak(ctx context.Context, id string, streak int) error

	// Delete removes the user and everything it owns.
	Delete(ctx context.Context, id string) error
}

// PlanStore reads and seeds the plan catalog.
type PlanStore interface {
	GetByID(ctx context.Context, id string) (*types.Plan, error)
	GetByName(ctx context.Context, name string) (*types.Plan, error)
	List(ctx context.Context) ([]types.Plan, error)
	// Upsert inserts p or updates the plan with the same name, keeping its
	// ID. p.ID is set to the stored id.
	Upsert(ctx context.Context, p *types.Plan) error
}

// SkillStore persists skills.
type SkillStore interface {
	Create(ctx context.Context, s *types.Skill) error
	GetByID(ctx context.Context, id string) (*types.Skill, error)
	ListByUser(ctx context.Context, userID string) ([]types.Skill, error)
	Update(ctx context.Context, s *types.Skill) error
	// AddCoveredTopic appends topicID to the covered list (once) and makes
	// it the active topic.
	AddCoveredTopic(ctx context.Context, skillID, topicID string) error
	MarkCompleted(ctx context.Context, id string) (*types.Skill, error)
	// Delete removes the skill with its topics and tasks.
	Delete(ctx context.Context, id string) error
}

// TopicStore persists topics.
type TopicStore interface {
	Create(ctx context.Context, t *types.Topic) error
	GetByID(ctx context.Context, id string) (*types.Topic, error)
	ListBySkill(ctx context.Context, skillID string) ([]types.Topic, error)
	Update(ctx context.Context, t *types.Topic) error
	// Delete removes the topic with its tasks.
	Delete(ctx context.Context, id string) error
}

// TaskStore persists tasks.
type TaskStore interface {
	Create(ctx context.Context, t *types.Task) error
	GetByID(ctx context.Context, id string) (*types.Task, error)
	ListByTopic(ctx context.Context, topicID string) ([]types.Task, error)
	Update(ctx context.Context, t *types.Task) error
	Delete(ctx context.Context, id string) error
}

// Set bundles one driver's stores with its lifecycle hooks.
type Set struct {
	Users  UserStore
	Plans  PlanStore
	Skills SkillStore
	Topics TopicStore
	Tasks  TaskStore

	// Ping checks connectivity for the health endpoint.
	Ping func(ctx context.Context) error
	// Close releases the driver's connections.
	Close func(ctx context.Context) error
}
