// Package handlers contains the HTTP handler implementations for the Roadmap API.
//
// Every handler declares the narrow dependencies it needs and mounts its
// routes through RegisterRoutes; cmd/api passes those registrars to core,
// which places them behind the matching middleware group. Routes are
// registered flat (no sub-routers) so several handlers can share a prefix.
//
// Callers are identified by their Clerk user id (types.Actor.ID) and mapped
// to the local user record before any ownership check.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"roadmap/internal/core"
	"roadmap/internal/types"
)

// UserLookup resolves the authenticated caller to a local user.
type UserLookup interface {
	GetByExternalID(ctx context.Context, externalID string) (*types.User, error)
}

// messageResponse is the body of actions that return no resource.
type messageResponse struct {
	Message string `json:"message"`
}

// currentUser returns the local user behind the request's actor. On failure
// it writes the error response and returns false.
func currentUser(w http.ResponseWriter, r *http.Request, users UserLookup) (*types.User, bool) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return nil, false
	}
	u, err := users.GetByExternalID(r.Context(), actor.ID)
	if err != nil {
		core.Error(w, r, err)
		return nil, false
	}
	return u, true
}

// releaseQuota hands back a unit consumed for a create that did not persist.
// It runs detached from the request so a disconnected client cannot skip it.
func releaseQuota(r *http.Request, gate QuotaGate, logger *slog.Logger, userID string, kind types.CounterKind) {
	ctx := context.WithoutCancel(r.Context())
	if err := gate.Release(ctx, userID, kind); err != nil {
		logger.ErrorContext(ctx, "failed to release usage quota",
			"user_id", userID,
			"counter", string(kind),
			"error", err,
		)
	}
}

func pathParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

func notOwner(resource string) error {
	return types.NewAppError(types.ErrCodeForbiddenNotOwner, "you do not have access to this "+resource, nil)
}

// contentReader is the read side of the learning content stores used for
// ownership checks.
type contentReader struct {
	skills interface {
		GetByID(ctx context.Context, id string) (*types.Skill, error)
	}
	topics interface {
		GetByID(ctx context.Context, id string) (*types.Topic, error)
	}
	tasks interface {
		GetByID(ctx context.Context, id string) (*types.Task, error)
	}
}

// ownedSkill loads a skill and checks it belongs to userID.
func (c contentReader) ownedSkill(ctx context.Context, userID, skillID string) (*types.Skill, error) {
	s, err := c.skills.GetByID(ctx, skillID)
	if err != nil {
		return nil, err
	}
	if s.UserID != userID {
		return nil, notOwner("skill")
	}
	return s, nil
}

// ownedTopic loads a topic and checks its skill belongs to userID.
func (c contentReader) ownedTopic(ctx context.Context, userID, topicID string) (*types.Topic, error) {
	t, err := c.topics.GetByID(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if _, err := c.ownedSkill(ctx, userID, t.SkillID); err != nil {
		if types.IsCode(err, types.ErrCodeForbiddenNotOwner) {
			return nil, notOwner("topic")
		}
		return nil, err
	}
	return t, nil
}

// ownedTask loads a task and walks topic and skill up to userID.
func (c contentReader) ownedTask(ctx context.Context, userID, taskID string) (*types.Task, error) {
	t, err := c.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := c.ownedTopic(ctx, userID, t.TopicID); err != nil {
		if types.IsCode(err, types.ErrCodeForbiddenNotOwner) {
			return nil, notOwner("task")
		}
		return nil, err
	}
	return t, nil
}
