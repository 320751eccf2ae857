package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"roadmap/internal/core"
	"roadmap/internal/store"
	"roadmap/internal/types"
)

// QuotaGate answers and enforces the monthly creation limits.
// Satisfied by *usage.Gate.
type QuotaGate interface {
	CanPerform(ctx context.Context, userID string, kind types.CounterKind) (types.QuotaDecision, error)
	Commit(ctx context.Context, userID string, kind types.CounterKind) (int, error)
	TryConsume(ctx context.Context, userID string, kind types.CounterKind) (types.QuotaDecision, error)
	Release(ctx context.Context, userID string, kind types.CounterKind) error
}

// StreakTracker keeps the "last earned points" markers behind the day
// streak. Satisfied by *cache.StreakStore.
type StreakTracker interface {
	Touch(ctx context.Context, clerkID string, current int, now time.Time) (int, error)
	Expired(ctx context.Context, clerkID string, now time.Time) (bool, error)
	Reset(ctx context.Context, clerkID string) error
}

// PlanByName resolves a catalog plan by name.
type PlanByName interface {
	ByName(ctx context.Context, name string) (*types.Plan, error)
}

// CreateUserRequest is the request body for POST /users. The external
// identity id is taken from the session, never from the body.
type CreateUserRequest struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	ImageURL  string `json:"image_url" validate:"omitempty,url"`
}

// UpdateUserRequest is the request body for PUT /users/{id}. Omitted fields
// keep their current value.
type UpdateUserRequest struct {
	Email     *string `json:"email" validate:"omitempty,email"`
	FirstName *string `json:"first_name" validate:"omitempty,max=100"`
	LastName  *string `json:"last_name" validate:"omitempty,max=100"`
	ImageURL  *string `json:"image_url" validate:"omitempty,url"`
}

// AddPointsRequest is the request body for POST /users/points.
type AddPointsRequest struct {
	Points int `json:"points" validate:"required,min=1,max=1000"`
}

// PointsResponse reports the engagement counters after a change.
type PointsResponse struct {
	Points    int `json:"points"`
	DayStreak int `json:"day_streak"`
}

// CounterResponse is returned by the increment endpoints.
type CounterResponse struct {
	Success bool `json:"success"`
	Used    int  `json:"used"`
}

// UserHandler serves the user resource, the quota check endpoints and the
// points/streak endpoints.
type UserHandler struct {
	users     store.UserStore
	plans     PlanByName
	gate      QuotaGate
	streaks   StreakTracker
	clock     types.Clock
	validator *core.Validator
	logger    *slog.Logger
}

// NewUserHandler creates a UserHandler. streaks may be nil, which disables
// streak tracking.
func NewUserHandler(
	users store.UserStore,
	plans PlanByName,
	gate QuotaGate,
	streaks StreakTracker,
	clock types.Clock,
	v *core.Validator,
	l *slog.Logger,
) *UserHandler {
	if l == nil {
		l = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &UserHandler{
		users:     users,
		plans:     plans,
		gate:      gate,
		streaks:   streaks,
		clock:     clock,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts the user routes. Static paths are listed before the
// {id} patterns for readability; chi prefers them regardless.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Post("/users", h.Create)
	r.Get("/users/check/can-create-topic", h.CanCreateTopic)
	r.Get("/users/check/can-add-skill", h.CanAddSkill)
	r.Post("/users/increment-topic-counter", h.IncrementTopicCounter)
	r.Post("/users/increment-skill-counter", h.IncrementSkillCounter)
	r.Post("/users/points", h.AddPoints)
	r.Post("/users/streak/reset", h.ResetStreak)
	r.Get("/users/by-external/{externalId}", h.GetByExternalID)
	r.Get("/users/{id}", h.Get)
	r.Put("/users/{id}", h.Update)
	r.Delete("/users/{id}", h.Delete)
}

// Create handles POST /users. It registers the caller with the Free plan;
// normally the identity webhook has already done so.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}

	var req CreateUserRequest
	if err := core.DecodeAndValidate(w, r, h.validator, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	free, err := h.plans.ByName(r.Context(), types.PlanNameFree)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "free plan missing from catalog", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeInternalPlanIntegrity, "default plan is not configured", err))
		return
	}

	u := types.NewUser(actor.ID, types.NormalizeEmail(req.Email), free.ID, h.clock.Now().UTC())
	u.FirstName = req.FirstName
	u.LastName = req.LastName
	u.ImageURL = req.ImageURL

	if err := h.users.Create(r.Context(), u); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "user created", "user_id", u.ID, "external_id", actor.ID)
	core.JSON(w, r, http.StatusCreated, u)
}

// loadOwnUser loads the user named by the {id} path parameter and checks it
// is the caller.
func (h *UserHandler) loadOwnUser(w http.ResponseWriter, r *http.Request) (*types.User, bool) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return nil, false
	}
	u, err := h.users.GetByID(r.Context(), pathParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return nil, false
	}
	if u.ExternalIdentityID != actor.ID {
		core.Error(w, r, notOwner("user"))
		return nil, false
	}
	return u, true
}

// Get handles GET /users/{id}.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	u, ok := h.loadOwnUser(w, r)
	if !ok {
		return
	}
	core.JSON(w, r, http.StatusOK, u)
}

// GetByExternalID handles GET /users/by-external/{externalId}. A streak
// whose last activity is older than a day is zeroed before the user is
// returned; failures of that check are logged only.
func (h *UserHandler) GetByExternalID(w http.ResponseWriter, r *http.Request) {
	actor, ok := core.RequireActor(w, r)
	if !ok {
		return
	}
	externalID := pathParam(r, "externalId")
	if externalID != actor.ID {
		core.Error(w, r, notOwner("user"))
		return
	}

	u, err := h.users.GetByExternalID(r.Context(), externalID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.expireStreak(r.Context(), u)
	core.JSON(w, r, http.StatusOK, u)
}

func (h *UserHandler) expireStreak(ctx context.Context, u *types.User) {
	if h.streaks == nil || u.DayStreak == 0 {
		return
	}
	expired, err := h.streaks.Expired(ctx, u.ExternalIdentityID, h.clock.Now())
	if err != nil {
		h.logger.WarnContext(ctx, "streak expiry check failed", "user_id", u.ID, "error", err)
		return
	}
	if !expired {
		return
	}
	if err := h.users.SetDayStreak(ctx, u.ID, 0); err != nil {
		h.logger.WarnContext(ctx, "failed to reset expired streak", "user_id", u.ID, "error", err)
		return
	}
	u.DayStreak = 0
}

// Update handles PUT /users/{id}.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	u, ok := h.loadOwnUser(w, r)
	if !ok {
		return
	}

	var req UpdateUserRequest
	if err := core.DecodeAndValidate(w, r, h.validator, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	patch := types.UserProfilePatch{
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		ImageURL:  u.ImageURL,
	}
	if req.Email != nil {
		patch.Email = types.NormalizeEmail(*req.Email)
	}
	if req.FirstName != nil {
		patch.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		patch.LastName = *req.LastName
	}
	if req.ImageURL != nil {
		patch.ImageURL = *req.ImageURL
	}

	updated, err := h.users.UpdateProfile(r.Context(), u.ID, patch)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, updated)
}

// Delete handles DELETE /users/{id}. Skills, topics and tasks go with the
// user.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	u, ok := h.loadOwnUser(w, r)
	if !ok {
		return
	}

	if err := h.users.Delete(r.Context(), u.ID); err != nil {
		core.Error(w, r, err)
		return
	}
	if h.streaks != nil {
		if err := h.streaks.Reset(r.Context(), u.ExternalIdentityID); err != nil {
			h.logger.WarnContext(r.Context(), "failed to clear streak keys", "user_id", u.ID, "error", err)
		}
	}

	h.logger.InfoContext(r.Context(), "user deleted", "user_id", u.ID)
	core.JSON(w, r, http.StatusOK, messageResponse{Message: "User deleted"})
}

// CanCreateTopic handles GET /users/check/can-create-topic.
func (h *UserHandler) CanCreateTopic(w http.ResponseWriter, r *http.Request) {
	h.check(w, r, types.CounterTopics)
}

// CanAddSkill handles GET /users/check/can-add-skill.
func (h *UserHandler) CanAddSkill(w http.ResponseWriter, r *http.Request) {
	h.check(w, r, types.CounterSkills)
}

func (h *UserHandler) check(w http.ResponseWriter, r *http.Request, kind types.CounterKind) {
	u, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}
	d, err := h.gate.CanPerform(r.Context(), u.ID, kind)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, d)
}

// IncrementTopicCounter handles POST /users/increment-topic-counter.
func (h *UserHandler) IncrementTopicCounter(w http.ResponseWriter, r *http.Request) {
	h.increment(w, r, types.CounterTopics)
}

// IncrementSkillCounter handles POST /users/increment-skill-counter.
func (h *UserHandler) IncrementSkillCounter(w http.ResponseWriter, r *http.Request) {
	h.increment(w, r, types.CounterSkills)
}

// increment is the unconditional commit used by clients that run the check
// endpoint first. Gated creates use TryConsume instead.
func (h *UserHandler) increment(w http.ResponseWriter, r *http.Request, kind types.CounterKind) {
	u, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}
	used, err := h.gate.Commit(r.Context(), u.ID, kind)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, CounterResponse{Success: true, Used: used})
}

// AddPoints handles POST /users/points. Earning points on consecutive UTC
// days extends the day streak.
func (h *UserHandler) AddPoints(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}

	var req AddPointsRequest
	if err := core.DecodeAndValidate(w, r, h.validator, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	streak := u.DayStreak
	if h.streaks != nil {
		var err error
		streak, err = h.streaks.Touch(r.Context(), u.ExternalIdentityID, u.DayStreak, h.clock.Now())
		if err != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeInternalCache, "failed to update streak", err))
			return
		}
	}

	updated, err := h.users.AddPoints(r.Context(), u.ID, req.Points, streak)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, PointsResponse{Points: updated.Points, DayStreak: updated.DayStreak})
}

// ResetStreak handles POST /users/streak/reset.
func (h *UserHandler) ResetStreak(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}

	if err := h.users.SetDayStreak(r.Context(), u.ID, 0); err != nil {
		core.Error(w, r, err)
		return
	}
	if h.streaks != nil {
		if err := h.streaks.Reset(r.Context(), u.ExternalIdentityID); err != nil {
			core.Error(w, r, types.NewAppError(types.ErrCodeInternalCache, "failed to reset streak", err))
			return
		}
	}
	core.JSON(w, r, http.StatusOK, PointsResponse{Points: u.Points, DayStreak: 0})
}
