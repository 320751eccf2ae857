package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"roadmap/internal/core"
	"roadmap/internal/store"
	"roadmap/internal/types"
	"roadmap/internal/usage"
)

// CreateSkillRequest is the request body for POST /skills.
type CreateSkillRequest struct {
	Name                   string `json:"name" validate:"required,notblank,max=200"`
	PreferredLearningStyle string `json:"preferred_learning_style" validate:"max=200"`
	CurrentSkillLevel      string `json:"current_skill_level" validate:"max=200"`
	Goal                   string `json:"goal" validate:"max=10000"`
	AvailableTimePerWeek   string `json:"available_time_per_week" validate:"max=200"`
}

// UpdateSkillRequest is the request body for PUT /skills/{id}. Omitted
// fields keep their current value.
type UpdateSkillRequest struct {
	Name                   *string `json:"name" validate:"omitempty,notblank,max=200"`
	PreferredLearningStyle *string `json:"preferred_learning_style" validate:"omitempty,max=200"`
	CurrentSkillLevel      *string `json:"current_skill_level" validate:"omitempty,max=200"`
	Goal                   *string `json:"goal" validate:"omitempty,max=10000"`
	AvailableTimePerWeek   *string `json:"available_time_per_week" validate:"omitempty,max=200"`
	ActiveTopicID          *string `json:"active_topic_id"`
}

// SkillHandler serves the skill resource. Creating a skill consumes one unit
// of the monthly skills quota.
type SkillHandler struct {
	users     UserLookup
	skills    store.SkillStore
	content   contentReader
	gate      QuotaGate
	validator *core.Validator
	logger    *slog.Logger
}

// NewSkillHandler creates a SkillHandler.
func NewSkillHandler(
	users UserLookup,
	skills store.SkillStore,
	topics store.TopicStore,
	tasks store.TaskStore,
	gate QuotaGate,
	v *core.Validator,
	l *slog.Logger,
) *SkillHandler {
	if l == nil {
		l = slog.Default()
	}
	return &SkillHandler{
		users:     users,
		skills:    skills,
		content:   contentReader{skills: skills, topics: topics, tasks: tasks},
		gate:      gate,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts the skill routes.
func (h *SkillHandler) RegisterRoutes(r chi.Router) {
	r.Post("/skills", h.Create)
	r.Get("/skills/user/{userId}", h.ListByUser)
	r.Get("/skills/{id}", h.Get)
	r.Put("/skills/{id}", h.Update)
	r.Delete("/skills/{id}", h.Delete)
	r.Post("/skills/{id}/complete", h.Complete)
}

// Create handles POST /skills.
func (h *SkillHandler) Create(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}

	var req CreateSkillRequest
	if err := core.DecodeAndValidate(w, r, h.validator, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	d, err := h.gate.TryConsume(r.Context(), u.ID, types.CounterSkills)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !d.Allowed {
		core.Error(w, r, usage.QuotaError(types.CounterSkills, d))
		return
	}

	s := &types.Skill{
		UserID:                 u.ID,
		Name:                   strings.TrimSpace(req.Name),
		PreferredLearningStyle: req.PreferredLearningStyle,
		CurrentSkillLevel:      req.CurrentSkillLevel,
		Goal:                   req.Goal,
		AvailableTimePerWeek:   req.AvailableTimePerWeek,
		CoveredTopicIDs:        types.StringList{},
	}
	if err := h.skills.Create(r.Context(), s); err != nil {
		releaseQuota(r, h.gate, h.logger, u.ID, types.CounterSkills)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, s)
}

// Get handles GET /skills/{id}.
func (h *SkillHandler) Get(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}
	s, err := h.content.ownedSkill(r.Context(), u.ID, pathParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, s)
}

// ListByUser handles GET /skills/user/{userId}. userId is the local user id
// and must be the caller.
func (h *SkillHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}
	if pathParam(r, "userId") != u.ID {
		core.Error(w, r, notOwner("user"))
		return
	}

	skills, err := h.skills.ListByUser(r.Context(), u.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if skills == nil {
		skills = []types.Skill{}
	}
	core.JSON(w, r, http.StatusOK, skills)
}

// Update handles PUT /skills/{id}. A new active topic must belong to the
// skill.
func (h *SkillHandler) Update(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}
	s, err := h.content.ownedSkill(r.Context(), u.ID, pathParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req UpdateSkillRequest
	if err := core.DecodeAndValidate(w, r, h.validator, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if req.Name != nil {
		s.Name = strings.TrimSpace(*req.Name)
	}
	if req.PreferredLearningStyle != nil {
		s.PreferredLearningStyle = *req.PreferredLearningStyle
	}
	if req.CurrentSkillLevel != nil {
		s.CurrentSkillLevel = *req.CurrentSkillLevel
	}
	if req.Goal != nil {
		s.Goal = *req.Goal
	}
	if req.AvailableTimePerWeek != nil {
		s.AvailableTimePerWeek = *req.AvailableTimePerWeek
	}
	if req.ActiveTopicID != nil && *req.ActiveTopicID != s.ActiveTopicID {
		if id := *req.ActiveTopicID; id != "" {
			t, err := h.content.topics.GetByID(r.Context(), id)
			if err != nil {
				core.Error(w, r, err)
				return
			}
			if t.SkillID != s.ID {
				core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidInput,
					"active topic must belong to the skill", nil,
					map[string]any{"fields": map[string]string{"active_topic_id": "is not a topic of this skill"}}))
				return
			}
		}
		s.ActiveTopicID = *req.ActiveTopicID
	}

	if err := h.skills.Update(r.Context(), s); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, s)
}

// Delete handles DELETE /skills/{id}. The skill's topics and tasks are
// removed with it. The monthly counter is not refunded.
func (h *SkillHandler) Delete(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}
	s, err := h.content.ownedSkill(r.Context(), u.ID, pathParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.skills.Delete(r.Context(), s.ID); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, messageResponse{Message: "Skill deleted"})
}

// Complete handles POST /skills/{id}/complete.
func (h *SkillHandler) Complete(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}
	s, err := h.content.ownedSkill(r.Context(), u.ID, pathParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	completed, err := h.skills.MarkCompleted(r.Context(), s.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, completed)
}
