package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"roadmap/internal/core"
	"roadmap/internal/store"
	"roadmap/internal/types"
	"roadmap/internal/usage"
)

// CreateTopicRequest is the request body for POST /topics. Tasks may be sent
// inline, as produced by the learning path generator.
type CreateTopicRequest struct {
	SkillID              string       `json:"skill_id" validate:"required"`
	Name                 string       `json:"name" validate:"required,notblank,max=200"`
	RecommendedResources []string     `json:"recommended_resources" validate:"max=50,dive,max=2000"`
	LearningObjectives   []string     `json:"learning_objectives" validate:"max=50,dive,max=2000"`
	Tasks                []TaskFields `json:"tasks" validate:"max=50,dive"`
}

// UpdateTopicRequest is the request body for PUT /topics/{id}.
type UpdateTopicRequest struct {
	Name                 *string   `json:"name" validate:"omitempty,notblank,max=200"`
	RecommendedResources *[]string `json:"recommended_resources" validate:"omitempty,max=50,dive,max=2000"`
	LearningObjectives   *[]string `json:"learning_objectives" validate:"omitempty,max=50,dive,max=2000"`
}

// TopicResponse is a topic with its tasks.
type TopicResponse struct {
	*types.Topic
	Tasks []types.Task `json:"tasks"`
}

// TopicHandler serves the topic resource. Creating a topic consumes one unit
// of the monthly topics quota.
type TopicHandler struct {
	users     UserLookup
	skills    store.SkillStore
	topics    store.TopicStore
	tasks     store.TaskStore
	content   contentReader
	gate      QuotaGate
	validator *core.Validator
	logger    *slog.Logger
}

// NewTopicHandler creates a TopicHandler.
func NewTopicHandler(
	users UserLookup,
	skills store.SkillStore,
	topics store.TopicStore,
	tasks store.TaskStore,
	gate QuotaGate,
	v *core.Validator,
	l *slog.Logger,
) *TopicHandler {
	if l == nil {
		l = slog.Default()
	}
	return &TopicHandler{
		users:     users,
		skills:    skills,
		topics:    topics,
		tasks:     tasks,
		content:   contentReader{skills: skills, topics: topics, tasks: tasks},
		gate:      gate,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts the topic routes.
func (h *TopicHandler) RegisterRoutes(r chi.Router) {
	r.Post("/topics", h.Create)
	r.Get("/topics/skill/{skillId}", h.ListBySkill)
	r.Get("/topics/{id}", h.Get)
	r.Put("/topics/{id}", h.Update)
	r.Delete("/topics/{id}", h.Delete)
}

// Create handles POST /topics. The skill must belong to the caller; the new
// topic is appended to the skill's covered topics and becomes its active
// topic.
func (h *TopicHandler) Create(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}

	var req CreateTopicRequest
	if err := core.DecodeAndValidate(w, r, h.validator, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	skill, err := h.content.ownedSkill(r.Context(), u.ID, req.SkillID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	d, err := h.gate.TryConsume(r.Context(), u.ID, types.CounterTopics)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !d.Allowed {
		core.Error(w, r, usage.QuotaError(types.CounterTopics, d))
		return
	}

	topic := &types.Topic{
		SkillID:              skill.ID,
		Name:                 strings.TrimSpace(req.Name),
		RecommendedResources: types.StringList(req.RecommendedResources).Clean(types.MaxListItems),
		LearningObjectives:   types.StringList(req.LearningObjectives).Clean(types.MaxListItems),
	}
	if err := h.topics.Create(r.Context(), topic); err != nil {
		releaseQuota(r, h.gate, h.logger, u.ID, types.CounterTopics)
		core.Error(w, r, err)
		return
	}

	tasks, err := h.attach(r.Context(), skill.ID, topic.ID, req.Tasks)
	if err != nil {
		h.discard(r, topic.ID)
		releaseQuota(r, h.gate, h.logger, u.ID, types.CounterTopics)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, TopicResponse{Topic: topic, Tasks: tasks})
}

// attach stores the inline tasks of a new topic and records the topic on
// its skill.
func (h *TopicHandler) attach(ctx context.Context, skillID, topicID string, fields []TaskFields) ([]types.Task, error) {
	tasks := make([]types.Task, 0, len(fields))
	for _, f := range fields {
		t := f.toTask(topicID)
		if err := h.tasks.Create(ctx, t); err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	if err := h.skills.AddCoveredTopic(ctx, skillID, topicID); err != nil {
		return nil, err
	}
	return tasks, nil
}

// discard removes a half-created topic together with any tasks already
// stored for it.
func (h *TopicHandler) discard(r *http.Request, topicID string) {
	ctx := context.WithoutCancel(r.Context())
	if err := h.topics.Delete(ctx, topicID); err != nil {
		h.logger.ErrorContext(ctx, "failed to remove partially created topic",
			"topic_id", topicID,
			"error", err,
		)
	}
}

// Get handles GET /topics/{id}.
func (h *TopicHandler) Get(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}
	topic, err := h.content.ownedTopic(r.Context(), u.ID, pathParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp, err := h.withTasks(r, topic)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, resp)
}

// ListBySkill handles GET /topics/skill/{skillId}.
func (h *TopicHandler) ListBySkill(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}
	skill, err := h.content.ownedSkill(r.Context(), u.ID, pathParam(r, "skillId"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	topics, err := h.topics.ListBySkill(r.Context(), skill.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	out := make([]TopicResponse, 0, len(topics))
	for i := range topics {
		resp, err := h.withTasks(r, &topics[i])
		if err != nil {
			core.Error(w, r, err)
			return
		}
		out = append(out, resp)
	}
	core.JSON(w, r, http.StatusOK, out)
}

// Update handles PUT /topics/{id}.
func (h *TopicHandler) Update(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}
	topic, err := h.content.ownedTopic(r.Context(), u.ID, pathParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req UpdateTopicRequest
	if err := core.DecodeAndValidate(w, r, h.validator, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if req.Name != nil {
		topic.Name = strings.TrimSpace(*req.Name)
	}
	if req.RecommendedResources != nil {
		topic.RecommendedResources = types.StringList(*req.RecommendedResources).Clean(types.MaxListItems)
	}
	if req.LearningObjectives != nil {
		topic.LearningObjectives = types.StringList(*req.LearningObjectives).Clean(types.MaxListItems)
	}

	if err := h.topics.Update(r.Context(), topic); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, topic)
}

// Delete handles DELETE /topics/{id}. Tasks go with the topic.
func (h *TopicHandler) Delete(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}
	topic, err := h.content.ownedTopic(r.Context(), u.ID, pathParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.topics.Delete(r.Context(), topic.ID); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, messageResponse{Message: "Topic deleted"})
}

func (h *TopicHandler) withTasks(r *http.Request, topic *types.Topic) (TopicResponse, error) {
	tasks, err := h.tasks.ListByTopic(r.Context(), topic.ID)
	if err != nil {
		return TopicResponse{}, err
	}
	if tasks == nil {
		tasks = []types.Task{}
	}
	return TopicResponse{Topic: topic, Tasks: tasks}, nil
}
