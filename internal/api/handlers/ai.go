package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"roadmap/internal/ai"
	"roadmap/internal/core"
	"roadmap/internal/store"
	"roadmap/internal/types"
)

// ContentGenerator is the prompt layer behind the /ai routes.
type ContentGenerator interface {
	GenerateLearningPath(ctx context.Context, learner ai.LearnerProfile) (json.RawMessage, error)
	GenerateStrictLearningPath(ctx context.Context, learner ai.LearnerProfile) (json.RawMessage, error)
	ReviseTask(ctx context.Context, task *types.Task, action ai.TaskAction, learner ai.LearnerProfile) (*ai.TaskRevision, error)
	SummarizeTopic(ctx context.Context, topic *types.Topic, tasks []types.Task) (*ai.TopicSummary, error)
}

// LearnerRequest is the learner context accepted by the generation routes.
// When SkillID names one of the caller's skills, blank fields are filled
// from the stored skill and its covered topics.
type LearnerRequest struct {
	SkillID                string   `json:"skill_id"`
	Goal                   string   `json:"goal" validate:"max=10000"`
	Skill                  string   `json:"skill" validate:"max=200"`
	AvailableTimePerWeek   string   `json:"available_time_per_week" validate:"max=200"`
	CurrentSkillLevel      string   `json:"current_skill_level" validate:"max=200"`
	PreferredLearningStyle string   `json:"preferred_learning_style" validate:"max=200"`
	CoveredTopics          []string `json:"covered_topics" validate:"max=200,dive,max=200"`
	TopicName              string   `json:"topic_name" validate:"max=200"`
}

// TaskActionRequest is the request body for POST /ai/task-action.
type TaskActionRequest struct {
	TaskID string `json:"taskId" validate:"required"`
	Action string `json:"action" validate:"required"`
	LearnerRequest
}

// TopicSummaryRequest is the request body for POST /ai/topic-summary.
type TopicSummaryRequest struct {
	TopicID string `json:"topicId" validate:"required"`
}

type taskActionResponse struct {
	TaskUpdate *ai.TaskRevision `json:"taskUpdate"`
}

// AIHandler proxies the content generation endpoints. Generated content is
// returned to the client and never stored here; the client saves accepted
// topics through POST /topics.
type AIHandler struct {
	users     UserLookup
	content   contentReader
	tasks     store.TaskStore
	generator ContentGenerator
	validator *core.Validator
	logger    *slog.Logger
}

// NewAIHandler creates an AIHandler.
func NewAIHandler(
	users UserLookup,
	skills store.SkillStore,
	topics store.TopicStore,
	tasks store.TaskStore,
	generator ContentGenerator,
	v *core.Validator,
	l *slog.Logger,
) *AIHandler {
	if l == nil {
		l = slog.Default()
	}
	return &AIHandler{
		users:     users,
		content:   contentReader{skills: skills, topics: topics, tasks: tasks},
		tasks:     tasks,
		generator: generator,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts the generation routes.
func (h *AIHandler) RegisterRoutes(r chi.Router) {
	r.Post("/ai/generate-learning-path", h.GenerateLearningPath)
	r.Post("/ai/generate-learning-path2", h.GenerateStrictLearningPath)
	r.Post("/ai/task-action", h.TaskAction)
	r.Post("/ai/topic-summary", h.TopicSummary)
}

// GenerateLearningPath handles POST /ai/generate-learning-path.
func (h *AIHandler) GenerateLearningPath(w http.ResponseWriter, r *http.Request) {
	h.learningPath(w, r, h.generator.GenerateLearningPath)
}

// GenerateStrictLearningPath handles POST /ai/generate-learning-path2. Every
// returned task carries a valid difficulty.
func (h *AIHandler) GenerateStrictLearningPath(w http.ResponseWriter, r *http.Request) {
	h.learningPath(w, r, h.generator.GenerateStrictLearningPath)
}

func (h *AIHandler) learningPath(
	w http.ResponseWriter,
	r *http.Request,
	generate func(context.Context, ai.LearnerProfile) (json.RawMessage, error),
) {
	u, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}

	var req LearnerRequest
	if err := core.DecodeAndValidate(w, r, h.validator, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	learner, err := h.learner(r.Context(), u.ID, req)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	doc, err := generate(r.Context(), learner)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, doc)
}

// TaskAction handles POST /ai/task-action and returns the revised task
// without saving it.
func (h *AIHandler) TaskAction(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}

	var req TaskActionRequest
	if err := core.DecodeAndValidate(w, r, h.validator, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	action, err := ai.ParseTaskAction(req.Action)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	task, err := h.content.ownedTask(r.Context(), u.ID, req.TaskID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	learner, err := h.learner(r.Context(), u.ID, req.LearnerRequest)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	rev, err := h.generator.ReviseTask(r.Context(), task, action, learner)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "task revised",
		"task_id", task.ID,
		"action", string(action),
		"difficulty", string(rev.Difficulty),
	)
	core.JSON(w, r, http.StatusOK, taskActionResponse{TaskUpdate: rev})
}

// TopicSummary handles POST /ai/topic-summary.
func (h *AIHandler) TopicSummary(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}

	var req TopicSummaryRequest
	if err := core.DecodeAndValidate(w, r, h.validator, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	topic, err := h.content.ownedTopic(r.Context(), u.ID, req.TopicID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	tasks, err := h.tasks.ListByTopic(r.Context(), topic.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	summary, err := h.generator.SummarizeTopic(r.Context(), topic, tasks)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, summary)
}

// learner builds the prompt context from the request, completing it from the
// stored skill when one is referenced.
func (h *AIHandler) learner(ctx context.Context, userID string, req LearnerRequest) (ai.LearnerProfile, error) {
	p := ai.LearnerProfile{
		Goal:                   req.Goal,
		Skill:                  req.Skill,
		AvailableTimePerWeek:   req.AvailableTimePerWeek,
		CurrentSkillLevel:      req.CurrentSkillLevel,
		PreferredLearningStyle: req.PreferredLearningStyle,
		CoveredTopics:          req.CoveredTopics,
		TopicName:              req.TopicName,
	}
	if req.SkillID == "" {
		return p, nil
	}

	s, err := h.content.ownedSkill(ctx, userID, req.SkillID)
	if err != nil {
		return p, err
	}
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&p.Goal, s.Goal)
	fill(&p.Skill, s.Name)
	fill(&p.AvailableTimePerWeek, s.AvailableTimePerWeek)
	fill(&p.CurrentSkillLevel, s.CurrentSkillLevel)
	fill(&p.PreferredLearningStyle, s.PreferredLearningStyle)

	if p.CoveredTopics == nil {
		p.CoveredTopics = make([]string, 0, len(s.CoveredTopicIDs))
		for _, id := range s.CoveredTopicIDs {
			t, err := h.content.topics.GetByID(ctx, id)
			if types.IsCode(err, types.ErrCodeNotFoundTopic) {
				continue
			}
			if err != nil {
				return p, err
			}
			p.CoveredTopics = append(p.CoveredTopics, t.Name)
		}
	}
	return p, nil
}
