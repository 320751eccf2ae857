package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"roadmap/internal/core"
	"roadmap/internal/store"
	"roadmap/internal/types"
)

// TaskFields are the user-editable task properties shared by task creation
// and the tasks embedded in a topic creation.
type TaskFields struct {
	Name               string   `json:"name" validate:"required,notblank,max=200"`
	Difficulty         string   `json:"difficulty" validate:"required,difficulty"`
	Instructions       string   `json:"instructions" validate:"max=10000"`
	Objective          string   `json:"objective" validate:"max=10000"`
	CompletionCriteria string   `json:"completion_criteria" validate:"max=10000"`
	EstimatedTime      string   `json:"estimated_time" validate:"max=200"`
	Resources          []string `json:"resources" validate:"max=50,dive,max=2000"`
}

func (f TaskFields) toTask(topicID string) *types.Task {
	difficulty, _ := types.ParseDifficulty(f.Difficulty)
	return &types.Task{
		TopicID:            topicID,
		Name:               strings.TrimSpace(f.Name),
		Difficulty:         difficulty,
		Instructions:       f.Instructions,
		Objective:          f.Objective,
		CompletionCriteria: f.CompletionCriteria,
		EstimatedTime:      f.EstimatedTime,
		Resources:          types.StringList(f.Resources).Clean(types.MaxListItems),
	}
}

// CreateTaskRequest is the request body for POST /tasks.
type CreateTaskRequest struct {
	TopicID string `json:"topic_id" validate:"required"`
	TaskFields
}

// UpdateTaskRequest is the request body for PUT /tasks/{id}. Omitted fields
// keep their current value.
type UpdateTaskRequest struct {
	Name               *string   `json:"name" validate:"omitempty,notblank,max=200"`
	Difficulty         *string   `json:"difficulty" validate:"omitempty,difficulty"`
	Instructions       *string   `json:"instructions" validate:"omitempty,max=10000"`
	Objective          *string   `json:"objective" validate:"omitempty,max=10000"`
	CompletionCriteria *string   `json:"completion_criteria" validate:"omitempty,max=10000"`
	EstimatedTime      *string   `json:"estimated_time" validate:"omitempty,max=200"`
	Resources          *[]string `json:"resources" validate:"omitempty,max=50,dive,max=2000"`
	IsCompleted        *bool     `json:"is_completed"`
}

// TaskHandler serves the task resource.
type TaskHandler struct {
	users     UserLookup
	tasks     store.TaskStore
	content   contentReader
	validator *core.Validator
	logger    *slog.Logger
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(
	users UserLookup,
	skills store.SkillStore,
	topics store.TopicStore,
	tasks store.TaskStore,
	v *core.Validator,
	l *slog.Logger,
) *TaskHandler {
	if l == nil {
		l = slog.Default()
	}
	return &TaskHandler{
		users:     users,
		tasks:     tasks,
		content:   contentReader{skills: skills, topics: topics, tasks: tasks},
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts the task routes.
func (h *TaskHandler) RegisterRoutes(r chi.Router) {
	r.Post("/tasks", h.Create)
	r.Get("/tasks/topic/{topicId}", h.ListByTopic)
	r.Get("/tasks/{id}", h.Get)
	r.Put("/tasks/{id}", h.Update)
	r.Delete("/tasks/{id}", h.Delete)
}

// Create handles POST /tasks.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}

	var req CreateTaskRequest
	if err := core.DecodeAndValidate(w, r, h.validator, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	topic, err := h.content.ownedTopic(r.Context(), u.ID, req.TopicID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	t := req.toTask(topic.ID)
	if err := h.tasks.Create(r.Context(), t); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusCreated, t)
}

// Get handles GET /tasks/{id}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}
	t, err := h.content.ownedTask(r.Context(), u.ID, pathParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, t)
}

// ListByTopic handles GET /tasks/topic/{topicId}.
func (h *TaskHandler) ListByTopic(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}
	topic, err := h.content.ownedTopic(r.Context(), u.ID, pathParam(r, "topicId"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	tasks, err := h.tasks.ListByTopic(r.Context(), topic.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []types.Task{}
	}
	core.JSON(w, r, http.StatusOK, tasks)
}

// Update handles PUT /tasks/{id}.
func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}
	t, err := h.content.ownedTask(r.Context(), u.ID, pathParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req UpdateTaskRequest
	if err := core.DecodeAndValidate(w, r, h.validator, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if req.Name != nil {
		t.Name = strings.TrimSpace(*req.Name)
	}
	if req.Difficulty != nil {
		t.Difficulty, _ = types.ParseDifficulty(*req.Difficulty)
	}
	if req.Instructions != nil {
		t.Instructions = *req.Instructions
	}
	if req.Objective != nil {
		t.Objective = *req.Objective
	}
	if req.CompletionCriteria != nil {
		t.CompletionCriteria = *req.CompletionCriteria
	}
	if req.EstimatedTime != nil {
		t.EstimatedTime = *req.EstimatedTime
	}
	if req.Resources != nil {
		t.Resources = types.StringList(*req.Resources).Clean(types.MaxListItems)
	}
	if req.IsCompleted != nil {
		t.IsCompleted = *req.IsCompleted
	}

	if err := h.tasks.Update(r.Context(), t); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, t)
}

// Delete handles DELETE /tasks/{id}.
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r, h.users)
	if !ok {
		return
	}
	t, err := h.content.ownedTask(r.Context(), u.ID, pathParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.tasks.Delete(r.Context(), t.ID); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, messageResponse{Message: "Task deleted"})
}
