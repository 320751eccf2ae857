// Package ai shapes prompts for the content generation endpoints and turns
// model output into validated JSON. The model clients live in external.
package ai

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"roadmap/internal/external"
	"roadmap/internal/types"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompts/*.tmpl"))

// LearnerProfile is the learner context sent with every generation prompt.
type LearnerProfile struct {
	Goal                   string   `json:"goal"`
	Skill                  string   `json:"skill"`
	AvailableTimePerWeek   string   `json:"available_time_per_week"`
	CurrentSkillLevel      string   `json:"current_skill_level"`
	PreferredLearningStyle string   `json:"preferred_learning_style"`
	CoveredTopics          []string `json:"covered_topics"`
	TopicName              string   `json:"topic_name,omitempty"`
}

// TaskAction is the learner feedback that triggers a task revision.
type TaskAction string

const (
	ActionTooEasy        TaskAction = "Too easy"
	ActionTooHard        TaskAction = "Too hard"
	ActionDontUnderstand TaskAction = "Dont understand"
)

// ParseTaskAction accepts the three feedback labels exactly as the client
// sends them.
func ParseTaskAction(s string) (TaskAction, error) {
	switch a := TaskAction(s); a {
	case ActionTooEasy, ActionTooHard, ActionDontUnderstand:
		return a, nil
	}
	return "", types.NewAppErrorWithDetails(types.ErrCodeValidationTaskAction,
		"invalid action specified", nil,
		map[string]any{"allowed": []TaskAction{ActionTooEasy, ActionTooHard, ActionDontUnderstand}})
}

// TaskRevision is the model's rewrite of a task.
type TaskRevision struct {
	Name               string           `json:"name"`
	Instructions       string           `json:"instructions"`
	Resources          []string         `json:"resources"`
	CompletionCriteria string           `json:"completionCriteria"`
	EstimatedTime      string           `json:"estimatedTime"`
	Difficulty         types.Difficulty `json:"difficulty"`
	Objective          string           `json:"objective"`
}

// TopicSummary recaps a completed topic.
type TopicSummary struct {
	Summary      string   `json:"summary"`
	KeyTakeaways []string `json:"keyTakeaways"`
}

// Service runs the generation prompts. Either client may be nil when its
// API key is not configured; the matching operations then fail with an
// upstream error.
type Service struct {
	chat      external.ChatCompleter
	generator external.ContentGenerator
	logger    *slog.Logger
}

// NewService creates a Service over the OpenAI-style chat client and the
// Gemini-style single-prompt generator.
func NewService(chat external.ChatCompleter, generator external.ContentGenerator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		chat:      chat,
		generator: generator,
		logger:    logger.With("component", "ai"),
	}
}

// GenerateLearningPath asks the chat model for the next topic in JSON mode
// and returns the parsed object unchanged.
func (s *Service) GenerateLearningPath(ctx context.Context, learner LearnerProfile) (json.RawMessage, error) {
	if s.chat == nil {
		return nil, notConfigured("chat completion")
	}
	prompt, err := learningPathPrompt(learner, false)
	if err != nil {
		return nil, err
	}

	raw, err := s.chat.Complete(ctx, []external.ChatMessage{{Role: "system", Content: prompt}}, true)
	if err != nil {
		return nil, err
	}

	doc, err := extractJSONObject(raw)
	if err != nil {
		s.logFailure(ctx, "learning path is not JSON", raw, err)
		return nil, invalidResponse("failed to parse learning path", err)
	}
	return doc, nil
}

// GenerateStrictLearningPath asks the single-prompt model for the next topic
// and rejects any response whose tasks lack a valid difficulty.
func (s *Service) GenerateStrictLearningPath(ctx context.Context, learner LearnerProfile) (json.RawMessage, error) {
	if s.generator == nil {
		return nil, notConfigured("content generation")
	}
	prompt, err := learningPathPrompt(learner, true)
	if err != nil {
		return nil, err
	}

	raw, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	doc, err := asJSONObject(stripCodeFences(raw))
	if err != nil {
		s.logFailure(ctx, "learning path is not JSON", raw, err)
		return nil, invalidResponse("failed to parse learning path", err)
	}
	if err := validateLearningPath(doc); err != nil {
		s.logFailure(ctx, "learning path failed validation", raw, err)
		return nil, invalidResponse("invalid learning path structure", err)
	}
	return doc, nil
}

// ReviseTask rewrites task according to the learner's feedback. A missing
// objective is carried over from the task; a missing difficulty becomes
// easy and an unrecognized one keeps the task's current difficulty.
func (s *Service) ReviseTask(ctx context.Context, task *types.Task, action TaskAction, learner LearnerProfile) (*TaskRevision, error) {
	if s.generator == nil {
		return nil, notConfigured("content generation")
	}

	taskJSON, err := json.Marshal(struct {
		Name               string           `json:"name"`
		Instructions       string           `json:"instructions"`
		Objective          string           `json:"objective"`
		Resources          []string         `json:"resources"`
		CompletionCriteria string           `json:"completionCriteria"`
		EstimatedTime      string           `json:"estimatedTime"`
		Difficulty         types.Difficulty `json:"difficulty"`
	}{task.Name, task.Instructions, task.Objective, task.Resources, task.CompletionCriteria, task.EstimatedTime, task.Difficulty})
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}
	learnerJSON, err := json.Marshal(learner)
	if err != nil {
		return nil, fmt.Errorf("marshal learner: %w", err)
	}

	prompt, err := render("task_revision.tmpl", map[string]any{
		"TaskJSON":    string(taskJSON),
		"LearnerJSON": string(learnerJSON),
		"Action":      string(action),
		"Objective":   task.Objective,
		"Difficulty":  string(task.Difficulty),
	})
	if err != nil {
		return nil, err
	}

	raw, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var out struct {
		Name               string       `json:"name"`
		Instructions       string       `json:"instructions"`
		Resources          flexibleList `json:"resources"`
		CompletionCriteria string       `json:"completionCriteria"`
		EstimatedTime      string       `json:"estimatedTime"`
		Difficulty         string       `json:"difficulty"`
		Objective          string       `json:"objective"`
	}
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), &out); err != nil {
		s.logFailure(ctx, "task revision is not JSON", raw, err)
		return nil, invalidResponse("failed to parse task revision", err)
	}

	rev := &TaskRevision{
		Name:               out.Name,
		Instructions:       out.Instructions,
		Resources:          []string(out.Resources),
		CompletionCriteria: out.CompletionCriteria,
		EstimatedTime:      out.EstimatedTime,
		Objective:          out.Objective,
	}
	if rev.Resources == nil {
		rev.Resources = []string{}
	}
	if rev.Objective == "" {
		rev.Objective = task.Objective
	}
	switch d, ok := types.ParseDifficulty(out.Difficulty); {
	case strings.TrimSpace(out.Difficulty) == "":
		rev.Difficulty = types.DifficultyEasy
	case ok:
		rev.Difficulty = d
	default:
		s.logger.WarnContext(ctx, "model returned unknown difficulty, keeping current",
			"task_id", task.ID,
			"difficulty", out.Difficulty,
		)
		rev.Difficulty = task.Difficulty
	}
	return rev, nil
}

// SummarizeTopic recaps topic and its tasks for a learner who finished it.
func (s *Service) SummarizeTopic(ctx context.Context, topic *types.Topic, tasks []types.Task) (*TopicSummary, error) {
	if s.generator == nil {
		return nil, notConfigured("content generation")
	}

	type taskDetail struct {
		Name          string `json:"name"`
		Instructions  string `json:"instructions"`
		Objective     string `json:"objective"`
		EstimatedTime string `json:"estimatedTime"`
	}
	details := make([]taskDetail, 0, len(tasks))
	for _, t := range tasks {
		details = append(details, taskDetail{t.Name, t.Instructions, t.Objective, t.EstimatedTime})
	}
	tasksJSON, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("marshal tasks: %w", err)
	}

	prompt, err := render("topic_summary.tmpl", map[string]any{
		"Name":       topic.Name,
		"Resources":  strings.Join(topic.RecommendedResources, ", "),
		"Objectives": strings.Join(topic.LearningObjectives, ", "),
		"TasksJSON":  string(tasksJSON),
	})
	if err != nil {
		return nil, err
	}

	raw, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var summary TopicSummary
	if err := json.Unmarshal([]byte(stripCodeFences(raw)), &summary); err != nil {
		s.logFailure(ctx, "topic summary is not JSON", raw, err)
		return nil, invalidResponse("failed to parse topic summary", err)
	}
	if summary.KeyTakeaways == nil {
		summary.KeyTakeaways = []string{}
	}
	return &summary, nil
}

func learningPathPrompt(learner LearnerProfile, requireDifficulty bool) (string, error) {
	if learner.CoveredTopics == nil {
		learner.CoveredTopics = []string{}
	}
	learnerJSON, err := json.MarshalIndent(learner, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal learner: %w", err)
	}
	return render("learning_path.tmpl", map[string]any{
		"LearnerJSON":       string(learnerJSON),
		"RequireDifficulty": requireDifficulty,
	})
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return buf.String(), nil
}

func (s *Service) logFailure(ctx context.Context, msg, raw string, err error) {
	s.logger.WarnContext(ctx, msg,
		"error", err,
		"response_bytes", len(raw),
	)
	s.logger.DebugContext(ctx, "raw model response", "response", raw)
}

func notConfigured(what string) error {
	return types.NewAppError(types.ErrCodeUpstreamLLM, what+" is not configured", nil)
}

func invalidResponse(msg string, err error) error {
	return types.NewAppErrorWithDetails(types.ErrCodeUpstreamLLMResponse, msg, err,
		map[string]any{"reason": err.Error()})
}
