package docstore

import (
	"context"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"golang.org/x/sync/errgroup"

	"roadmap/internal/types"
)

// deleteOne removes one document by id and maps a zero count to code.
func deleteOne(ctx context.Context, coll *mongo.Collection, id string, code types.ErrorCode, op string) error {
	res, err := coll.DeleteOne(ctx, byID(id))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, op, err)
	}
	if res.DeletedCount == 0 {
		return types.NewAppError(code, notFoundMessage(code), nil)
	}
	return nil
}

// SkillRepository stores skills and cascades deletes to topics and tasks.
type SkillRepository struct {
	skills *mongo.Collection
	topics *mongo.Collection
	tasks  *mongo.Collection
}

// NewSkillRepository creates a new SkillRepository over db.
func NewSkillRepository(db *mongo.Database) *SkillRepository {
	return &SkillRepository{
		skills: db.Collection(skillsCollection),
		topics: db.Collection(topicsCollection),
		tasks:  db.Collection(tasksCollection),
	}
}

// Create inserts s. ID is generated when empty.
func (r *SkillRepository) Create(ctx context.Context, s *types.Skill) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CoveredTopicIDs == nil {
		s.CoveredTopicIDs = types.StringList{}
	}
	s.CreatedAt = now()
	s.UpdatedAt = s.CreatedAt

	if _, err := r.skills.InsertOne(ctx, s); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create skill", err)
	}
	return nil
}

// GetByID retrieves a skill by primary key.
func (r *SkillRepository) GetByID(ctx context.Context, id string) (*types.Skill, error) {
	var s types.Skill
	if err := r.skills.FindOne(ctx, byID(id)).Decode(&s); err != nil {
		return nil, lookupError(err, types.ErrCodeNotFoundSkill, "failed to retrieve skill")
	}
	return &s, nil
}

// ListByUser returns the user's skills, oldest first.
func (r *SkillRepository) ListByUser(ctx context.Context, userID string) ([]types.Skill, error) {
	cur, err := r.skills.Find(ctx, bson.M{"userId": userID}, ascending())
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list skills", err)
	}
	skills := []types.Skill{}
	if err := cur.All(ctx, &skills); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode skills", err)
	}
	return skills, nil
}

// skillUpdate renders the editable skill fields. Covered topics are left to
// AddCoveredTopic.
func skillUpdate(s *types.Skill) bson.M {
	return bson.M{"$set": bson.M{
		"name":                   s.Name,
		"activeTopicId":          s.ActiveTopicID,
		"preferredLearningStyle": s.PreferredLearningStyle,
		"currentSkillLevel":      s.CurrentSkillLevel,
		"goal":                   s.Goal,
		"availableTimePerWeek":   s.AvailableTimePerWeek,
		"isCompleted":            s.IsCompleted,
		"updatedAt":              s.UpdatedAt,
	}}
}

// Update writes the editable skill fields.
func (r *SkillRepository) Update(ctx context.Context, s *types.Skill) error {
	s.UpdatedAt = now()
	res, err := r.skills.UpdateOne(ctx, byID(s.ID), skillUpdate(s))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update skill", err)
	}
	if res.MatchedCount == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSkill, "skill not found", nil)
	}
	return nil
}

// coveredTopicUpdate appends topicID once and activates it.
func coveredTopicUpdate(topicID string) bson.M {
	return bson.M{
		"$addToSet": bson.M{"coveredTopicIds": topicID},
		"$set":      bson.M{"activeTopicId": topicID, "updatedAt": now()},
	}
}

// AddCoveredTopic records topicID as covered and active.
func (r *SkillRepository) AddCoveredTopic(ctx context.Context, skillID, topicID string) error {
	res, err := r.skills.UpdateOne(ctx, byID(skillID), coveredTopicUpdate(topicID))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record covered topic", err)
	}
	if res.MatchedCount == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSkill, "skill not found", nil)
	}
	return nil
}

// MarkCompleted flags the skill as completed and returns it.
func (r *SkillRepository) MarkCompleted(ctx context.Context, id string) (*types.Skill, error) {
	var s types.Skill
	err := r.skills.FindOneAndUpdate(ctx, byID(id),
		bson.M{"$set": bson.M{"isCompleted": true, "updatedAt": now()}},
		returnAfter(),
	).Decode(&s)
	if err != nil {
		return nil, lookupError(err, types.ErrCodeNotFoundSkill, "failed to complete skill")
	}
	return &s, nil
}

// Delete removes the skill, its topics and their tasks.
func (r *SkillRepository) Delete(ctx context.Context, id string) error {
	topicIDs, err := idsOf(ctx, r.topics, bson.M{"skillId": id})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to list skill topics", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := r.tasks.DeleteMany(gctx, bson.M{"topicId": bson.M{"$in": topicIDs}})
		return err
	})
	g.Go(func() error {
		_, err := r.topics.DeleteMany(gctx, bson.M{"skillId": id})
		return err
	})
	if err := g.Wait(); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete skill content", err)
	}

	return deleteOne(ctx, r.skills, id, types.ErrCodeNotFoundSkill, "failed to delete skill")
}

// TopicRepository stores topics and cascades deletes to tasks.
type TopicRepository struct {
	skills *mongo.Collection
	topics *mongo.Collection
	tasks  *mongo.Collection
}

// NewTopicRepository creates a new TopicRepository over db.
func NewTopicRepository(db *mongo.Database) *TopicRepository {
	return &TopicRepository{
		skills: db.Collection(skillsCollection),
		topics: db.Collection(topicsCollection),
		tasks:  db.Collection(tasksCollection),
	}
}

// Create inserts t. ID is generated when empty.
func (r *TopicRepository) Create(ctx context.Context, t *types.Topic) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = now()
	t.UpdatedAt = t.CreatedAt

	if _, err := r.topics.InsertOne(ctx, t); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create topic", err)
	}
	return nil
}

// GetByID retrieves a topic by primary key.
func (r *TopicRepository) GetByID(ctx context.Context, id string) (*types.Topic, error) {
	var t types.Topic
	if err := r.topics.FindOne(ctx, byID(id)).Decode(&t); err != nil {
		return nil, lookupError(err, types.ErrCodeNotFoundTopic, "failed to retrieve topic")
	}
	return &t, nil
}

// ListBySkill returns the skill's topics in creation order.
func (r *TopicRepository) ListBySkill(ctx context.Context, skillID string) ([]types.Topic, error) {
	cur, err := r.topics.Find(ctx, bson.M{"skillId": skillID}, ascending())
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list topics", err)
	}
	topics := []types.Topic{}
	if err := cur.All(ctx, &topics); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode topics", err)
	}
	return topics, nil
}

// Update writes the editable topic fields.
func (r *TopicRepository) Update(ctx context.Context, t *types.Topic) error {
	t.UpdatedAt = now()
	res, err := r.topics.UpdateOne(ctx, byID(t.ID), bson.M{"$set": bson.M{
		"name":                 t.Name,
		"recommendedResources": t.RecommendedResources,
		"learningObjectives":   t.LearningObjectives,
		"updatedAt":            t.UpdatedAt,
	}})
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update topic", err)
	}
	if res.MatchedCount == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTopic, "topic not found", nil)
	}
	return nil
}

// Delete removes the topic and its tasks and clears it as an active topic.
func (r *TopicRepository) Delete(ctx context.Context, id string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := r.tasks.DeleteMany(gctx, bson.M{"topicId": id})
		return err
	})
	g.Go(func() error {
		_, err := r.skills.UpdateMany(gctx,
			bson.M{"activeTopicId": id},
			bson.M{"$set": bson.M{"activeTopicId": "", "updatedAt": now()}},
		)
		return err
	})
	if err := g.Wait(); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete topic content", err)
	}

	return deleteOne(ctx, r.topics, id, types.ErrCodeNotFoundTopic, "failed to delete topic")
}

// TaskRepository stores tasks.
type TaskRepository struct {
	tasks *mongo.Collection
}

// NewTaskRepository creates a new TaskRepository over db.
func NewTaskRepository(db *mongo.Database) *TaskRepository {
	return &TaskRepository{tasks: db.Collection(tasksCollection)}
}

// Create inserts t. ID is generated when empty.
func (r *TaskRepository) Create(ctx context.Context, t *types.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = now()
	t.UpdatedAt = t.CreatedAt

	if _, err := r.tasks.InsertOne(ctx, t); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create task", err)
	}
	return nil
}

// GetByID retrieves a task by primary key.
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*types.Task, error) {
	var t types.Task
	if err := r.tasks.FindOne(ctx, byID(id)).Decode(&t); err != nil {
		return nil, lookupError(err, types.ErrCodeNotFoundTask, "failed to retrieve task")
	}
	return &t, nil
}

// ListByTopic returns the topic's tasks in creation order.
func (r *TaskRepository) ListByTopic(ctx context.Context, topicID string) ([]types.Task, error) {
	cur, err := r.tasks.Find(ctx, bson.M{"topicId": topicID}, ascending())
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list tasks", err)
	}
	tasks := []types.Task{}
	if err := cur.All(ctx, &tasks); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode tasks", err)
	}
	return tasks, nil
}

// taskUpdate renders every editable task field.
func taskUpdate(t *types.Task) bson.M {
	return bson.M{"$set": bson.M{
		"name":               t.Name,
		"difficulty":         t.Difficulty,
		"instructions":       t.Instructions,
		"objective":          t.Objective,
		"completionCriteria": t.CompletionCriteria,
		"estimatedTime":      t.EstimatedTime,
		"resources":          t.Resources,
		"isCompleted":        t.IsCompleted,
		"updatedAt":          t.UpdatedAt,
	}}
}

// Update writes every editable task field.
func (r *TaskRepository) Update(ctx context.Context, t *types.Task) error {
	t.UpdatedAt = now()
	res, err := r.tasks.UpdateOne(ctx, byID(t.ID), taskUpdate(t))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update task", err)
	}
	if res.MatchedCount == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTask, "task not found", nil)
	}
	return nil
}

// Delete removes one task.
func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	return deleteOne(ctx, r.tasks, id, types.ErrCodeNotFoundTask, "failed to delete task")
}
