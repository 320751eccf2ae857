package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"roadmap/internal/types"
)

// TopicRepository provides data access for the topics table.
type TopicRepository struct {
	db DBTX
}

// NewTopicRepository creates a new TopicRepository.
func NewTopicRepository(db DBTX) *TopicRepository {
	return &TopicRepository{db: db}
}

const topicColumns = `id, skill_id, name, recommended_resources, learning_objectives, created_at, updated_at`

func scanTopic(row pgx.Row) (*types.Topic, error) {
	var t types.Topic
	if err := row.Scan(
		&t.ID,
		&t.SkillID,
		&t.Name,
		&t.RecommendedResources,
		&t.LearningObjectives,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

func topicLookupError(err error, op string) error {
	if isNoMatch(err) {
		return types.NewAppError(types.ErrCodeNotFoundTopic, "topic not found", nil)
	}
	return types.NewAppError(types.ErrCodeInternalDB, op, err)
}

// Create inserts a topic. ID is generated when empty.
func (r *TopicRepository) Create(ctx context.Context, t *types.Topic) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	err := r.db.QueryRow(ctx,
		`INSERT INTO topics (id, skill_id, name, recommended_resources, learning_objectives)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		t.ID, t.SkillID, t.Name, t.RecommendedResources, t.LearningObjectives,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create topic", err)
	}
	return nil
}

// GetByID retrieves a topic by primary key.
func (r *TopicRepository) GetByID(ctx context.Context, id string) (*types.Topic, error) {
	t, err := scanTopic(r.db.QueryRow(ctx, `SELECT `+topicColumns+` FROM topics WHERE id = $1`, id))
	if err != nil {
		return nil, topicLookupError(err, "failed to retrieve topic")
	}
	return t, nil
}

// ListBySkill returns the skill's topics in creation order.
func (r *TopicRepository) ListBySkill(ctx context.Context, skillID string) ([]types.Topic, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+topicColumns+` FROM topics WHERE skill_id = $1 ORDER BY created_at, id`,
		skillID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list topics", err)
	}
	defer rows.Close()

	topics := []types.Topic{}
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan topic", err)
		}
		topics = append(topics, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating topics", err)
	}
	return topics, nil
}

// Update writes the editable topic fields.
func (r *TopicRepository) Update(ctx context.Context, t *types.Topic) error {
	err := r.db.QueryRow(ctx,
		`UPDATE topics SET name = $2, recommended_resources = $3, learning_objectives = $4, updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		t.ID, t.Name, t.RecommendedResources, t.LearningObjectives,
	).Scan(&t.UpdatedAt)
	if err != nil {
		return topicLookupError(err, "failed to update topic")
	}
	return nil
}

// Delete removes the topic; its tasks cascade. A skill pointing at it as
// the active topic is cleared in the same statement.
func (r *TopicRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`WITH cleared AS (
			UPDATE skills SET active_topic_id = NULL, updated_at = NOW() WHERE active_topic_id = $1
		 )
		 DELETE FROM topics WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete topic", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTopic, "topic not found", nil)
	}
	return nil
}
