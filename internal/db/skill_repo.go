package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"roadmap/internal/types"
)

// SkillRepository provides data access for the skills table.
type SkillRepository struct {
	db DBTX
}

// NewSkillRepository creates a new SkillRepository.
func NewSkillRepository(db DBTX) *SkillRepository {
	return &SkillRepository{db: db}
}

const skillColumns = `id, user_id, name, active_topic_id, covered_topic_ids, preferred_learning_style,
	current_skill_level, goal, available_time_per_week, is_completed, created_at, updated_at`

func scanSkill(row pgx.Row) (*types.Skill, error) {
	var (
		s           types.Skill
		activeTopic *string
	)
	if err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.Name,
		&activeTopic,
		&s.CoveredTopicIDs,
		&s.PreferredLearningStyle,
		&s.CurrentSkillLevel,
		&s.Goal,
		&s.AvailableTimePerWeek,
		&s.IsCompleted,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if activeTopic != nil {
		s.ActiveTopicID = *activeTopic
	}
	return &s, nil
}

func skillLookupError(err error, op string) error {
	if isNoMatch(err) {
		return types.NewAppError(types.ErrCodeNotFoundSkill, "skill not found", nil)
	}
	return types.NewAppError(types.ErrCodeInternalDB, op, err)
}

// nullableID maps "" to NULL for optional UUID columns.
func nullableID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

// Create inserts a skill. ID is generated when empty.
func (r *SkillRepository) Create(ctx context.Context, s *types.Skill) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CoveredTopicIDs == nil {
		s.CoveredTopicIDs = types.StringList{}
	}

	err := r.db.QueryRow(ctx,
		`INSERT INTO skills (id, user_id, name, active_topic_id, covered_topic_ids, preferred_learning_style,
			current_skill_level, goal, available_time_per_week, is_completed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at, updated_at`,
		s.ID, s.UserID, s.Name, nullableID(s.ActiveTopicID), s.CoveredTopicIDs, s.PreferredLearningStyle,
		s.CurrentSkillLevel, s.Goal, s.AvailableTimePerWeek, s.IsCompleted,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create skill", err)
	}
	return nil
}

// GetByID retrieves a skill by primary key.
func (r *SkillRepository) GetByID(ctx context.Context, id string) (*types.Skill, error) {
	s, err := scanSkill(r.db.QueryRow(ctx, `SELECT `+skillColumns+` FROM skills WHERE id = $1`, id))
	if err != nil {
		return nil, skillLookupError(err, "failed to retrieve skill")
	}
	return s, nil
}

// ListByUser returns the user's skills, oldest first.
func (r *SkillRepository) ListByUser(ctx context.Context, userID string) ([]types.Skill, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+skillColumns+` FROM skills WHERE user_id = $1 ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list skills", err)
	}
	defer rows.Close()

	skills := []types.Skill{}
	for rows.Next() {
		s, err := scanSkill(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan skill", err)
		}
		skills = append(skills, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating skills", err)
	}
	return skills, nil
}

// Update writes the editable skill fields. Covered topics are append-only
// and only change through AddCoveredTopic.
func (r *SkillRepository) Update(ctx context.Context, s *types.Skill) error {
	err := r.db.QueryRow(ctx,
		`UPDATE skills
		 SET name = $2, active_topic_id = $3, preferred_learning_style = $4, current_skill_level = $5,
			goal = $6, available_time_per_week = $7, is_completed = $8, updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		s.ID, s.Name, nullableID(s.ActiveTopicID), s.PreferredLearningStyle, s.CurrentSkillLevel,
		s.Goal, s.AvailableTimePerWeek, s.IsCompleted,
	).Scan(&s.UpdatedAt)
	if err != nil {
		return skillLookupError(err, "failed to update skill")
	}
	return nil
}

// AddCoveredTopic appends topicID to covered_topic_ids unless present and
// makes it the active topic.
func (r *SkillRepository) AddCoveredTopic(ctx context.Context, skillID, topicID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE skills
		 SET covered_topic_ids = CASE
				WHEN covered_topic_ids ? $2 THEN covered_topic_ids
				ELSE covered_topic_ids || jsonb_build_array($2::text)
			END,
			active_topic_id = $2::uuid,
			updated_at = NOW()
		 WHERE id = $1`,
		skillID, topicID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record covered topic", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSkill, "skill not found", nil)
	}
	return nil
}

// MarkCompleted flags the skill as completed and returns it.
func (r *SkillRepository) MarkCompleted(ctx context.Context, id string) (*types.Skill, error) {
	s, err := scanSkill(r.db.QueryRow(ctx,
		`UPDATE skills SET is_completed = TRUE, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+skillColumns,
		id,
	))
	if err != nil {
		return nil, skillLookupError(err, "failed to complete skill")
	}
	return s, nil
}

// Delete removes the skill; topics and tasks cascade.
func (r *SkillRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM skills WHERE id = $1`, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete skill", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSkill, "skill not found", nil)
	}
	return nil
}
