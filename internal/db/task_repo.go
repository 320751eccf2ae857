package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"roadmap/internal/types"
)

// TaskRepository provides data access for the tasks table.
type TaskRepository struct {
	db DBTX
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(db DBTX) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `id, topic_id, name, difficulty, instructions, objective, completion_criteria,
	estimated_time, resources, is_completed, created_at, updated_at`

func scanTask(row pgx.Row) (*types.Task, error) {
	var t types.Task
	if err := row.Scan(
		&t.ID,
		&t.TopicID,
		&t.Name,
		&t.Difficulty,
		&t.Instructions,
		&t.Objective,
		&t.CompletionCriteria,
		&t.EstimatedTime,
		&t.Resources,
		&t.IsCompleted,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

func taskLookupError(err error, op string) error {
	if isNoMatch(err) {
		return types.NewAppError(types.ErrCodeNotFoundTask, "task not found", nil)
	}
	return types.NewAppError(types.ErrCodeInternalDB, op, err)
}

// Create inserts a task. ID is generated when empty.
func (r *TaskRepository) Create(ctx context.Context, t *types.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	err := r.db.QueryRow(ctx,
		`INSERT INTO tasks (id, topic_id, name, difficulty, instructions, objective, completion_criteria,
			estimated_time, resources, is_completed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at, updated_at`,
		t.ID, t.TopicID, t.Name, t.Difficulty, t.Instructions, t.Objective, t.CompletionCriteria,
		t.EstimatedTime, t.Resources, t.IsCompleted,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create task", err)
	}
	return nil
}

// GetByID retrieves a task by primary key.
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*types.Task, error) {
	t, err := scanTask(r.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		return nil, taskLookupError(err, "failed to retrieve task")
	}
	return t, nil
}

// ListByTopic returns the topic's tasks in creation order.
func (r *TaskRepository) ListByTopic(ctx context.Context, topicID string) ([]types.Task, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE topic_id = $1 ORDER BY created_at, id`,
		topicID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list tasks", err)
	}
	defer rows.Close()

	tasks := []types.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan task", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating tasks", err)
	}
	return tasks, nil
}

// Update writes every editable task field.
func (r *TaskRepository) Update(ctx context.Context, t *types.Task) error {
	err := r.db.QueryRow(ctx,
		`UPDATE tasks
		 SET name = $2, difficulty = $3, instructions = $4, objective = $5, completion_criteria = $6,
			estimated_time = $7, resources = $8, is_completed = $9, updated_at = NOW()
		 WHERE id = $1
		 RETURNING updated_at`,
		t.ID, t.Name, t.Difficulty, t.Instructions, t.Objective, t.CompletionCriteria,
		t.EstimatedTime, t.Resources, t.IsCompleted,
	).Scan(&t.UpdatedAt)
	if err != nil {
		return taskLookupError(err, "failed to update task")
	}
	return nil
}

// Delete removes one task.
func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete task", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTask, "task not found", nil)
	}
	return nil
}
