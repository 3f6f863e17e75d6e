package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/and161185/todo-keeper/internal/errs"
	"github.com/and161185/todo-keeper/internal/model"
	"github.com/gofrs/uuid/v5"
)

// TaskRepo implements TaskRepository on the task_records table (jsonb bodies).
type TaskRepo struct{ db *DB }

// NewTaskRepo constructs a task repository.
func NewTaskRepo(db *DB) *TaskRepo { return &TaskRepo{db: db} }

// Put upserts the full record body.
func (r *TaskRepo) Put(ctx context.Context, userID uuid.UUID, taskID string, body []byte) error {
	const q = `
INSERT INTO task_records (user_id, task_id, body, updated_at)
VALUES ($1, $2, $3::jsonb, now())
ON CONFLICT (user_id, task_id)
DO UPDATE SET body = EXCLUDED.body, updated_at = now()`
	_, err := r.db.Pool.Exec(ctx, q, userID, taskID, string(body))
	return mapWriteErr(err)
}

// Patch merges top-level keys with the jsonb || operator.
func (r *TaskRepo) Patch(ctx context.Context, userID uuid.UUID, taskID string, patch []byte) error {
	const q = `
INSERT INTO task_records (user_id, task_id, body, updated_at)
VALUES ($1, $2, $3::jsonb, now())
ON CONFLICT (user_id, task_id)
DO UPDATE SET body = task_records.body || EXCLUDED.body, updated_at = now()`
	_, err := r.db.Pool.Exec(ctx, q, userID, taskID, string(patch))
	return mapWriteErr(err)
}

// Delete removes a record if present.
func (r *TaskRepo) Delete(ctx context.Context, userID uuid.UUID, taskID string) error {
	const q = `DELETE FROM task_records WHERE user_id=$1 AND task_id=$2`
	_, err := r.db.Pool.Exec(ctx, q, userID, taskID)
	return err
}

// List returns all records of a user.
func (r *TaskRepo) List(ctx context.Context, userID uuid.UUID) ([]model.Record, error) {
	const q = `
SELECT task_id, body, updated_at
FROM task_records
WHERE user_id=$1
ORDER BY task_id ASC`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Record{}
	for rows.Next() {
		var (
			id   string
			body []byte
			ts   time.Time
		)
		if err = rows.Scan(&id, &body, &ts); err != nil {
			return nil, err
		}
		out = append(out, model.Record{UserID: userID, TaskID: id, Body: body, UpdatedAt: ts})
	}
	return out, rows.Err()
}

func mapWriteErr(err error) error {
	if isForeignKeyViolation(err) {
		return fmt.Errorf("owner: %w", errs.ErrNotFound)
	}
	return err
}
