package repository

import (
	"context"

	"github.com/and161185/todo-keeper/internal/model"
	"github.com/gofrs/uuid/v5"
)

// TaskRepository stores task records as JSON documents keyed by (user, task id).
type TaskRepository interface {
	// Put replaces the whole record.
	Put(ctx context.Context, userID uuid.UUID, taskID string, body []byte) error
	// Patch merges top-level keys of patch into the record, creating it if missing.
	Patch(ctx context.Context, userID uuid.UUID, taskID string, patch []byte) error
	// Delete removes the record; deleting a missing record is not an error.
	Delete(ctx context.Context, userID uuid.UUID, taskID string) error
	// List returns every record of the user ordered by task id.
	List(ctx context.Context, userID uuid.UUID) ([]model.Record, error)
}
