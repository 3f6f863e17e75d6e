// Package paths builds and parses storage paths of the form users/{principalId}/tasks[/{taskId}].
package paths

import (
	"fmt"
	"strings"

	"github.com/and161185/todo-keeper/internal/errs"
)

const (
	usersSeg = "users"
	tasksSeg = "tasks"
)

// TaskCollection returns the collection path for a principal.
func TaskCollection(principalID string) string {
	return usersSeg + "/" + principalID + "/" + tasksSeg
}

// TaskRecord returns the record path for a single task.
func TaskRecord(principalID, taskID string) string {
	return TaskCollection(principalID) + "/" + taskID
}

// Path is a parsed storage path. TaskID is empty for collection paths.
type Path struct {
	PrincipalID string
	TaskID      string
}

// IsCollection reports whether p addresses the whole collection.
func (p Path) IsCollection() bool { return p.TaskID == "" }

func (p Path) String() string {
	if p.IsCollection() {
		return TaskCollection(p.PrincipalID)
	}
	return TaskRecord(p.PrincipalID, p.TaskID)
}

// Parse validates and splits a path. Leading and trailing slashes are tolerated.
func Parse(s string) (Path, error) {
	parts := strings.Split(strings.Trim(s, "/"), "/")
	if len(parts) < 3 || len(parts) > 4 {
		return Path{}, fmt.Errorf("%q: %w", s, errs.ErrInvalidPath)
	}
	if parts[0] != usersSeg || parts[2] != tasksSeg {
		return Path{}, fmt.Errorf("%q: %w", s, errs.ErrInvalidPath)
	}
	for _, p := range parts {
		if p == "" {
			return Path{}, fmt.Errorf("%q: %w", s, errs.ErrInvalidPath)
		}
	}
	out := Path{PrincipalID: parts[1]}
	if len(parts) == 4 {
		out.TaskID = parts[3]
	}
	return out, nil
}
