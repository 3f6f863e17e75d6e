package tasks

import (
	"strings"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/todo-keeper/internal/errs"
	"github.com/and161185/todo-keeper/internal/model"
	"github.com/and161185/todo-keeper/internal/ordering"
)

// DefaultPriority is used when no priority (or zero) is given.
const DefaultPriority = 1

// NewTask validates user input and builds a new incomplete task with a time-ordered id.
// Title and deadline are required; the deadline must be an ISO-8601 date.
func NewTask(title, description, deadline string, priority int) (model.Task, error) {
	title = strings.TrimSpace(title)
	deadline = strings.TrimSpace(deadline)
	if title == "" {
		return model.Task{}, &errs.ValidationError{Field: "title", Msg: "required"}
	}
	if deadline == "" {
		return model.Task{}, &errs.ValidationError{Field: "deadline", Msg: "required"}
	}
	if _, ok := ordering.ParseDeadline(deadline); !ok {
		return model.Task{}, &errs.ValidationError{Field: "deadline", Msg: "want YYYY-MM-DD"}
	}
	if priority == 0 {
		priority = DefaultPriority
	}
	id, err := uuid.NewV7()
	if err != nil {
		return model.Task{}, err
	}
	return model.Task{
		ID:          id.String(),
		Title:       title,
		Description: description,
		Deadline:    deadline,
		Priority:    priority,
	}, nil
}
