// Package ordering implements the sort and display partition applied to task lists.
// Every function works on a copy and never mutates its input.
package ordering

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/and161185/todo-keeper/internal/model"
)

// View is the display form of a task list: incomplete tasks are rendered before completed ones.
type View struct {
	Incomplete []model.Task `json:"incomplete" yaml:"incomplete"`
	Completed  []model.Task `json:"completed" yaml:"completed"`
}

// Len returns the total number of tasks in the view.
func (v View) Len() int { return len(v.Incomplete) + len(v.Completed) }

// Compare orders by priority descending, then deadline ascending.
func Compare(a, b model.Task) int {
	if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
		return c
	}
	return compareDeadline(a.Deadline, b.Deadline)
}

// CompareDisplay orders incomplete before completed, then like Compare.
func CompareDisplay(a, b model.Task) int {
	if a.Completed != b.Completed {
		if a.Completed {
			return 1
		}
		return -1
	}
	return Compare(a, b)
}

// Sort returns a stably sorted copy of tasks using Compare.
func Sort(tasks []model.Task) []model.Task {
	out := slices.Clone(tasks)
	slices.SortStableFunc(out, Compare)
	return out
}

// SortDisplay returns a stably sorted copy of tasks using CompareDisplay.
func SortDisplay(tasks []model.Task) []model.Task {
	out := slices.Clone(tasks)
	slices.SortStableFunc(out, CompareDisplay)
	return out
}

// Partition splits tasks by completion. Each part is ordered with CompareDisplay.
func Partition(tasks []model.Task) (incomplete, completed []model.Task) {
	incomplete = make([]model.Task, 0, len(tasks))
	completed = make([]model.Task, 0)
	for _, t := range SortDisplay(tasks) {
		if t.Completed {
			completed = append(completed, t)
		} else {
			incomplete = append(incomplete, t)
		}
	}
	return incomplete, completed
}

// Display builds the view presentation layers render.
func Display(tasks []model.Task) View {
	inc, done := Partition(tasks)
	return View{Incomplete: inc, Completed: done}
}

// ParseDeadline parses an ISO-8601 date.
func ParseDeadline(s string) (time.Time, bool) {
	t, err := time.Parse(model.DeadlineLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// compareDeadline puts earlier dates first. Unparsable deadlines go after all valid ones
// and compare by their raw text among themselves.
func compareDeadline(a, b string) int {
	ta, okA := ParseDeadline(a)
	tb, okB := ParseDeadline(b)
	switch {
	case okA && okB:
		return ta.Compare(tb)
	case okA:
		return -1
	case okB:
		return 1
	default:
		return strings.Compare(a, b)
	}
}
