package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/todo-keeper/internal/errs"
	"github.com/and161185/todo-keeper/internal/model"
	"github.com/and161185/todo-keeper/internal/paths"
	"github.com/and161185/todo-keeper/internal/repository"
)

// Notifier is told which user's records changed.
type Notifier interface {
	Publish(userID uuid.UUID)
}

// Watcher hands out change signals for a user.
type Watcher interface {
	Subscribe(userID uuid.UUID) (<-chan struct{}, func())
}

// RecordService reads and writes task records addressed by storage path.
// Every path must belong to the caller.
type RecordService interface {
	Set(ctx context.Context, caller uuid.UUID, path string, t model.Task) error
	Update(ctx context.Context, caller uuid.UUID, path string, patch map[string]any) error
	Remove(ctx context.Context, caller uuid.UUID, path string) error
	Snapshot(ctx context.Context, caller uuid.UUID, path string) (model.Snapshot, error)
	// Watch validates a collection path and returns a change signal channel.
	Watch(ctx context.Context, caller uuid.UUID, path string) (<-chan struct{}, func(), error)
}

type RecordServiceImpl struct {
	repo    repository.TaskRepository
	notify  Notifier
	watches Watcher
}

var _ RecordService = (*RecordServiceImpl)(nil)

// NewRecordService constructs RecordService. notify and watches are usually the same *realtime.Hub.
func NewRecordService(repo repository.TaskRepository, notify Notifier, watches Watcher) *RecordServiceImpl {
	return &RecordServiceImpl{repo: repo, notify: notify, watches: watches}
}

// authorize parses path and checks that it is owned by caller.
func authorize(caller uuid.UUID, path string) (paths.Path, error) {
	p, err := paths.Parse(path)
	if err != nil {
		return paths.Path{}, err
	}
	if caller == uuid.Nil || p.PrincipalID != caller.String() {
		return paths.Path{}, fmt.Errorf("%s: %w", path, errs.ErrPermissionDenied)
	}
	return p, nil
}

func recordPath(caller uuid.UUID, path string) (paths.Path, error) {
	p, err := authorize(caller, path)
	if err != nil {
		return p, err
	}
	if p.IsCollection() {
		return p, fmt.Errorf("%s: record path required: %w", path, errs.ErrInvalidPath)
	}
	return p, nil
}

func collectionPath(caller uuid.UUID, path string) (paths.Path, error) {
	p, err := authorize(caller, path)
	if err != nil {
		return p, err
	}
	if !p.IsCollection() {
		return p, fmt.Errorf("%s: collection path required: %w", path, errs.ErrInvalidPath)
	}
	return p, nil
}

// Set replaces the record. The stored id always equals the path's task id.
func (s *RecordServiceImpl) Set(ctx context.Context, caller uuid.UUID, path string, t model.Task) error {
	p, err := recordPath(caller, path)
	if err != nil {
		return err
	}
	t.ID = p.TaskID
	body, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if err := s.repo.Put(ctx, caller, p.TaskID, body); err != nil {
		return err
	}
	s.notify.Publish(caller)
	return nil
}

// Update merges top-level fields into the record.
func (s *RecordServiceImpl) Update(ctx context.Context, caller uuid.UUID, path string, patch map[string]any) error {
	p, err := recordPath(caller, path)
	if err != nil {
		return err
	}
	if len(patch) == 0 {
		return nil
	}
	if err := checkPatch(patch); err != nil {
		return err
	}
	body, err := json.Marshal(patch)
	if err != nil {
		return &errs.ValidationError{Field: "patch", Msg: err.Error()}
	}
	if err := s.repo.Patch(ctx, caller, p.TaskID, body); err != nil {
		return err
	}
	s.notify.Publish(caller)
	return nil
}

// checkPatch accepts only task fields with their stored JSON types, so a merged
// record always decodes as a model.Task.
func checkPatch(patch map[string]any) error {
	for k, v := range patch {
		var ok bool
		switch k {
		case "id":
			return &errs.ValidationError{Field: "id", Msg: "immutable"}
		case "title", "description", "deadline":
			_, ok = v.(string)
		case "completed":
			_, ok = v.(bool)
		case "priority":
			ok = isInteger(v)
		default:
			return &errs.ValidationError{Field: k, Msg: "unknown field"}
		}
		if !ok {
			return &errs.ValidationError{Field: k, Msg: fmt.Sprintf("unexpected type %T", v)}
		}
	}
	return nil
}

func isInteger(v any) bool {
	switch n := v.(type) {
	case int, int32, int64:
		return true
	case float64:
		return n == math.Trunc(n) && math.Abs(n) <= math.MaxInt32
	case json.Number:
		_, err := n.Int64()
		return err == nil
	}
	return false
}

// Remove deletes the record; removing a missing record succeeds.
func (s *RecordServiceImpl) Remove(ctx context.Context, caller uuid.UUID, path string) error {
	p, err := recordPath(caller, path)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, caller, p.TaskID); err != nil {
		return err
	}
	s.notify.Publish(caller)
	return nil
}

// Snapshot returns the full collection keyed by task id.
func (s *RecordServiceImpl) Snapshot(ctx context.Context, caller uuid.UUID, path string) (model.Snapshot, error) {
	if _, err := collectionPath(caller, path); err != nil {
		return nil, err
	}
	recs, err := s.repo.List(ctx, caller)
	if err != nil {
		return nil, err
	}
	snap := make(model.Snapshot, len(recs))
	for _, r := range recs {
		var t model.Task
		if err := json.Unmarshal(r.Body, &t); err != nil {
			return nil, fmt.Errorf("record %s: %w", r.TaskID, err)
		}
		t.ID = r.TaskID
		snap[r.TaskID] = t
	}
	return snap, nil
}

// Watch subscribes to change signals of the caller's collection.
func (s *RecordServiceImpl) Watch(_ context.Context, caller uuid.UUID, path string) (<-chan struct{}, func(), error) {
	if _, err := collectionPath(caller, path); err != nil {
		return nil, nil, err
	}
	ch, cancel := s.watches.Subscribe(caller)
	return ch, cancel, nil
}
