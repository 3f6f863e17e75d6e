// Package tasks keeps a local mirror of the signed-in principal's task collection and
// writes every mutation through to the remote store.
package tasks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/todo-keeper/internal/errs"
	"github.com/and161185/todo-keeper/internal/model"
	"github.com/and161185/todo-keeper/internal/ordering"
	"github.com/and161185/todo-keeper/internal/paths"
	"github.com/and161185/todo-keeper/internal/session"
)

// Store is the external realtime storage collaborator.
type Store interface {
	// Watch delivers the full collection at path on every change until unsubscribe is called.
	// onErr is called once if the subscription breaks.
	Watch(ctx context.Context, path string, fn func(model.Snapshot), onErr func(error)) (unsubscribe func(), err error)
	// Set writes the whole record at path.
	Set(ctx context.Context, path string, t model.Task) error
	// Update applies a shallow patch to the record at path.
	Update(ctx context.Context, path string, patch map[string]any) error
	// Remove deletes the record at path.
	Remove(ctx context.Context, path string) error
}

// Synchronizer mirrors one principal's task collection. The mirror is only ever replaced
// wholesale by subscription deliveries; write operations never touch it.
type Synchronizer struct {
	store Store
	log   *zap.Logger

	mu          sync.Mutex
	principalID string
	gen         uint64
	unsub       func()
	mirror      []model.Task
	synced      chan struct{}
	watchErr    error
	listeners   map[int]func([]model.Task)
	nextID      int
}

// NewSynchronizer constructs a Synchronizer with no active principal.
func NewSynchronizer(store Store, log *zap.Logger) *Synchronizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Synchronizer{
		store:     store,
		log:       log,
		synced:    make(chan struct{}),
		listeners: map[int]func([]model.Task){},
	}
}

// OnSessionChange reacts to a session state change. A subscription for another principal is
// torn down first. With no principal the mirror is cleared, unless a sign-out is in flight.
func (s *Synchronizer) OnSessionChange(ctx context.Context, st session.State) error {
	id := st.PrincipalID()

	s.mu.Lock()
	if id != "" && id == s.principalID && s.unsub != nil {
		s.mu.Unlock()
		return nil
	}
	old := s.unsub
	s.unsub = nil
	s.gen++
	gen := s.gen
	prev := s.principalID
	s.principalID = id
	s.synced = make(chan struct{})
	s.watchErr = nil

	cleared := false
	switch {
	case id == "" && st.Phase == session.SigningOut:
		// keep the last list on screen until sign-out completes
	case id == "" || id != prev:
		cleared = len(s.mirror) > 0
		s.mirror = nil
	}
	fns := s.listenersLocked()
	s.mu.Unlock()

	if old != nil {
		old()
		s.log.Debug("task subscription closed", zap.String("principal", prev))
	}
	if cleared {
		emit(fns, nil)
	}
	if id == "" {
		return nil
	}

	unsub, err := s.store.Watch(ctx, paths.TaskCollection(id),
		func(snap model.Snapshot) { s.apply(gen, snap) },
		func(err error) { s.fail(gen, err) },
	)
	if err != nil {
		s.log.Warn("task subscription", zap.String("principal", id), zap.Error(err))
		s.fail(gen, err)
		return err
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		unsub()
		return nil
	}
	s.unsub = unsub
	s.mu.Unlock()
	s.log.Debug("task subscription opened", zap.String("principal", id))
	return nil
}

// apply replaces the mirror with a sorted snapshot if it belongs to the live subscription.
func (s *Synchronizer) apply(gen uint64, snap model.Snapshot) {
	sorted := ordering.Sort(snap.Tasks())

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.mirror = sorted
	select {
	case <-s.synced:
	default:
		close(s.synced)
	}
	fns := s.listenersLocked()
	s.mu.Unlock()

	emit(fns, sorted)
}

func (s *Synchronizer) fail(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.watchErr = err
	s.log.Warn("task subscription broken", zap.String("principal", s.principalID), zap.Error(err))
	select {
	case <-s.synced:
	default:
		close(s.synced)
	}
}

// Create writes the full task at users/{uid}/tasks/{id}. No-op without a principal.
func (s *Synchronizer) Create(ctx context.Context, t model.Task) error {
	uid := s.PrincipalID()
	if uid == "" {
		return nil
	}
	if t.ID == "" {
		return &errs.ValidationError{Field: "id", Msg: "required"}
	}
	return s.store.Set(ctx, paths.TaskRecord(uid, t.ID), t)
}

// Delete removes the task record. No-op without a principal.
func (s *Synchronizer) Delete(ctx context.Context, id string) error {
	uid := s.PrincipalID()
	if uid == "" {
		return nil
	}
	return s.store.Remove(ctx, paths.TaskRecord(uid, id))
}

// Toggle flips the completed flag using the value currently in the mirror. No-op without a
// principal or when id is not mirrored. Two clients toggling at once may both read the same
// stale value; the patch is not a compare-and-swap.
func (s *Synchronizer) Toggle(ctx context.Context, id string) error {
	s.mu.Lock()
	uid := s.principalID
	var (
		found   bool
		current bool
	)
	for _, t := range s.mirror {
		if t.ID == id {
			found, current = true, t.Completed
			break
		}
	}
	s.mu.Unlock()

	if uid == "" || !found {
		return nil
	}
	return s.store.Update(ctx, paths.TaskRecord(uid, id), map[string]any{"completed": !current})
}

// PrincipalID returns the principal whose collection is mirrored, or "".
func (s *Synchronizer) PrincipalID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.principalID
}

// Tasks returns a copy of the mirror, sorted by priority then deadline.
func (s *Synchronizer) Tasks() []model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Task(nil), s.mirror...)
}

// Subscribe registers fn for every mirror replacement.
func (s *Synchronizer) Subscribe(fn func([]model.Task)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// WaitSynced blocks until the first snapshot for the current principal has been mirrored.
func (s *Synchronizer) WaitSynced(ctx context.Context) error {
	s.mu.Lock()
	uid, ch := s.principalID, s.synced
	s.mu.Unlock()
	if uid == "" {
		return fmt.Errorf("wait synced: %w", errs.ErrUnauthorized)
	}

	select {
	case <-ch:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchErr
}

// Close tears down the live subscription.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	old := s.unsub
	s.unsub = nil
	s.gen++
	s.mu.Unlock()
	if old != nil {
		old()
	}
}

func (s *Synchronizer) listenersLocked() []func([]model.Task) {
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func([]model.Task), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	return fns
}

func emit(fns []func([]model.Task), ts []model.Task) {
	for _, fn := range fns {
		fn(append([]model.Task(nil), ts...))
	}
}
