// Package memory provides in-process repository implementations for
// development servers and tests. Data is lost on exit.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/todo-keeper/internal/errs"
	"github.com/and161185/todo-keeper/internal/model"
	"github.com/and161185/todo-keeper/internal/repository"
)

var (
	_ repository.UserRepository    = (*UserRepo)(nil)
	_ repository.SessionRepository = (*SessionRepo)(nil)
	_ repository.TaskRepository    = (*TaskRepo)(nil)
)

// UserRepo keeps users keyed by id with an email index.
type UserRepo struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]model.User
	byEmail map[string]uuid.UUID
}

func NewUserRepo() *UserRepo {
	return &UserRepo{byID: map[uuid.UUID]model.User{}, byEmail: map[string]uuid.UUID{}}
}

func (r *UserRepo) Create(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	email := strings.ToLower(u.Email)
	if _, ok := r.byEmail[email]; ok {
		return errs.ErrAlreadyExists
	}
	cp := *u
	cp.Email = email
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	r.byID[cp.ID] = cp
	r.byEmail[email] = cp.ID
	return nil
}

func (r *UserRepo) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &u, nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	id, ok := r.byEmail[strings.ToLower(email)]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *UserRepo) SetDisplayName(_ context.Context, id uuid.UUID, name string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	u.DisplayName = name
	r.byID[id] = u
	return &u, nil
}

// SessionRepo keeps sessions keyed by id.
type SessionRepo struct {
	mu   sync.Mutex
	byID map[uuid.UUID]model.Session
}

func NewSessionRepo() *SessionRepo { return &SessionRepo{byID: map[uuid.UUID]model.Session{}} }

func (r *SessionRepo) Create(_ context.Context, s *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	r.byID[cp.ID] = cp
	return nil
}

func (r *SessionRepo) Get(_ context.Context, id uuid.UUID) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok || !s.ExpiresAt.After(time.Now()) {
		return nil, errs.ErrNotFound
	}
	return &s, nil
}

func (r *SessionRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return errs.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

func (r *SessionRepo) DeleteExpired(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var n int64
	for id, s := range r.byID {
		if !s.ExpiresAt.After(now) {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

// TaskRepo stores record bodies as decoded JSON objects so Patch can merge top-level keys.
type TaskRepo struct {
	mu   sync.Mutex
	data map[uuid.UUID]map[string]stored
}

type stored struct {
	body map[string]any
	at   time.Time
}

func NewTaskRepo() *TaskRepo { return &TaskRepo{data: map[uuid.UUID]map[string]stored{}} }

func (r *TaskRepo) write(userID uuid.UUID, taskID string, raw []byte, merge bool) error {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data[userID] == nil {
		r.data[userID] = map[string]stored{}
	}
	cur, ok := r.data[userID][taskID]
	if merge && ok {
		for k, v := range obj {
			cur.body[k] = v
		}
		obj = cur.body
	}
	r.data[userID][taskID] = stored{body: obj, at: time.Now()}
	return nil
}

func (r *TaskRepo) Put(_ context.Context, userID uuid.UUID, taskID string, body []byte) error {
	return r.write(userID, taskID, body, false)
}

func (r *TaskRepo) Patch(_ context.Context, userID uuid.UUID, taskID string, patch []byte) error {
	return r.write(userID, taskID, patch, true)
}

func (r *TaskRepo) Delete(_ context.Context, userID uuid.UUID, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data[userID], taskID)
	return nil
}

func (r *TaskRepo) List(_ context.Context, userID uuid.UUID) ([]model.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Record, 0, len(r.data[userID]))
	for id, s := range r.data[userID] {
		b, err := json.Marshal(s.body)
		if err != nil {
			return nil, err
		}
		out = append(out, model.Record{UserID: userID, TaskID: id, Body: b, UpdatedAt: s.at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}

// Ping always succeeds.
func Ping(context.Context) error { return nil }
