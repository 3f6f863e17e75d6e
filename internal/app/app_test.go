package app

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/todo-keeper/internal/errs"
	"github.com/and161185/todo-keeper/internal/model"
	"github.com/and161185/todo-keeper/internal/paths"
	"github.com/and161185/todo-keeper/internal/session"
	"github.com/and161185/todo-keeper/internal/tasks"
)

// memBackend is a small in-memory auth + realtime store.
type memBackend struct {
	mu        sync.Mutex
	passwords map[string]string
	current   *model.Principal
	idents    []func(*model.Principal)
	data      map[string]model.Snapshot
	watchers  map[int]struct {
		path string
		fn   func(model.Snapshot)
	}
	next int
}

var _ Backend = (*memBackend)(nil)

func newMem() *memBackend {
	return &memBackend{
		passwords: map[string]string{},
		data:      map[string]model.Snapshot{},
		watchers: map[int]struct {
			path string
			fn   func(model.Snapshot)
		}{},
	}
}

func (m *memBackend) setIdentity(p *model.Principal) {
	m.mu.Lock()
	m.current = p
	fns := append(([]func(*model.Principal))(nil), m.idents...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}

func (m *memBackend) SignIn(_ context.Context, email, password string) (model.Principal, error) {
	m.mu.Lock()
	pw, ok := m.passwords[email]
	m.mu.Unlock()
	if !ok || pw != password {
		return model.Principal{}, &errs.AuthenticationError{Msg: "invalid credentials", Err: errs.ErrUnauthorized}
	}
	p := model.Principal{ID: "uid-" + email, Email: email}
	m.setIdentity(&p)
	return p, nil
}

func (m *memBackend) SignUp(ctx context.Context, email, password string) (model.Principal, error) {
	m.mu.Lock()
	m.passwords[email] = password
	m.mu.Unlock()
	return m.SignIn(ctx, email, password)
}

func (m *memBackend) SetDisplayName(_ context.Context, name string) (model.Principal, error) {
	m.mu.Lock()
	p := *m.current
	m.mu.Unlock()
	p.DisplayName = name
	m.setIdentity(&p)
	return p, nil
}

func (m *memBackend) SignOut(context.Context) error {
	m.setIdentity(nil)
	return nil
}

func (m *memBackend) SubscribeIdentity(fn func(*model.Principal)) func() {
	m.mu.Lock()
	m.idents = append(m.idents, fn)
	cur := m.current
	m.mu.Unlock()
	fn(cur)
	return func() {}
}

func (m *memBackend) deliver(col string) {
	m.mu.Lock()
	snap := model.Snapshot{}
	for k, v := range m.data[col] {
		snap[k] = v
	}
	var fns []func(model.Snapshot)
	for _, w := range m.watchers {
		if w.path == col {
			fns = append(fns, w.fn)
		}
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func (m *memBackend) Watch(_ context.Context, path string, fn func(model.Snapshot), _ func(error)) (func(), error) {
	m.mu.Lock()
	id := m.next
	m.next++
	m.watchers[id] = struct {
		path string
		fn   func(model.Snapshot)
	}{path, fn}
	m.mu.Unlock()
	m.deliver(path)
	return func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}, nil
}

func (m *memBackend) Set(_ context.Context, path string, t model.Task) error {
	p, err := paths.Parse(path)
	if err != nil {
		return err
	}
	col := paths.TaskCollection(p.PrincipalID)
	m.mu.Lock()
	if m.data[col] == nil {
		m.data[col] = model.Snapshot{}
	}
	m.data[col][p.TaskID] = t
	m.mu.Unlock()
	m.deliver(col)
	return nil
}

func (m *memBackend) Update(_ context.Context, path string, patch map[string]any) error {
	p, err := paths.Parse(path)
	if err != nil {
		return err
	}
	col := paths.TaskCollection(p.PrincipalID)
	m.mu.Lock()
	t := m.data[col][p.TaskID]
	if v, ok := patch["completed"].(bool); ok {
		t.Completed = v
	}
	m.data[col][p.TaskID] = t
	m.mu.Unlock()
	m.deliver(col)
	return nil
}

func (m *memBackend) Remove(_ context.Context, path string) error {
	p, err := paths.Parse(path)
	if err != nil {
		return err
	}
	col := paths.TaskCollection(p.PrincipalID)
	m.mu.Lock()
	delete(m.data[col], p.TaskID)
	m.mu.Unlock()
	m.deliver(col)
	return nil
}

func newApp(t *testing.T, b *memBackend) *App {
	t.Helper()
	a := New(b, zaptest.NewLogger(t))
	a.Start(context.Background())
	t.Cleanup(a.Close)
	return a
}

func TestApp_WrongPasswordLeavesEverythingEmpty(t *testing.T) {
	t.Parallel()
	b := newMem()
	b.passwords["a@x.io"] = "right"
	a := newApp(t, b)

	_, err := a.Session.SignIn(context.Background(), "a@x.io", "wrong")
	var ae *errs.AuthenticationError
	require.ErrorAs(t, err, &ae)
	require.Nil(t, a.Session.State().Principal)
	require.Empty(t, a.Tasks.Tasks())
}

func TestApp_FullLifecycle(t *testing.T) {
	t.Parallel()
	b := newMem()
	a := newApp(t, b)
	ctx := context.Background()

	_, err := a.Session.SignUp(ctx, "Ann", "a@x.io", "pw1234")
	require.NoError(t, err)
	require.NoError(t, a.Tasks.WaitSynced(ctx))
	require.Equal(t, "Ann", a.Session.State().Principal.DisplayName)

	low, err := tasks.NewTask("low", "", "2025-01-02", 1)
	require.NoError(t, err)
	high, err := tasks.NewTask("high", "", "2025-01-03", 5)
	require.NoError(t, err)
	require.NoError(t, a.Tasks.Create(ctx, low))
	require.NoError(t, a.Tasks.Create(ctx, high))
	require.Equal(t, []string{"high", "low"}, titles(a.Tasks.Tasks()))

	require.NoError(t, a.Tasks.Toggle(ctx, high.ID))
	got := a.Tasks.Tasks()
	require.True(t, got[0].Completed)

	var seen []int
	var mu sync.Mutex
	a.Tasks.Subscribe(func(ts []model.Task) {
		mu.Lock()
		seen = append(seen, len(ts))
		mu.Unlock()
	})

	require.NoError(t, a.Session.SignOut(ctx))
	require.Equal(t, session.Unauthenticated, a.Session.State().Phase)
	require.Empty(t, a.Tasks.Tasks())
	mu.Lock()
	require.Equal(t, []int{0}, seen, "list held during sign-out, cleared once")
	mu.Unlock()

	// another account sees only its own tasks
	_, err = a.Session.SignUp(ctx, "", "b@x.io", "pw1234")
	require.NoError(t, err)
	require.NoError(t, a.Tasks.WaitSynced(ctx))
	require.Empty(t, a.Tasks.Tasks())
	require.Equal(t, "uid-b@x.io", a.Tasks.PrincipalID())
}

func TestApp_ResolvesPersistedIdentityOnStart(t *testing.T) {
	t.Parallel()
	b := newMem()
	b.current = &model.Principal{ID: "uid-a@x.io"}
	b.data[paths.TaskCollection("uid-a@x.io")] = model.Snapshot{"1": {ID: "1", Title: "kept"}}

	a := newApp(t, b)
	require.NoError(t, a.Tasks.WaitSynced(context.Background()))
	require.Equal(t, []string{"kept"}, titles(a.Tasks.Tasks()))
}

func titles(ts []model.Task) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Title)
	}
	return out
}
