// Package app wires the session and the task synchronizer around an auth/storage backend.
package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/and161185/todo-keeper/internal/session"
	"github.com/and161185/todo-keeper/internal/tasks"
)

// Backend is the combined authentication and realtime storage collaborator.
type Backend interface {
	session.Provider
	tasks.Store
}

// App holds the client core for one process.
type App struct {
	Session *session.Session
	Tasks   *tasks.Synchronizer

	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	unsub  func()
}

// New builds the session and the synchronizer. Nothing runs until Start.
func New(backend Backend, log *zap.Logger) *App {
	if log == nil {
		log = zap.NewNop()
	}
	return &App{
		Session: session.New(backend, log.Named("session")),
		Tasks:   tasks.NewSynchronizer(backend, log.Named("tasks")),
		log:     log,
	}
}

// Start feeds every session state into the synchronizer and starts following the
// provider's identity stream. ctx bounds subscription setup calls.
func (a *App) Start(ctx context.Context) {
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.unsub = a.Session.Subscribe(func(st session.State) {
		if err := a.Tasks.OnSessionChange(a.ctx, st); err != nil {
			a.log.Warn("resubscribe tasks", zap.Stringer("phase", st.Phase), zap.Error(err))
		}
	})
	a.Session.Start()
	// the provider may have resolved no identity, which does not change the initial state
	if err := a.Tasks.OnSessionChange(a.ctx, a.Session.State()); err != nil {
		a.log.Warn("subscribe tasks", zap.Error(err))
	}
}

// Close tears down subscriptions.
func (a *App) Close() {
	if a.unsub != nil {
		a.unsub()
	}
	a.Session.Close()
	a.Tasks.Close()
	if a.cancel != nil {
		a.cancel()
	}
}
