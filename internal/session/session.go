// Package session tracks the currently authenticated principal and mediates sign-in,
// sign-up and sign-out against an authentication provider.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/todo-keeper/internal/errs"
	"github.com/and161185/todo-keeper/internal/model"
)

// Provider is the external authentication collaborator.
type Provider interface {
	// SignIn authenticates an existing account.
	SignIn(ctx context.Context, email, password string) (model.Principal, error)
	// SignUp creates an account and signs it in.
	SignUp(ctx context.Context, email, password string) (model.Principal, error)
	// SetDisplayName attaches a display name to the signed-in account.
	SetDisplayName(ctx context.Context, name string) (model.Principal, error)
	// SignOut terminates the provider session.
	SignOut(ctx context.Context) error
	// SubscribeIdentity calls fn with the current identity (nil = none) right away
	// and again on every change until the returned func is called.
	SubscribeIdentity(fn func(*model.Principal)) (unsubscribe func())
}

// Phase is the session state machine position.
type Phase int

const (
	// Unauthenticated means no principal and no sign-out in flight.
	Unauthenticated Phase = iota
	// Authenticated means a principal is signed in.
	Authenticated
	// SigningOut means a sign-out call is in flight.
	SigningOut
)

func (p Phase) String() string {
	switch p {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	case SigningOut:
		return "signing_out"
	default:
		return "unknown"
	}
}

// State is an immutable snapshot handed to dependents.
type State struct {
	Phase     Phase
	Principal *model.Principal
}

// PrincipalID returns the principal id or "" when none.
func (s State) PrincipalID() string {
	if s.Principal == nil {
		return ""
	}
	return s.Principal.ID
}

func (s State) equal(o State) bool {
	if s.Phase != o.Phase {
		return false
	}
	if s.Principal == nil || o.Principal == nil {
		return s.Principal == o.Principal
	}
	return *s.Principal == *o.Principal
}

func clonePrincipal(p *model.Principal) *model.Principal {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// Session owns the current principal. It is safe for concurrent use.
type Session struct {
	provider Provider
	log      *zap.Logger

	mu        sync.Mutex
	state     State
	listeners map[int]func(State)
	nextID    int
	unsub     func()
}

// New constructs a Session. Call Start to begin following the provider's identity stream.
func New(provider Provider, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{provider: provider, log: log, listeners: map[int]func(State){}}
}

// Start subscribes to the provider's identity stream. The provider delivers the resolved
// initial identity immediately.
func (s *Session) Start() {
	s.mu.Lock()
	if s.unsub != nil {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	unsub := s.provider.SubscribeIdentity(s.handleIdentity)

	s.mu.Lock()
	s.unsub = unsub
	s.mu.Unlock()
}

// Close detaches from the identity stream and drops all listeners.
func (s *Session) Close() {
	s.mu.Lock()
	unsub := s.unsub
	s.unsub = nil
	s.listeners = map[int]func(State){}
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// State returns the current state snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{Phase: s.state.Phase, Principal: clonePrincipal(s.state.Principal)}
}

// Subscribe registers fn for every state change.
func (s *Session) Subscribe(fn func(State)) (cancel func()) {
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

// SignIn authenticates with the provider and replaces the principal on success.
func (s *Session) SignIn(ctx context.Context, email, password string) (model.Principal, error) {
	p, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		s.log.Info("sign in failed", zap.String("email", email), zap.Error(err))
		return model.Principal{}, authError("sign in", err)
	}
	s.setPrincipal(&p)
	return p, nil
}

// SignUp creates an account. A non-empty name is attached as display name before the
// local principal is set. If attaching the name fails the error is returned, but the
// account exists and the provider's identity event may already have signed it in
// without a name; check State rather than assuming a failed SignUp means signed out.
func (s *Session) SignUp(ctx context.Context, name, email, password string) (model.Principal, error) {
	p, err := s.provider.SignUp(ctx, email, password)
	if err != nil {
		s.log.Info("sign up failed", zap.String("email", email), zap.Error(err))
		return model.Principal{}, authError("sign up", err)
	}
	if name != "" {
		named, err := s.provider.SetDisplayName(ctx, name)
		if err != nil {
			return model.Principal{}, authError("sign up", err)
		}
		p = named
	}
	s.setPrincipal(&p)
	return p, nil
}

// SignOut moves to SigningOut, asks the provider to end the session and always ends in
// Unauthenticated, whatever the provider returned.
func (s *Session) SignOut(ctx context.Context) error {
	s.update(func(st *State) { st.Phase = SigningOut })
	defer s.update(func(st *State) {
		st.Phase = Unauthenticated
		st.Principal = nil
	})

	if err := s.provider.SignOut(ctx); err != nil {
		s.log.Warn("provider sign out", zap.Error(err))
		return authError("sign out", err)
	}
	return nil
}

// handleIdentity applies an identity event. While signing out only the principal changes.
func (s *Session) handleIdentity(p *model.Principal) {
	s.update(func(st *State) {
		st.Principal = clonePrincipal(p)
		if st.Phase == SigningOut {
			return
		}
		if p == nil {
			st.Phase = Unauthenticated
		} else {
			st.Phase = Authenticated
		}
	})
}

func (s *Session) setPrincipal(p *model.Principal) {
	s.update(func(st *State) {
		st.Principal = clonePrincipal(p)
		if st.Phase != SigningOut {
			st.Phase = Authenticated
		}
	})
}

// update mutates state under the lock and notifies listeners outside of it.
func (s *Session) update(fn func(*State)) {
	s.mu.Lock()
	next := State{Phase: s.state.Phase, Principal: clonePrincipal(s.state.Principal)}
	fn(&next)
	if next.equal(s.state) {
		s.mu.Unlock()
		return
	}
	s.state = next
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(State), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.mu.Unlock()

	s.log.Debug("session state",
		zap.Stringer("phase", next.Phase),
		zap.String("principal", next.PrincipalID()),
	)
	for _, fn := range fns {
		fn(State{Phase: next.Phase, Principal: clonePrincipal(next.Principal)})
	}
}

func authError(op string, err error) error {
	var ae *errs.AuthenticationError
	if errors.As(err, &ae) {
		return err
	}
	return &errs.AuthenticationError{Op: op, Msg: err.Error(), Err: err}
}
