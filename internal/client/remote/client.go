// Package remote implements the session provider and task store over the
// todo-keeper gRPC API.
package remote

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/todo-keeper/internal/api"
	"github.com/and161185/todo-keeper/internal/convert"
	"github.com/and161185/todo-keeper/internal/errs"
	"github.com/and161185/todo-keeper/internal/model"
	"github.com/and161185/todo-keeper/internal/session"
	"github.com/and161185/todo-keeper/internal/tasks"
)

var (
	_ session.Provider = (*Client)(nil)
	_ tasks.Store      = (*Client)(nil)
)

// Config tunes a Client.
type Config struct {
	State   StateFile
	Timeout time.Duration // per unary call; 0 = 15s
	// Plaintext allows the bearer token over a connection without TLS.
	Plaintext bool
}

// Client talks to the Backend service and keeps the signed-in session.
type Client struct {
	api     *api.BackendClient
	log     *zap.Logger
	state   StateFile
	timeout time.Duration
	creds   *bearerCreds

	mu        sync.Mutex
	current   *savedSession
	expiry    *time.Timer
	listeners map[int]func(*model.Principal)
	nextID    int
}

// New wraps an established connection. Call Restore to pick up a saved session.
func New(cc grpc.ClientConnInterface, cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		api:       api.NewBackendClient(cc),
		log:       log,
		state:     cfg.State,
		timeout:   cfg.Timeout,
		creds:     &bearerCreds{secure: !cfg.Plaintext},
		listeners: map[int]func(*model.Principal){},
	}
}

func (c *Client) callOpts() []grpc.CallOption {
	return []grpc.CallOption{grpc.PerRPCCredentials(c.creds)}
}

// Restore loads the saved session and confirms it with the server. An expired,
// unreadable or revoked session is discarded without error.
func (c *Client) Restore(ctx context.Context) error {
	saved, err := c.state.load()
	if err != nil {
		c.log.Warn("unreadable session file, ignoring", zap.Error(err))
		_ = c.state.clear()
		return nil
	}
	if saved == nil {
		return nil
	}
	if saved.expired(time.Now()) {
		c.log.Debug("saved session expired")
		_ = c.state.clear()
		return nil
	}

	c.creds.set(saved.AccessToken)
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.api.Me(cctx, c.callOpts()...)
	if err != nil {
		aerr := authError("restore", err)
		if errors.Is(aerr, errs.ErrUnauthorized) {
			c.creds.set("")
			_ = c.state.clear()
			return nil
		}
		c.creds.set("")
		return aerr
	}
	p, err := convert.FromProtoPrincipal(resp)
	if err != nil {
		c.creds.set("")
		return authError("restore", err)
	}
	saved.Principal = p
	c.install(saved)
	return nil
}

// install makes s the current session, persists it and notifies listeners.
func (c *Client) install(s *savedSession) {
	c.creds.set(s.AccessToken)
	if err := c.state.save(*s); err != nil {
		c.log.Warn("persist session", zap.Error(err))
	}

	c.mu.Lock()
	c.current = s
	if c.expiry != nil {
		c.expiry.Stop()
	}
	sid := s.SessionID
	c.expiry = time.AfterFunc(time.Until(s.ExpiresAt), func() {
		c.log.Info("session expired")
		c.drop(sid)
	})
	fns := c.snapshotListeners()
	c.mu.Unlock()

	for _, fn := range fns {
		p := s.Principal
		fn(&p)
	}
}

// drop forgets the session if it is still sid (uuid.Nil = whatever is current).
func (c *Client) drop(sid uuid.UUID) {
	c.mu.Lock()
	if c.current == nil || (sid != uuid.Nil && c.current.SessionID != sid) {
		c.mu.Unlock()
		return
	}
	c.current = nil
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
	fns := c.snapshotListeners()
	c.mu.Unlock()

	c.creds.set("")
	if err := c.state.clear(); err != nil {
		c.log.Warn("clear session file", zap.Error(err))
	}
	for _, fn := range fns {
		fn(nil)
	}
}

// snapshotListeners returns listeners in registration order. Caller holds mu.
func (c *Client) snapshotListeners() []func(*model.Principal) {
	ids := make([]int, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(*model.Principal), 0, len(ids))
	for _, id := range ids {
		out = append(out, c.listeners[id])
	}
	return out
}

// Current returns the signed-in principal, if any.
func (c *Client) Current() *model.Principal {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	p := c.current.Principal
	return &p
}

// --- session.Provider ---

func (c *Client) authenticate(ctx context.Context, op string, call func(context.Context) (*savedSession, error)) (model.Principal, error) {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	s, err := call(cctx)
	if err != nil {
		return model.Principal{}, authError(op, err)
	}
	c.install(s)
	return s.Principal, nil
}

// SignIn authenticates an existing account.
func (c *Client) SignIn(ctx context.Context, email, password string) (model.Principal, error) {
	return c.authenticate(ctx, "sign in", func(ctx context.Context) (*savedSession, error) {
		resp, err := c.api.SignIn(ctx, convert.Credentials(email, password))
		if err != nil {
			return nil, err
		}
		return fromAuth(resp)
	})
}

// SignUp creates an account and signs it in.
func (c *Client) SignUp(ctx context.Context, email, password string) (model.Principal, error) {
	return c.authenticate(ctx, "sign up", func(ctx context.Context) (*savedSession, error) {
		resp, err := c.api.SignUp(ctx, convert.Credentials(email, password))
		if err != nil {
			return nil, err
		}
		return fromAuth(resp)
	})
}

func fromAuth(resp *structpb.Struct) (*savedSession, error) {
	tok, p, err := convert.FromProtoAuth(resp)
	if err != nil {
		return nil, err
	}
	return &savedSession{
		AccessToken: tok.AccessToken,
		SessionID:   tok.SessionID,
		ExpiresAt:   tok.ExpiresAt,
		Principal:   p,
	}, nil
}

// SetDisplayName attaches a display name to the signed-in account.
func (c *Client) SetDisplayName(ctx context.Context, name string) (model.Principal, error) {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur == nil {
		return model.Principal{}, &errs.AuthenticationError{Op: "update profile", Msg: "not signed in", Err: errs.ErrUnauthorized}
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.api.UpdateProfile(cctx, convert.Profile(name), c.callOpts()...)
	if err != nil {
		err = authError("update profile", err)
		c.dropIfUnauthorized(cur.SessionID, err)
		return model.Principal{}, err
	}
	p, err := convert.FromProtoPrincipal(resp)
	if err != nil {
		return model.Principal{}, authError("update profile", err)
	}
	next := *cur
	next.Principal = p
	c.install(&next)
	return p, nil
}

// SignOut revokes the server session. The local session is forgotten even when
// the server call fails; that error is still returned.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur == nil {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	err := c.api.SignOut(cctx, c.callOpts()...)
	c.drop(cur.SessionID)
	if err != nil && status.Code(err) != codes.Unauthenticated {
		return authError("sign out", err)
	}
	return nil
}

// SubscribeIdentity calls fn with the current identity now and on every change.
func (c *Client) SubscribeIdentity(fn func(*model.Principal)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	var p *model.Principal
	if c.current != nil {
		cp := c.current.Principal
		p = &cp
	}
	c.mu.Unlock()

	fn(p)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// dropIfUnauthorized treats a rejected token as an out-of-band sign-out.
func (c *Client) dropIfUnauthorized(sid uuid.UUID, err error) {
	if errors.Is(err, errs.ErrUnauthorized) {
		c.log.Info("session rejected by server")
		c.drop(sid)
	}
}

func (c *Client) sessionID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return uuid.Nil
	}
	return c.current.SessionID
}

// --- tasks.Store ---

// Set replaces the record at path.
func (c *Client) Set(ctx context.Context, path string, t model.Task) error {
	return c.write(ctx, "set", path, func(ctx context.Context) error {
		return c.api.Set(ctx, convert.SetRequest(path, t), c.callOpts()...)
	})
}

// Update merges patch into the record at path.
func (c *Client) Update(ctx context.Context, path string, patch map[string]any) error {
	req, err := convert.UpdateRequest(path, patch)
	if err != nil {
		return &errs.StorageError{Op: "update", Path: path, Err: err}
	}
	return c.write(ctx, "update", path, func(ctx context.Context) error {
		return c.api.Update(ctx, req, c.callOpts()...)
	})
}

// Remove deletes the record at path.
func (c *Client) Remove(ctx context.Context, path string) error {
	return c.write(ctx, "remove", path, func(ctx context.Context) error {
		return c.api.Remove(ctx, convert.PathRequest(path), c.callOpts()...)
	})
}

func (c *Client) write(ctx context.Context, op, path string, call func(context.Context) error) error {
	sid := c.sessionID()
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := call(cctx); err != nil {
		err = storageError(op, path, err)
		c.dropIfUnauthorized(sid, err)
		return err
	}
	return nil
}

// Watch streams snapshots of the collection at path to fn until unsubscribe is
// called. The stream outlives ctx cancellation; ctx only carries values.
// A stream failure is reported once through onErr and ends the subscription.
func (c *Client) Watch(ctx context.Context, path string, fn func(model.Snapshot), onErr func(error)) (func(), error) {
	sid := c.sessionID()
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := c.api.Watch(wctx, convert.PathRequest(path), c.callOpts()...)
	if err != nil {
		cancel()
		err = storageError("watch", path, err)
		c.dropIfUnauthorized(sid, err)
		return nil, err
	}

	go func() {
		defer cancel()
		for {
			msg, err := stream.Recv()
			if err != nil {
				if wctx.Err() != nil {
					return
				}
				if errors.Is(err, io.EOF) {
					err = errs.ErrUnavailable
				}
				err = storageError("watch", path, err)
				c.log.Warn("watch ended", zap.String("path", path), zap.Error(err))
				c.dropIfUnauthorized(sid, err)
				if onErr != nil {
					onErr(err)
				}
				return
			}
			snap, err := convert.FromProtoSnapshot(msg)
			if err != nil {
				c.log.Warn("bad snapshot", zap.String("path", path), zap.Error(err))
				continue
			}
			fn(snap)
		}
	}()
	return cancel, nil
}

// Close stops the expiry timer. The connection belongs to the caller.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
}
