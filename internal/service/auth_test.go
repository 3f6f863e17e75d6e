package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	pkgcrypto "github.com/and161185/todo-keeper/internal/crypto"
	"github.com/and161185/todo-keeper/internal/errs"
	"github.com/and161185/todo-keeper/internal/limiter"
	"github.com/and161185/todo-keeper/internal/model"
	"github.com/and161185/todo-keeper/internal/repository"
)

type fakeUsers struct {
	mu      sync.Mutex
	byEmail map[string]*model.User

	createErr error
	getErr    error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if f.byEmail == nil {
		f.byEmail = map[string]*model.User{}
	}
	if _, exists := f.byEmail[u.Email]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *u
	f.byEmail[u.Email] = &cpy
	return nil
}
func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byEmail {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}
func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byEmail[email]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}
func (f *fakeUsers) SetDisplayName(_ context.Context, id uuid.UUID, name string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byEmail {
		if u.ID == id {
			u.DisplayName = name
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

type fakeSessions struct {
	mu   sync.Mutex
	byID map[uuid.UUID]model.Session
}

var _ repository.SessionRepository = (*fakeSessions)(nil)

func (f *fakeSessions) Create(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byID == nil {
		f.byID = map[uuid.UUID]model.Session{}
	}
	f.byID[s.ID] = *s
	return nil
}
func (f *fakeSessions) Get(_ context.Context, id uuid.UUID) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok || !s.ExpiresAt.After(time.Now()) {
		return nil, errs.ErrNotFound
	}
	return &s, nil
}
func (f *fakeSessions) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return errs.ErrNotFound
	}
	delete(f.byID, id)
	return nil
}
func (f *fakeSessions) DeleteExpired(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, s := range f.byID {
		if !s.ExpiresAt.After(time.Now()) {
			delete(f.byID, id)
			n++
		}
	}
	return n, nil
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	successErr error

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, 0, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return l.successErr
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}

var cheap = pkgcrypto.Params{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

func newAuth(users *fakeUsers, sessions *fakeSessions, ttl time.Duration, lim limiter.Limiter) *AuthServiceImpl {
	return NewAuthService(users, sessions, []byte("secret"), ttl, lim).WithHashParams(cheap)
}

func TestAuth_SignUp_Basics(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{}
	s := newAuth(users, &fakeSessions{}, time.Minute, &fakeLimiter{allowOK: true})
	ctx := context.Background()

	var ve *errs.ValidationError
	if _, _, err := s.SignUp(ctx, "", "secret1"); !errors.As(err, &ve) {
		t.Fatalf("want validation error on empty email, got %v", err)
	}
	if _, _, err := s.SignUp(ctx, "not-an-email", "secret1"); !errors.As(err, &ve) {
		t.Fatalf("want validation error on malformed email, got %v", err)
	}
	if _, _, err := s.SignUp(ctx, "a@x.io", "12345"); !errors.Is(err, errs.ErrWeakPassword) {
		t.Fatalf("want ErrWeakPassword, got %v", err)
	}

	tok, u, err := s.SignUp(ctx, " Alice@X.io ", "secret1")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if u.Email != "alice@x.io" || u.ID == uuid.Nil {
		t.Fatalf("bad user: %+v", u)
	}
	if tok.AccessToken == "" || tok.SessionID == uuid.Nil {
		t.Fatalf("sign-up must open a session: %+v", tok)
	}

	if _, _, err := s.SignUp(ctx, "alice@x.io", "secret2"); !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists on duplicate email, got %v", err)
	}

	users.createErr = errors.New("boom")
	if _, _, err := s.SignUp(ctx, "bob@x.io", "secret1"); err == nil {
		t.Fatalf("want propagated repo error")
	}
}

func TestAuth_SignIn_RateLimiterAndCreds(t *testing.T) {
	t.Parallel()

	hash, err := pkgcrypto.HashWith("correct", cheap)
	if err != nil {
		t.Fatal(err)
	}
	u := &model.User{ID: uuid.Must(uuid.NewV4()), Email: "alice@x.io", PwdHash: hash}

	users := &fakeUsers{byEmail: map[string]*model.User{"alice@x.io": u}}
	lim := &fakeLimiter{allowOK: true}
	s := newAuth(users, &fakeSessions{}, 2*time.Minute, lim)
	ctx := context.Background()

	lim.allowErr = errors.New("lim-err")
	if _, _, err := s.SignIn(ctx, "alice@x.io", "correct", "1.2.3.4"); err == nil {
		t.Fatalf("want limiter error propagate")
	}
	lim.allowErr = nil

	lim.allowOK = false
	if _, _, err := s.SignIn(ctx, "alice@x.io", "correct", "1.2.3.4"); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
	lim.allowOK = true

	if _, _, err := s.SignIn(ctx, "nope@x.io", "x", ""); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on missing user, got %v", err)
	}

	lim.failBlocked = true
	if _, _, err := s.SignIn(ctx, "alice@x.io", "wrong", ""); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited on blocked after failure, got %v", err)
	}

	lim.failBlocked = false
	if _, _, err := s.SignIn(ctx, "alice@x.io", "wrong", ""); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on wrong password, got %v", err)
	}

	tok, gotUser, err := s.SignIn(ctx, "ALICE@x.io", "correct", "127.0.0.1:123")
	if err != nil {
		t.Fatalf("SignIn success: %v", err)
	}
	if tok.AccessToken == "" || tok.ExpiresAt.Before(time.Now()) {
		t.Fatalf("bad token: %+v", tok)
	}
	if gotUser.ID != u.ID {
		t.Fatalf("bad user returned: %+v", gotUser)
	}
	if lim.successCalls == 0 {
		t.Fatalf("expected Success() to be called")
	}
}

func TestAuth_AuthenticateAndSignOut(t *testing.T) {
	t.Parallel()
	sessions := &fakeSessions{}
	s := newAuth(&fakeUsers{}, sessions, time.Minute, nil)
	ctx := context.Background()

	tok, u, err := s.SignUp(ctx, "a@x.io", "secret1")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	id, err := s.Authenticate(ctx, tok.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if id.UserID != u.ID || id.SessionID != tok.SessionID {
		t.Fatalf("bad identity: %+v", id)
	}

	if err := s.SignOut(ctx, tok.SessionID); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if _, err := s.Authenticate(ctx, tok.AccessToken); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("revoked token must not authenticate, got %v", err)
	}
	if err := s.SignOut(ctx, tok.SessionID); err != nil {
		t.Fatalf("second SignOut must be a no-op: %v", err)
	}
}

func TestAuth_Authenticate_RejectsForeignTokens(t *testing.T) {
	t.Parallel()
	s := newAuth(&fakeUsers{}, &fakeSessions{}, time.Minute, nil)
	ctx := context.Background()

	if _, err := s.Authenticate(ctx, "garbage"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}

	claims := jwt.RegisteredClaims{
		ID:        uuid.Must(uuid.NewV4()).String(),
		Subject:   uuid.Must(uuid.NewV4()).String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}
	other, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-key"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Authenticate(ctx, other); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on wrong key, got %v", err)
	}

	expired := claims
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	old, err := jwt.NewWithClaims(jwt.SigningMethodHS256, expired).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Authenticate(ctx, old); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on expired token, got %v", err)
	}

	// valid signature but no session row
	live, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Authenticate(ctx, live); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized without session, got %v", err)
	}
}

func TestAuth_ProfileAndPurge(t *testing.T) {
	t.Parallel()
	sessions := &fakeSessions{}
	s := newAuth(&fakeUsers{}, sessions, time.Minute, nil)
	ctx := context.Background()

	_, u, err := s.SignUp(ctx, "a@x.io", "secret1")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	got, err := s.UpdateProfile(ctx, u.ID, "  Ann ")
	if err != nil || got.DisplayName != "Ann" {
		t.Fatalf("UpdateProfile: %+v %v", got, err)
	}
	me, err := s.Me(ctx, u.ID)
	if err != nil || me.DisplayName != "Ann" {
		t.Fatalf("Me: %+v %v", me, err)
	}
	if _, err := s.Me(ctx, uuid.Must(uuid.NewV4())); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	stale := model.Session{ID: uuid.Must(uuid.NewV4()), UserID: u.ID, ExpiresAt: time.Now().Add(-time.Minute)}
	_ = sessions.Create(ctx, &stale)
	n, err := s.PurgeSessions(ctx)
	if err != nil || n != 1 {
		t.Fatalf("PurgeSessions: n=%d err=%v", n, err)
	}
}
