// Package service contains application services for accounts and task records.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	pkgcrypto "github.com/and161185/todo-keeper/internal/crypto"
	"github.com/and161185/todo-keeper/internal/errs"
	"github.com/and161185/todo-keeper/internal/limiter"
	"github.com/and161185/todo-keeper/internal/model"
	"github.com/and161185/todo-keeper/internal/repository"
)

// MinPasswordLen is the shortest accepted password.
const MinPasswordLen = 6

// Identity is what a verified access token resolves to.
type Identity struct {
	UserID    uuid.UUID
	SessionID uuid.UUID
}

// AuthService defines account and session operations.
type AuthService interface {
	// SignUp creates an account and opens a session for it.
	SignUp(ctx context.Context, email, password string) (model.Tokens, model.User, error)
	// SignIn applies rate-limiting and authenticates the user.
	SignIn(ctx context.Context, email, password, ip string) (model.Tokens, model.User, error)
	// SignOut revokes the session.
	SignOut(ctx context.Context, sessionID uuid.UUID) error
	// Authenticate verifies an access token and its session.
	Authenticate(ctx context.Context, token string) (Identity, error)
	// Me returns the current account.
	Me(ctx context.Context, userID uuid.UUID) (model.User, error)
	// UpdateProfile sets the display name.
	UpdateProfile(ctx context.Context, userID uuid.UUID, displayName string) (model.User, error)
}

type AuthServiceImpl struct {
	users     repository.UserRepository
	sessions  repository.SessionRepository
	signKey   []byte
	accessTTL time.Duration
	lim       limiter.Limiter
	hash      func(string) (string, error)
}

var _ AuthService = (*AuthServiceImpl)(nil)

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(users repository.UserRepository, sessions repository.SessionRepository, signKey []byte, accessTTL time.Duration, lim limiter.Limiter) *AuthServiceImpl {
	if lim == nil {
		lim = limiter.Nop{}
	}
	return &AuthServiceImpl{
		users:     users,
		sessions:  sessions,
		signKey:   signKey,
		accessTTL: accessTTL,
		lim:       lim,
		hash:      pkgcrypto.Hash,
	}
}

// WithHashParams switches password hashing to p for new accounts.
// Existing hashes carry their own parameters and keep verifying.
func (s *AuthServiceImpl) WithHashParams(p pkgcrypto.Params) *AuthServiceImpl {
	s.hash = func(pw string) (string, error) { return pkgcrypto.HashWith(pw, p) }
	return s
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", &errs.ValidationError{Field: "email", Msg: "required"}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", &errs.ValidationError{Field: "email", Msg: "malformed"}
	}
	return email, nil
}

// SignUp creates a user with an Argon2id password hash and signs it in.
func (s *AuthServiceImpl) SignUp(ctx context.Context, email, password string) (model.Tokens, model.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	if len(password) < MinPasswordLen {
		return model.Tokens{}, model.User{}, fmt.Errorf("at least %d characters: %w", MinPasswordLen, errs.ErrWeakPassword)
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	pwdHash, err := s.hash(password)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	u := &model.User{ID: uid, Email: email, PwdHash: pwdHash, CreatedAt: time.Now()}
	if err := s.users.Create(ctx, u); err != nil {
		return model.Tokens{}, model.User{}, err
	}
	tok, err := s.openSession(ctx, uid)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return tok, *u, nil
}

// SignIn authenticates with rate limiting by (email, ip).
func (s *AuthServiceImpl) SignIn(ctx context.Context, email, password, ip string) (model.Tokens, model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, email, ipHash)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	if !allowed {
		return model.Tokens{}, model.User{}, errs.ErrRateLimited
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		var ok bool
		ok, err = pkgcrypto.Verify(password, u.PwdHash)
		if err == nil && !ok {
			err = errs.ErrUnauthorized
		}
	}
	if err != nil {
		if blocked, _, ferr := s.lim.Failure(ctx, email, ipHash); ferr == nil && blocked {
			return model.Tokens{}, model.User{}, errs.ErrRateLimited
		}
		// unknown email and wrong password look the same
		return model.Tokens{}, model.User{}, errs.ErrUnauthorized
	}

	_ = s.lim.Success(ctx, email, ipHash)

	tok, err := s.openSession(ctx, u.ID)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return tok, *u, nil
}

// SignOut deletes the session so its token stops authenticating.
func (s *AuthServiceImpl) SignOut(ctx context.Context, sessionID uuid.UUID) error {
	err := s.sessions.Delete(ctx, sessionID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil
	}
	return err
}

// Authenticate parses an HS256 token and checks that its session is still live.
func (s *AuthServiceImpl) Authenticate(ctx context.Context, token string) (Identity, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	}, jwt.WithLeeway(30*time.Second))
	if err != nil || !parsed.Valid {
		return Identity{}, errs.ErrUnauthorized
	}
	uid, err := uuid.FromString(claims.Subject)
	if err != nil {
		return Identity{}, errs.ErrUnauthorized
	}
	sid, err := uuid.FromString(claims.ID)
	if err != nil {
		return Identity{}, errs.ErrUnauthorized
	}
	sess, err := s.sessions.Get(ctx, sid)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return Identity{}, errs.ErrUnauthorized
		}
		return Identity{}, err
	}
	if sess.UserID != uid {
		return Identity{}, errs.ErrUnauthorized
	}
	return Identity{UserID: uid, SessionID: sid}, nil
}

// Me loads the account of userID.
func (s *AuthServiceImpl) Me(ctx context.Context, userID uuid.UUID) (model.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return model.User{}, err
	}
	return *u, nil
}

// UpdateProfile stores a new display name.
func (s *AuthServiceImpl) UpdateProfile(ctx context.Context, userID uuid.UUID, displayName string) (model.User, error) {
	displayName = strings.TrimSpace(displayName)
	if len(displayName) > 200 {
		return model.User{}, &errs.ValidationError{Field: "display_name", Msg: "too long"}
	}
	u, err := s.users.SetDisplayName(ctx, userID, displayName)
	if err != nil {
		return model.User{}, err
	}
	return *u, nil
}

// PurgeSessions removes expired sessions.
func (s *AuthServiceImpl) PurgeSessions(ctx context.Context) (int64, error) {
	return s.sessions.DeleteExpired(ctx)
}

func (s *AuthServiceImpl) openSession(ctx context.Context, userID uuid.UUID) (model.Tokens, error) {
	sid, err := uuid.NewV4()
	if err != nil {
		return model.Tokens{}, err
	}
	exp := time.Now().Add(s.accessTTL)
	if err := s.sessions.Create(ctx, &model.Session{ID: sid, UserID: userID, ExpiresAt: exp}); err != nil {
		return model.Tokens{}, err
	}
	access, err := s.issueAccessToken(userID, sid, exp)
	if err != nil {
		return model.Tokens{}, err
	}
	return model.Tokens{AccessToken: access, SessionID: sid, ExpiresAt: exp}, nil
}

// issueAccessToken creates a signed HS256 JWT for the given subject and session.
func (s *AuthServiceImpl) issueAccessToken(userID, sessionID uuid.UUID, exp time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        sessionID.String(),
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(s.signKey)
}
