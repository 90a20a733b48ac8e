package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/keyxmakerx/cellscan/internal/apperror"
	"github.com/keyxmakerx/cellscan/internal/credentials"
)

// Messages shown to users. The login failure text is identical for unknown
// users and wrong passwords so the form cannot be used to probe usernames.
const (
	msgLoginFailed    = "incorrect username or password"
	msgDuplicate      = "username or email already exists"
	msgPasswordsMatch = "passwords do not match"
	msgSessionInvalid = "session expired or invalid"
)

// AuthService defines the business logic contract for authentication.
// Handlers call these methods -- they never touch the repository directly.
type AuthService interface {
	Register(ctx context.Context, input RegisterInput) (*User, error)
	Login(ctx context.Context, input LoginInput) (token string, user *User, err error)
	ValidateSession(ctx context.Context, token string) (*Session, error)
	Logout(ctx context.Context, token string) error
	PurgeExpired(ctx context.Context) (int64, error)
	SetActive(ctx context.Context, username string, active bool) error
}

// authService implements AuthService on top of a user repository and a
// session store.
type authService struct {
	repo            UserRepository
	sessions        SessionStore
	hasher          *Hasher
	idleTimeout     time.Duration
	absoluteTimeout time.Duration
	now             func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService creates a new auth service with the given dependencies.
// Sessions expire after idleTimeout without use, and never live longer than
// absoluteTimeout from login.
func NewAuthService(repo UserRepository, sessions SessionStore, hasher *Hasher, idleTimeout, absoluteTimeout time.Duration) AuthService {
	return &authService{
		repo:            repo,
		sessions:        sessions,
		hasher:          hasher,
		idleTimeout:     idleTimeout,
		absoluteTimeout: absoluteTimeout,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a new account. Input is checked in a fixed order
// (username, email, password match, password strength) and the first
// problem is reported. Uniqueness is decided by the store on insert.
func (s *authService) Register(ctx context.Context, input RegisterInput) (*User, error) {
	username := credentials.NormalizeUsername(input.Username)
	email := credentials.NormalizeEmail(input.Email)

	if ok, reason := credentials.ValidateUsername(username); !ok {
		return nil, apperror.NewValidation(reason)
	}
	if !credentials.ValidateEmail(email) {
		return nil, apperror.NewValidation(credentials.ReasonEmailInvalid)
	}
	if input.Password != input.Confirm {
		return nil, apperror.NewValidation(msgPasswordsMatch)
	}
	if ok, reason := credentials.ValidatePassword(input.Password); !ok {
		return nil, apperror.NewValidation(reason)
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	user := &User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now(),
		IsActive:     true,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, apperror.NewDuplicate(msgDuplicate)
		}
		return nil, apperror.NewUnavailable(fmt.Errorf("creating user: %w", err))
	}

	slog.Info("user registered",
		slog.Int64("user_id", user.ID),
		slog.String("username", user.Username),
	)

	return user, nil
}

// Login authenticates a user by username and password. On success any
// session the caller arrived with is destroyed and a fresh token issued,
// so a token planted before login never becomes authenticated.
func (s *authService) Login(ctx context.Context, input LoginInput) (string, *User, error) {
	username := credentials.NormalizeUsername(input.Username)
	if username == "" || input.Password == "" {
		s.logFailure(username, input.IP, "missing credentials")
		return "", nil, apperror.NewAuthentication(msgLoginFailed)
	}

	user, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		if apperror.SafeCode(err) == http.StatusNotFound {
			// Burn the same hashing time as a real check.
			s.hasher.Verify(input.Password, s.dummy())
			s.logFailure(username, input.IP, "unknown user")
			return "", nil, apperror.NewAuthentication(msgLoginFailed)
		}
		return "", nil, apperror.NewUnavailable(fmt.Errorf("finding user: %w", err))
	}

	if !s.hasher.Verify(input.Password, user.PasswordHash) {
		s.logFailure(username, input.IP, "wrong password")
		return "", nil, apperror.NewAuthentication(msgLoginFailed)
	}

	if input.PriorToken != "" {
		if err := s.sessions.Delete(ctx, input.PriorToken); err != nil {
			return "", nil, apperror.NewUnavailable(fmt.Errorf("dropping prior session: %w", err))
		}
	}

	token, err := generateSessionToken()
	if err != nil {
		return "", nil, apperror.NewInternal(fmt.Errorf("generating session token: %w", err))
	}

	now := s.now()
	session := &Session{
		UserID:    user.ID,
		Username:  user.Username,
		Permanent: true,
		IPAddress: input.IP,
		UserAgent: input.UserAgent,
		CreatedAt: now,
	}
	session.ExpiresAt = s.expiry(session, now)

	if err := s.sessions.Save(ctx, token, session); err != nil {
		return "", nil, apperror.NewUnavailable(fmt.Errorf("creating session: %w", err))
	}

	slog.Info("user logged in",
		slog.Int64("user_id", user.ID),
		slog.String("username", user.Username),
		slog.String("ip", input.IP),
	)

	return token, user, nil
}

// ValidateSession resolves a token to its session. Missing, idle-expired,
// absolutely-expired sessions and sessions of deactivated users are
// rejected; a valid session has its idle expiry pushed forward.
func (s *authService) ValidateSession(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, apperror.NewUnauthorized(msgSessionInvalid)
	}

	session, err := s.sessions.Get(ctx, token)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, apperror.NewUnauthorized(msgSessionInvalid)
	}
	if err != nil {
		return nil, apperror.NewUnavailable(fmt.Errorf("reading session: %w", err))
	}

	now := s.now()
	if !now.Before(session.ExpiresAt) || s.pastAbsolute(session, now) {
		s.drop(ctx, token)
		return nil, apperror.NewUnauthorized(msgSessionInvalid)
	}

	if _, err := s.repo.FindByID(ctx, session.UserID); err != nil {
		if apperror.SafeCode(err) == http.StatusNotFound {
			s.drop(ctx, token)
			return nil, apperror.NewUnauthorized(msgSessionInvalid)
		}
		return nil, apperror.NewUnavailable(fmt.Errorf("checking session user: %w", err))
	}

	session.ExpiresAt = s.expiry(session, now)
	if err := s.sessions.Touch(ctx, token, session.ExpiresAt); err != nil {
		return nil, apperror.NewUnavailable(fmt.Errorf("renewing session: %w", err))
	}

	return session, nil
}

// Logout destroys the session. Unknown tokens are ignored.
func (s *authService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	var username string
	if session, err := s.sessions.Get(ctx, token); err == nil {
		username = session.Username
	}

	if err := s.sessions.Delete(ctx, token); err != nil {
		return apperror.NewUnavailable(fmt.Errorf("deleting session: %w", err))
	}

	if username != "" {
		slog.Info("user logged out", slog.String("username", username))
	}
	return nil
}

// PurgeExpired removes sessions past their expiry. Called by the cleanup job.
func (s *authService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.sessions.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, apperror.NewUnavailable(fmt.Errorf("purging sessions: %w", err))
	}
	return n, nil
}

// SetActive enables or disables an account. A disabled user's sessions are
// rejected on their next request by ValidateSession.
func (s *authService) SetActive(ctx context.Context, username string, active bool) error {
	if err := s.repo.SetActive(ctx, username, active); err != nil {
		if apperror.SafeCode(err) == http.StatusNotFound {
			return err
		}
		return apperror.NewUnavailable(fmt.Errorf("updating user: %w", err))
	}

	if active {
		slog.Info("user enabled", slog.String("username", username))
	} else {
		slog.Info("user disabled", slog.String("username", username))
	}
	return nil
}

// expiry returns the next idle deadline, capped by the absolute lifetime.
func (s *authService) expiry(session *Session, now time.Time) time.Time {
	idle := now.Add(s.idleTimeout)
	if s.absoluteTimeout <= 0 {
		return idle
	}
	if limit := session.CreatedAt.Add(s.absoluteTimeout); limit.Before(idle) {
		return limit
	}
	return idle
}

// pastAbsolute reports whether the session outlived its absolute lifetime.
// A zero absoluteTimeout disables the cap.
func (s *authService) pastAbsolute(session *Session, now time.Time) bool {
	return s.absoluteTimeout > 0 && !now.Before(session.CreatedAt.Add(s.absoluteTimeout))
}

// drop deletes a session that failed validation. Failure only leaves a dead
// row for the sweep, so it is logged and otherwise ignored.
func (s *authService) drop(ctx context.Context, token string) {
	if err := s.sessions.Delete(ctx, token); err != nil {
		slog.Warn("failed to delete invalid session", slog.Any("error", err))
	}
}

func (s *authService) logFailure(username, ip, reason string) {
	slog.Warn("login failed",
		slog.String("username", username),
		slog.String("ip", ip),
		slog.String("reason", reason),
	)
}

// dummy returns a hash of a random-looking constant, computed once, so
// unknown-user logins cost as much as real ones.
func (s *authService) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash("cellscan-timing-equalizer")
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}
