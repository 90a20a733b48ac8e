package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/keyxmakerx/cellscan/internal/apperror"
)

// --- Mock Repository ---

// mockUserRepo implements UserRepository for testing.
type mockUserRepo struct {
	createFn         func(ctx context.Context, user *User) error
	findByUsernameFn func(ctx context.Context, username string) (*User, error)
	findByIDFn       func(ctx context.Context, id int64) (*User, error)
	setActiveFn      func(ctx context.Context, username string, active bool) error
}

func (m *mockUserRepo) Create(ctx context.Context, user *User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	user.ID = 1
	return nil
}

func (m *mockUserRepo) FindByUsername(ctx context.Context, username string) (*User, error) {
	if m.findByUsernameFn != nil {
		return m.findByUsernameFn(ctx, username)
	}
	return nil, apperror.NewNotFound("user not found")
}

func (m *mockUserRepo) FindByID(ctx context.Context, id int64) (*User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return &User{ID: id, IsActive: true}, nil
}

func (m *mockUserRepo) SetActive(ctx context.Context, username string, active bool) error {
	if m.setActiveFn != nil {
		return m.setActiveFn(ctx, username, active)
	}
	return nil
}

// --- Mock Session Store ---

// memSessionStore is an in-memory SessionStore with injectable failures.
type memSessionStore struct {
	sessions map[string]Session
	saveErr  error
	touchErr error
	getErr   error
	delErr   error
	saves    int
	deleted  []string
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]Session)}
}

func (m *memSessionStore) Save(ctx context.Context, token string, s *Session) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.sessions[token] = *s
	return nil
}

func (m *memSessionStore) Touch(ctx context.Context, token string, expiresAt time.Time) error {
	if m.touchErr != nil {
		return m.touchErr
	}
	if s, ok := m.sessions[token]; ok {
		s.ExpiresAt = expiresAt
		m.sessions[token] = s
	}
	return nil
}

func (m *memSessionStore) Get(ctx context.Context, token string) (*Session, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	s, ok := m.sessions[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

func (m *memSessionStore) Delete(ctx context.Context, token string) error {
	if m.delErr != nil {
		return m.delErr
	}
	m.deleted = append(m.deleted, token)
	delete(m.sessions, token)
	return nil
}

func (m *memSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for k, s := range m.sessions {
		if !now.Before(s.ExpiresAt) {
			delete(m.sessions, k)
			n++
		}
	}
	return n, nil
}

// --- Test Helpers ---

// testClock is a settable time source.
type testClock struct{ t time.Time }

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// fastHasher keeps the real encodings but with cheap parameters.
func fastHasher(algorithm string) *Hasher {
	h := NewHasher(algorithm)
	h.argon = argonParams{time: 1, memory: 8 * 1024, threads: 1}
	h.iterations = 1000
	return h
}

func mustHash(t *testing.T, h *Hasher, p string) string {
	t.Helper()
	hash, err := h.Hash(p)
	if err != nil {
		t.Fatalf("hashing: %v", err)
	}
	return hash
}

// newTestAuthService creates an authService with mocks, a fast hasher and a
// controllable clock: 2h idle timeout, 24h absolute.
func newTestAuthService(repo *mockUserRepo, store *memSessionStore, clock *testClock) *authService {
	return &authService{
		repo:            repo,
		sessions:        store,
		hasher:          fastHasher(AlgorithmArgon2id),
		idleTimeout:     2 * time.Hour,
		absoluteTimeout: 24 * time.Hour,
		now:             clock.now,
	}
}

// assertAppError checks that err is an *apperror.AppError with the expected code.
func assertAppError(t *testing.T, err error, expectedCode int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %d, got nil", expectedCode)
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperror.AppError, got %T: %v", err, err)
	}
	if appErr.Code != expectedCode {
		t.Errorf("expected status %d, got %d (message: %s)", expectedCode, appErr.Code, appErr.Message)
	}
}

// aliceRepo returns a repo holding one active user "alice" with password Secret123.
func aliceRepo(t *testing.T, h *Hasher) *mockUserRepo {
	alice := &User{ID: 7, Username: "alice", Email: "alice@example.com", PasswordHash: mustHash(t, h, "Secret123"), IsActive: true}
	return &mockUserRepo{
		findByUsernameFn: func(ctx context.Context, username string) (*User, error) {
			if username == "alice" {
				u := *alice
				return &u, nil
			}
			return nil, apperror.NewNotFound("user not found")
		},
	}
}

// --- Register Tests ---

func TestRegister_Success(t *testing.T) {
	var created *User
	repo := &mockUserRepo{
		createFn: func(ctx context.Context, user *User) error {
			created = user
			user.ID = 42
			return nil
		},
	}

	svc := newTestAuthService(repo, newMemSessionStore(), newTestClock())
	user, err := svc.Register(context.Background(), RegisterInput{
		Username: "  alice ",
		Email:    " Alice@Example.COM ",
		Password: "Secret123",
		Confirm:  "Secret123",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID != 42 {
		t.Errorf("expected ID from store, got %d", user.ID)
	}
	if created.Username != "alice" {
		t.Errorf("expected trimmed username, got %q", created.Username)
	}
	if created.Email != "alice@example.com" {
		t.Errorf("expected normalized email, got %q", created.Email)
	}
	if !created.IsActive {
		t.Error("expected new user to be active")
	}
	if created.PasswordHash == "" || created.PasswordHash == "Secret123" {
		t.Errorf("expected password to be hashed, got %q", created.PasswordHash)
	}
	if !svc.hasher.Verify("Secret123", created.PasswordHash) {
		t.Error("stored hash should verify the original password")
	}
}

func TestRegister_ValidationOrder(t *testing.T) {
	tests := []struct {
		name  string
		input RegisterInput
		want  string
	}{
		{"short username wins over everything", RegisterInput{"al", "bad", "x", "y"}, "username must be at least 3 characters"},
		{"long username", RegisterInput{strings.Repeat("a", 51), "a@b.co", "Secret123", "Secret123"}, "username must be at most 50 characters"},
		{"username charset", RegisterInput{"al ice", "a@b.co", "Secret123", "Secret123"}, "username may only contain letters, digits, hyphens and underscores"},
		{"email before password", RegisterInput{"alice", "not-an-email", "x", "y"}, "invalid email address"},
		{"mismatch before strength", RegisterInput{"alice", "a@b.co", "weak", "other"}, "passwords do not match"},
		{"length", RegisterInput{"alice", "a@b.co", "Sec1", "Sec1"}, "password must be at least 8 characters"},
		{"uppercase", RegisterInput{"alice", "a@b.co", "secret123", "secret123"}, "password must contain at least one uppercase letter"},
		{"lowercase", RegisterInput{"alice", "a@b.co", "SECRET123", "SECRET123"}, "password must contain at least one lowercase letter"},
		{"digit", RegisterInput{"alice", "a@b.co", "SecretPass", "SecretPass"}, "password must contain at least one digit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockUserRepo{
				createFn: func(ctx context.Context, user *User) error {
					t.Fatal("store must not be touched on invalid input")
					return nil
				},
			}
			svc := newTestAuthService(repo, newMemSessionStore(), newTestClock())

			_, err := svc.Register(context.Background(), tt.input)
			assertAppError(t, err, http.StatusUnprocessableEntity)
			if msg := apperror.SafeMessage(err); msg != tt.want {
				t.Errorf("expected %q, got %q", tt.want, msg)
			}
		})
	}
}

func TestRegister_Duplicate(t *testing.T) {
	repo := &mockUserRepo{
		createFn: func(ctx context.Context, user *User) error {
			return ErrDuplicate
		},
	}

	svc := newTestAuthService(repo, newMemSessionStore(), newTestClock())
	_, err := svc.Register(context.Background(), RegisterInput{"alice", "alice@example.com", "Secret123", "Secret123"})
	assertAppError(t, err, http.StatusConflict)
	if !apperror.IsType(err, "duplicate") {
		t.Errorf("expected duplicate type, got %v", err)
	}
	if msg := apperror.SafeMessage(err); msg != "username or email already exists" {
		t.Errorf("message must not reveal which field collided, got %q", msg)
	}
}

func TestRegister_StoreError(t *testing.T) {
	repo := &mockUserRepo{
		createFn: func(ctx context.Context, user *User) error {
			return errors.New("connection refused")
		},
	}

	svc := newTestAuthService(repo, newMemSessionStore(), newTestClock())
	_, err := svc.Register(context.Background(), RegisterInput{"alice", "alice@example.com", "Secret123", "Secret123"})
	assertAppError(t, err, http.StatusServiceUnavailable)
	if strings.Contains(apperror.SafeMessage(err), "connection refused") {
		t.Error("internal error leaked into user-facing message")
	}
}

// --- Login Tests ---

func TestLogin_Success(t *testing.T) {
	clock := newTestClock()
	store := newMemSessionStore()
	h := fastHasher(AlgorithmArgon2id)
	svc := newTestAuthService(aliceRepo(t, h), store, clock)
	svc.hasher = h

	token, user, err := svc.Login(context.Background(), LoginInput{Username: " alice ", Password: "Secret123", IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.Username != "alice" {
		t.Errorf("expected alice, got %q", user.Username)
	}
	if len(token) != 2*sessionTokenBytes {
		t.Errorf("expected %d-char token, got %d", 2*sessionTokenBytes, len(token))
	}

	s, ok := store.sessions[token]
	if !ok {
		t.Fatal("expected session to be stored under the token")
	}
	if s.UserID != 7 || s.Username != "alice" || !s.Permanent {
		t.Errorf("unexpected session %+v", s)
	}
	if want := clock.t.Add(2 * time.Hour); !s.ExpiresAt.Equal(want) {
		t.Errorf("expected expiry %v, got %v", want, s.ExpiresAt)
	}
}

func TestLogin_FailuresShareOneMessage(t *testing.T) {
	h := fastHasher(AlgorithmArgon2id)
	svc := newTestAuthService(aliceRepo(t, h), newMemSessionStore(), newTestClock())
	svc.hasher = h

	cases := []LoginInput{
		{Username: "alice", Password: "wrong-Password1"},
		{Username: "mallory", Password: "Secret123"},
		{Username: "", Password: "Secret123"},
		{Username: "alice", Password: ""},
		{Username: "Alice", Password: "Secret123"}, // usernames are case-sensitive
	}

	for _, in := range cases {
		_, _, err := svc.Login(context.Background(), in)
		assertAppError(t, err, http.StatusUnauthorized)
		if msg := apperror.SafeMessage(err); msg != "incorrect username or password" {
			t.Errorf("%+v: expected generic message, got %q", in, msg)
		}
	}
}

func TestLogin_ReplacesPriorSession(t *testing.T) {
	store := newMemSessionStore()
	store.sessions["planted"] = Session{UserID: 99, Username: "mallory", ExpiresAt: time.Now().Add(time.Hour)}
	h := fastHasher(AlgorithmArgon2id)
	svc := newTestAuthService(aliceRepo(t, h), store, newTestClock())
	svc.hasher = h

	token, _, err := svc.Login(context.Background(), LoginInput{Username: "alice", Password: "Secret123", PriorToken: "planted"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token == "planted" {
		t.Fatal("login must issue a fresh token")
	}
	if _, ok := store.sessions["planted"]; ok {
		t.Error("prior session should be destroyed on login")
	}
}

func TestLogin_StoreUnavailable(t *testing.T) {
	t.Run("user lookup", func(t *testing.T) {
		repo := &mockUserRepo{
			findByUsernameFn: func(ctx context.Context, username string) (*User, error) {
				return nil, errors.New("db down")
			},
		}
		svc := newTestAuthService(repo, newMemSessionStore(), newTestClock())
		_, _, err := svc.Login(context.Background(), LoginInput{Username: "alice", Password: "Secret123"})
		assertAppError(t, err, http.StatusServiceUnavailable)
	})

	t.Run("session save", func(t *testing.T) {
		h := fastHasher(AlgorithmArgon2id)
		store := newMemSessionStore()
		store.saveErr = errors.New("redis down")
		svc := newTestAuthService(aliceRepo(t, h), store, newTestClock())
		svc.hasher = h
		_, _, err := svc.Login(context.Background(), LoginInput{Username: "alice", Password: "Secret123"})
		assertAppError(t, err, http.StatusServiceUnavailable)
	})
}

// --- Session Tests ---

// loggedIn returns a service with alice signed in and her token.
func loggedIn(t *testing.T, repo *mockUserRepo, clock *testClock) (*authService, *memSessionStore, string) {
	t.Helper()
	h := fastHasher(AlgorithmArgon2id)
	if repo.findByUsernameFn == nil {
		repo.findByUsernameFn = aliceRepo(t, h).findByUsernameFn
	}
	store := newMemSessionStore()
	svc := newTestAuthService(repo, store, clock)
	svc.hasher = h
	token, _, err := svc.Login(context.Background(), LoginInput{Username: "alice", Password: "Secret123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return svc, store, token
}

func TestValidateSession_RenewsIdleExpiry(t *testing.T) {
	clock := newTestClock()
	svc, store, token := loggedIn(t, &mockUserRepo{}, clock)

	clock.advance(90 * time.Minute)
	s, err := svc.ValidateSession(context.Background(), token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Identity() != (Identity{UserID: 7, Username: "alice"}) {
		t.Errorf("unexpected identity %+v", s.Identity())
	}
	if want := clock.t.Add(2 * time.Hour); !store.sessions[token].ExpiresAt.Equal(want) {
		t.Errorf("expected renewed expiry %v, got %v", want, store.sessions[token].ExpiresAt)
	}

	if store.saves != 1 {
		t.Errorf("renewal should update the session in place, got %d saves", store.saves)
	}

	// 90 more minutes is within two hours of the renewal.
	clock.advance(90 * time.Minute)
	if _, err := svc.ValidateSession(context.Background(), token); err != nil {
		t.Fatalf("session should still be valid after renewal: %v", err)
	}
}

func TestValidateSession_IdleExpired(t *testing.T) {
	clock := newTestClock()
	svc, store, token := loggedIn(t, &mockUserRepo{}, clock)

	clock.advance(2*time.Hour + time.Second)
	_, err := svc.ValidateSession(context.Background(), token)
	assertAppError(t, err, http.StatusUnauthorized)
	if _, ok := store.sessions[token]; ok {
		t.Error("expired session should be deleted")
	}
}

func TestValidateSession_AbsoluteCap(t *testing.T) {
	clock := newTestClock()
	svc, store, token := loggedIn(t, &mockUserRepo{}, clock)

	// Stay active every hour; the 24h cap still ends the session.
	for i := 0; i < 23; i++ {
		clock.advance(time.Hour)
		if _, err := svc.ValidateSession(context.Background(), token); err != nil {
			t.Fatalf("hour %d: unexpected error: %v", i+1, err)
		}
	}
	if got, want := store.sessions[token].ExpiresAt, clock.t.Add(time.Hour); !got.Equal(want) {
		t.Errorf("expiry should be capped at login+24h, got %v want %v", got, want)
	}

	clock.advance(time.Hour)
	_, err := svc.ValidateSession(context.Background(), token)
	assertAppError(t, err, http.StatusUnauthorized)
}

func TestValidateSession_DeactivatedUser(t *testing.T) {
	active := true
	repo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id int64) (*User, error) {
			if !active {
				return nil, apperror.NewNotFound("user not found")
			}
			return &User{ID: id, IsActive: true}, nil
		},
	}
	svc, _, token := loggedIn(t, repo, newTestClock())

	active = false
	_, err := svc.ValidateSession(context.Background(), token)
	assertAppError(t, err, http.StatusUnauthorized)
}

func TestValidateSession_Unknown(t *testing.T) {
	svc := newTestAuthService(&mockUserRepo{}, newMemSessionStore(), newTestClock())

	for _, token := range []string{"", "nope"} {
		_, err := svc.ValidateSession(context.Background(), token)
		assertAppError(t, err, http.StatusUnauthorized)
	}
}

func TestValidateSession_StoreError(t *testing.T) {
	store := newMemSessionStore()
	store.getErr = errors.New("timeout")
	svc := newTestAuthService(&mockUserRepo{}, store, newTestClock())

	_, err := svc.ValidateSession(context.Background(), "token")
	assertAppError(t, err, http.StatusServiceUnavailable)

	t.Run("renewal", func(t *testing.T) {
		svc, store, token := loggedIn(t, &mockUserRepo{}, newTestClock())
		store.touchErr = errors.New("timeout")
		_, err := svc.ValidateSession(context.Background(), token)
		assertAppError(t, err, http.StatusServiceUnavailable)
	})
}

func TestSetActive(t *testing.T) {
	calls := map[string]bool{}
	repo := &mockUserRepo{
		setActiveFn: func(ctx context.Context, username string, active bool) error {
			if username != "bob" {
				return apperror.NewNotFound("user not found")
			}
			calls[username] = active
			return nil
		},
	}
	svc := newTestAuthService(repo, newMemSessionStore(), newTestClock())

	if err := svc.SetActive(context.Background(), "bob", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if active, ok := calls["bob"]; !ok || active {
		t.Errorf("expected bob to be disabled, got %v", calls)
	}

	assertAppError(t, svc.SetActive(context.Background(), "nobody", true), http.StatusNotFound)

	repo.setActiveFn = func(ctx context.Context, username string, active bool) error {
		return errors.New("connection refused")
	}
	assertAppError(t, svc.SetActive(context.Background(), "bob", true), http.StatusServiceUnavailable)
}

func TestLogout(t *testing.T) {
	svc, store, token := loggedIn(t, &mockUserRepo{}, newTestClock())

	if err := svc.Logout(context.Background(), token); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.sessions[token]; ok {
		t.Error("session should be gone after logout")
	}
	_, err := svc.ValidateSession(context.Background(), token)
	assertAppError(t, err, http.StatusUnauthorized)

	// Logging out twice is harmless.
	if err := svc.Logout(context.Background(), token); err != nil {
		t.Errorf("second logout: %v", err)
	}
}

func TestPurgeExpired(t *testing.T) {
	clock := newTestClock()
	store := newMemSessionStore()
	store.sessions["old"] = Session{ExpiresAt: clock.t.Add(-time.Minute)}
	store.sessions["edge"] = Session{ExpiresAt: clock.t}
	store.sessions["fresh"] = Session{ExpiresAt: clock.t.Add(time.Minute)}
	svc := newTestAuthService(&mockUserRepo{}, store, clock)

	n, err := svc.PurgeExpired(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 purged, got %d", n)
	}
	if _, ok := store.sessions["fresh"]; !ok {
		t.Error("fresh session should survive")
	}
}
