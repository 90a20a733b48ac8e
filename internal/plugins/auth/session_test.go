package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/cellscan/internal/database/dbtest"
)

// storeFixtures returns both session backends so every behavior is checked
// against SQL and Redis alike.
func storeFixtures(t *testing.T) map[string]SessionStore {
	t.Helper()

	db := dbtest.Open(t)
	// Sessions reference users.
	alice := newUser("alice")
	require.NoError(t, NewUserRepository(db).Create(context.Background(), alice))
	require.Equal(t, int64(1), alice.ID)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return map[string]SessionStore{
		"sql":   NewSQLSessionStore(db),
		"redis": NewRedisSessionStore(rdb),
	}
}

func testSession(expiresIn time.Duration) *Session {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &Session{
		UserID:    1,
		Username:  "alice",
		Permanent: true,
		IPAddress: "10.0.0.1",
		UserAgent: "curl/8",
		CreatedAt: now,
		ExpiresAt: now.Add(expiresIn),
	}
}

func TestSessionStores_SaveGetDelete(t *testing.T) {
	for name, store := range storeFixtures(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := testSession(time.Hour)

			require.NoError(t, store.Save(ctx, "tok-1", s))

			got, err := store.Get(ctx, "tok-1")
			require.NoError(t, err)
			assert.Equal(t, s.UserID, got.UserID)
			assert.Equal(t, s.Username, got.Username)
			assert.True(t, got.Permanent)
			assert.Equal(t, "10.0.0.1", got.IPAddress)
			assert.WithinDuration(t, s.ExpiresAt, got.ExpiresAt, time.Millisecond)

			// Save again replaces the record (renewal).
			s.ExpiresAt = s.ExpiresAt.Add(time.Hour)
			require.NoError(t, store.Save(ctx, "tok-1", s))
			got, err = store.Get(ctx, "tok-1")
			require.NoError(t, err)
			assert.WithinDuration(t, s.ExpiresAt, got.ExpiresAt, time.Millisecond)

			require.NoError(t, store.Delete(ctx, "tok-1"))
			_, err = store.Get(ctx, "tok-1")
			assert.ErrorIs(t, err, ErrSessionNotFound)

			// Deleting again is fine.
			assert.NoError(t, store.Delete(ctx, "tok-1"))
		})
	}
}

func TestSessionStores_Touch(t *testing.T) {
	for name, store := range storeFixtures(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := testSession(time.Hour)
			require.NoError(t, store.Save(ctx, "tok-1", s))

			later := s.ExpiresAt.Add(time.Hour)
			require.NoError(t, store.Touch(ctx, "tok-1", later))
			require.NoError(t, store.Touch(ctx, "tok-1", later), "repeating a renewal is harmless")

			got, err := store.Get(ctx, "tok-1")
			require.NoError(t, err)
			assert.WithinDuration(t, later, got.ExpiresAt, time.Millisecond)
			assert.Equal(t, "alice", got.Username)
			assert.Equal(t, "10.0.0.1", got.IPAddress)

			// Touch never creates a session.
			require.NoError(t, store.Touch(ctx, "logged-out", later))
			_, err = store.Get(ctx, "logged-out")
			assert.ErrorIs(t, err, ErrSessionNotFound)
		})
	}
}

func TestSessionStores_UnknownToken(t *testing.T) {
	for name, store := range storeFixtures(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "never-issued")
			assert.ErrorIs(t, err, ErrSessionNotFound)
		})
	}
}

func TestSQLSessionStore_StoresTokenHashOnly(t *testing.T) {
	db := dbtest.Open(t)
	require.NoError(t, NewUserRepository(db).Create(context.Background(), newUser("alice")))
	store := NewSQLSessionStore(db)

	require.NoError(t, store.Save(context.Background(), "plain-token", testSession(time.Hour)))

	var keys []string
	require.NoError(t, db.Select(&keys, `SELECT token_hash FROM sessions`))
	require.Len(t, keys, 1)
	assert.Equal(t, hashToken("plain-token"), keys[0])
	assert.NotContains(t, keys[0], "plain-token")
}

func TestSQLSessionStore_DeleteExpired(t *testing.T) {
	db := dbtest.Open(t)
	require.NoError(t, NewUserRepository(db).Create(context.Background(), newUser("alice")))
	store := NewSQLSessionStore(db)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "old", testSession(-time.Minute)))
	require.NoError(t, store.Save(ctx, "fresh", testSession(time.Hour)))

	n, err := store.DeleteExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.Get(ctx, "fresh")
	assert.NoError(t, err)
	_, err = store.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisSessionStore_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	store := NewRedisSessionStore(rdb)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "tok", testSession(2*time.Hour)))
	ttl := mr.TTL(sessionKeyPrefix + "tok")
	assert.InDelta(t, (2 * time.Hour).Seconds(), ttl.Seconds(), 5)

	mr.FastForward(2*time.Hour + time.Second)
	_, err := store.Get(ctx, "tok")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// An already-expired session is not written at all.
	require.NoError(t, store.Save(ctx, "late", testSession(-time.Second)))
	assert.False(t, mr.Exists(sessionKeyPrefix+"late"))
}

func TestRedisSessionStore_TouchRefreshesTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	store := NewRedisSessionStore(rdb)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "tok", testSession(time.Minute)))
	require.NoError(t, store.Touch(ctx, "tok", time.Now().Add(2*time.Hour)))
	assert.InDelta(t, (2 * time.Hour).Seconds(), mr.TTL(sessionKeyPrefix+"tok").Seconds(), 5)

	require.NoError(t, store.Touch(ctx, "tok", time.Now().Add(-time.Second)))
	assert.False(t, mr.Exists(sessionKeyPrefix+"tok"), "a renewal into the past ends the session")
}

// Many requests carrying one cookie renew the same row at once. On
// PostgreSQL a delete-and-reinsert renewal collides on the primary key, so
// renewal must be a single UPDATE.
func TestValidateSession_ConcurrentRenewalPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	const requests = 8
	clock := newTestClock()
	db.SetMaxIdleConns(requests)

	svc := &authService{
		repo:            &mockUserRepo{},
		sessions:        NewSQLSessionStore(sqlx.NewDb(db, "pgx")),
		hasher:          fastHasher(AlgorithmArgon2id),
		idleTimeout:     2 * time.Hour,
		absoluteTimeout: 24 * time.Hour,
		now:             clock.now,
	}

	columns := []string{"token_hash", "user_id", "username", "ip_address", "user_agent", "permanent", "created_at", "expires_at"}
	for i := 0; i < requests; i++ {
		mock.ExpectQuery(`SELECT .* FROM sessions WHERE token_hash = \$1`).
			WithArgs(hashToken("shared")).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(
				hashToken("shared"), int64(7), "alice", "10.0.0.1", "curl/8", true,
				clock.t.Add(-time.Hour), clock.t.Add(time.Hour),
			))
		mock.ExpectExec(`UPDATE sessions SET expires_at = \$1 WHERE token_hash = \$2`).
			WithArgs(clock.t.Add(2*time.Hour), hashToken("shared")).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	var wg sync.WaitGroup
	errs := make(chan error, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ValidateSession(context.Background(), "shared")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.NoError(t, mock.ExpectationsWereMet(), "renewal must not delete or insert rows")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	// "é" is two bytes; never split it.
	assert.Equal(t, "a", truncate("aé", 2))
}
