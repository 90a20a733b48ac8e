package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/cellscan/internal/apperror"
	"github.com/keyxmakerx/cellscan/internal/database/dbtest"
)

func newUser(name string) *User {
	return &User{
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "hash",
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
		IsActive:     true,
	}
}

func TestUserRepository_SQLite(t *testing.T) {
	repo := NewUserRepository(dbtest.Open(t))
	ctx := context.Background()

	alice := newUser("alice")
	require.NoError(t, repo.Create(ctx, alice))
	assert.Positive(t, alice.ID)

	got, err := repo.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)
	assert.Equal(t, "alice@example.com", got.Email)
	assert.True(t, got.IsActive)
	assert.WithinDuration(t, alice.CreatedAt, got.CreatedAt, time.Second)

	_, err = repo.FindByUsername(ctx, "Alice")
	assert.Equal(t, http.StatusNotFound, apperror.SafeCode(err), "usernames are case-sensitive")

	byID, err := repo.FindByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Username)
}

func TestUserRepository_DuplicateRejectedByInsert(t *testing.T) {
	repo := NewUserRepository(dbtest.Open(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newUser("alice")))

	sameName := newUser("alice")
	sameName.Email = "other@example.com"
	assert.ErrorIs(t, repo.Create(ctx, sameName), ErrDuplicate)

	sameEmail := newUser("alice2")
	sameEmail.Email = "alice@example.com"
	assert.ErrorIs(t, repo.Create(ctx, sameEmail), ErrDuplicate)

	// Exactly one row survives.
	_, err := repo.FindByUsername(ctx, "alice2")
	assert.Equal(t, http.StatusNotFound, apperror.SafeCode(err))
}

func TestUserRepository_SetActive(t *testing.T) {
	repo := NewUserRepository(dbtest.Open(t))
	ctx := context.Background()

	bob := newUser("bob")
	require.NoError(t, repo.Create(ctx, bob))
	require.NoError(t, repo.SetActive(ctx, "bob", false))
	require.NoError(t, repo.SetActive(ctx, "bob", false), "disabling twice is not an error")

	_, err := repo.FindByUsername(ctx, "bob")
	assert.Equal(t, http.StatusNotFound, apperror.SafeCode(err), "inactive users are invisible to login")
	_, err = repo.FindByID(ctx, bob.ID)
	assert.Equal(t, http.StatusNotFound, apperror.SafeCode(err))

	require.NoError(t, repo.SetActive(ctx, "bob", true))
	_, err = repo.FindByUsername(ctx, "bob")
	assert.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, apperror.SafeCode(repo.SetActive(ctx, "nobody", false)))
}

// --- Dialect-specific paths via sqlmock ---

func newMockRepo(t *testing.T, driver string) (UserRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewUserRepository(sqlx.NewDb(db, driver)), mock
}

func TestUserRepository_MySQLDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t, "mysql")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'alice' for key 'uq_users_username'"})
	mock.ExpectRollback()

	err := repo.Create(context.Background(), newUser("alice"))
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet(), "transaction must be rolled back")
}

func TestUserRepository_PostgresReturningID(t *testing.T) {
	repo, mock := newMockRepo(t, "pgx")

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO users .* VALUES \(\$1, \$2, \$3, \$4, \$5\) RETURNING id`).
		WithArgs("alice", "alice@example.com", "hash", sqlmock.AnyArg(), true).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectCommit()

	u := newUser("alice")
	require.NoError(t, repo.Create(context.Background(), u))
	assert.Equal(t, int64(11), u.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_PostgresDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t, "pgx")

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO users").WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	assert.ErrorIs(t, repo.Create(context.Background(), newUser("alice")), ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_MySQLSetActiveUnchanged(t *testing.T) {
	repo, mock := newMockRepo(t, "mysql")

	// An already-disabled account matches but changes no rows.
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE users SET is_active = \? WHERE username = \?`).
		WithArgs(false, "bob").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users WHERE username = \?`).
		WithArgs("bob").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectCommit()

	assert.NoError(t, repo.SetActive(context.Background(), "bob", false))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_MySQLSetActiveUnknown(t *testing.T) {
	repo, mock := newMockRepo(t, "mysql")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET is_active").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectRollback()

	err := repo.SetActive(context.Background(), "nobody", true)
	assert.Equal(t, http.StatusNotFound, apperror.SafeCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_ConnectionFailure(t *testing.T) {
	repo, mock := newMockRepo(t, "mysql")

	mock.ExpectBegin().WillReturnError(errors.New("dial tcp: connection refused"))

	err := repo.Create(context.Background(), newUser("alice"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicate)

	mock.ExpectQuery("SELECT .* FROM users WHERE username").WillReturnError(errors.New("bad connection"))
	_, err = repo.FindByUsername(context.Background(), "alice")
	require.Error(t, err)
	assert.NotEqual(t, http.StatusNotFound, apperror.SafeCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
