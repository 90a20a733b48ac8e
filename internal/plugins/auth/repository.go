package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/keyxmakerx/cellscan/internal/apperror"
	"github.com/keyxmakerx/cellscan/internal/database"
)

// ErrDuplicate is returned by Create when the username or email is already
// taken. Which of the two collided is deliberately not reported.
var ErrDuplicate = errors.New("duplicate user")

// UserRepository defines the data access contract for user operations.
// All SQL lives in the concrete implementation -- no SQL leaks out.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
	SetActive(ctx context.Context, username string, active bool) error
}

// userRepository implements UserRepository with hand-written queries that
// run unchanged on MySQL/MariaDB, PostgreSQL and SQLite.
type userRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new user repository backed by the given DB pool.
func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepository{db: db}
}

// userColumns is the select list shared by the lookup queries.
const userColumns = `id, username, email, password_hash, created_at, is_active`

// Create inserts a new user row and fills in user.ID. Uniqueness is left to
// the database constraints; a violation comes back as ErrDuplicate.
func (r *userRepository) Create(ctx context.Context, user *User) error {
	query := `INSERT INTO users (username, email, password_hash, created_at, is_active)
	          VALUES (?, ?, ?, ?, ?)`

	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		id, err := database.InsertReturningID(ctx, tx, query,
			user.Username,
			user.Email,
			user.PasswordHash,
			user.CreatedAt,
			user.IsActive,
		)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("inserting user: %w", err)
		}
		user.ID = id
		return nil
	})
}

// FindByUsername retrieves an active user by exact username.
// Returns apperror.NotFound if no active user has this name.
func (r *userRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	query := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE username = ? AND is_active = ?`)

	var user User
	err := r.db.GetContext(ctx, &user, query, username, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by username: %w", err)
	}

	return &user, nil
}

// FindByID retrieves an active user by ID.
// Returns apperror.NotFound if the user is missing or deactivated.
func (r *userRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	query := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE id = ? AND is_active = ?`)

	var user User
	err := r.db.GetContext(ctx, &user, query, id, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user by id: %w", err)
	}

	return &user, nil
}

// SetActive enables or disables an account by username. Accounts are never
// deleted so their prediction history stays attributable.
func (r *userRepository) SetActive(ctx context.Context, username string, active bool) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		query := tx.Rebind(`UPDATE users SET is_active = ? WHERE username = ?`)
		result, err := tx.ExecContext(ctx, query, active, username)
		if err != nil {
			return fmt.Errorf("updating is_active: %w", err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			return nil
		}

		// MySQL counts changed rows, so a no-op update reports zero.
		var count int
		if err := tx.GetContext(ctx, &count, tx.Rebind(`SELECT COUNT(*) FROM users WHERE username = ?`), username); err != nil {
			return fmt.Errorf("checking user: %w", err)
		}
		if count == 0 {
			return apperror.NewNotFound("user not found")
		}
		return nil
	})
}
