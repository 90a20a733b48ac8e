package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/cellscan/internal/database"
)

// sessionKeyPrefix is the Redis key prefix for session data.
const sessionKeyPrefix = "session:"

// sessionTokenBytes is the number of random bytes in a session token.
// 32 bytes = 256 bits of entropy, hex-encoded to 64 characters.
const sessionTokenBytes = 32

// ErrSessionNotFound is returned by a SessionStore when the token is unknown.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists sessions keyed by their opaque token. Expiry policy
// lives in the service; stores only hold and drop records.
type SessionStore interface {
	Save(ctx context.Context, token string, session *Session) error
	Touch(ctx context.Context, token string, expiresAt time.Time) error
	Get(ctx context.Context, token string) (*Session, error)
	Delete(ctx context.Context, token string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// --- SQL store ---

// sqlSessionStore keeps sessions in the sessions table. Rows are keyed by
// the SHA-256 of the token so a database dump cannot be replayed as cookies.
type sqlSessionStore struct {
	db *sqlx.DB
}

// NewSQLSessionStore creates a session store on the relational database.
func NewSQLSessionStore(db *sqlx.DB) SessionStore {
	return &sqlSessionStore{db: db}
}

type sessionRow struct {
	TokenHash string    `db:"token_hash"`
	UserID    int64     `db:"user_id"`
	Username  string    `db:"username"`
	IPAddress string    `db:"ip_address"`
	UserAgent string    `db:"user_agent"`
	Permanent bool      `db:"permanent"`
	CreatedAt time.Time `db:"created_at"`
	ExpiresAt time.Time `db:"expires_at"`
}

// Save inserts or replaces the session for token.
func (s *sqlSessionStore) Save(ctx context.Context, token string, session *Session) error {
	hash := hashToken(token)
	return database.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM sessions WHERE token_hash = ?`), hash); err != nil {
			return fmt.Errorf("replacing session: %w", err)
		}

		query := tx.Rebind(`INSERT INTO sessions
		    (token_hash, user_id, username, ip_address, user_agent, permanent, created_at, expires_at)
		    VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		_, err := tx.ExecContext(ctx, query,
			hash,
			session.UserID,
			session.Username,
			truncate(session.IPAddress, 45),
			truncate(session.UserAgent, 255),
			session.Permanent,
			session.CreatedAt.UTC(),
			session.ExpiresAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("storing session: %w", err)
		}
		return nil
	})
}

// Touch moves the expiry of an existing session. A missing token is left
// missing; concurrent renewals of one token each win with the same row.
func (s *sqlSessionStore) Touch(ctx context.Context, token string, expiresAt time.Time) error {
	query := s.db.Rebind(`UPDATE sessions SET expires_at = ? WHERE token_hash = ?`)
	if _, err := s.db.ExecContext(ctx, query, expiresAt.UTC(), hashToken(token)); err != nil {
		return fmt.Errorf("renewing session: %w", err)
	}
	return nil
}

// Get loads the session for token. Returns ErrSessionNotFound if absent.
func (s *sqlSessionStore) Get(ctx context.Context, token string) (*Session, error) {
	query := s.db.Rebind(`SELECT token_hash, user_id, username, ip_address, user_agent, permanent, created_at, expires_at
	                      FROM sessions WHERE token_hash = ?`)

	var row sessionRow
	err := s.db.GetContext(ctx, &row, query, hashToken(token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}

	return &Session{
		UserID:    row.UserID,
		Username:  row.Username,
		Permanent: row.Permanent,
		IPAddress: row.IPAddress,
		UserAgent: row.UserAgent,
		CreatedAt: row.CreatedAt.UTC(),
		ExpiresAt: row.ExpiresAt.UTC(),
	}, nil
}

// Delete removes the session for token. Deleting an unknown token is not an error.
func (s *sqlSessionStore) Delete(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM sessions WHERE token_hash = ?`), hashToken(token))
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteExpired removes every session whose expiry is at or before now.
func (s *sqlSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM sessions WHERE expires_at <= ?`), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// --- Redis store ---

// redisSessionStore keeps sessions as JSON values under session:<token>,
// letting Redis TTLs do the expiry sweep.
type redisSessionStore struct {
	rdb *redis.Client
}

// NewRedisSessionStore creates a session store on Redis.
func NewRedisSessionStore(rdb *redis.Client) SessionStore {
	return &redisSessionStore{rdb: rdb}
}

func (s *redisSessionStore) Save(ctx context.Context, token string, session *Session) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return s.Delete(ctx, token)
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}

	if err := s.rdb.Set(ctx, sessionKeyPrefix+token, data, ttl).Err(); err != nil {
		return fmt.Errorf("storing session in Redis: %w", err)
	}
	return nil
}

// Touch rewrites the session with a new expiry and TTL. SET XX keeps a
// session deleted by a concurrent logout from coming back.
func (s *redisSessionStore) Touch(ctx context.Context, token string, expiresAt time.Time) error {
	session, err := s.Get(ctx, token)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return s.Delete(ctx, token)
	}

	session.ExpiresAt = expiresAt
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	if err := s.rdb.SetXX(ctx, sessionKeyPrefix+token, data, ttl).Err(); err != nil {
		return fmt.Errorf("renewing session in Redis: %w", err)
	}
	return nil
}

func (s *redisSessionStore) Get(ctx context.Context, token string) (*Session, error) {
	data, err := s.rdb.Get(ctx, sessionKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session from Redis: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshaling session: %w", err)
	}
	return &session, nil
}

func (s *redisSessionStore) Delete(ctx context.Context, token string) error {
	if err := s.rdb.Del(ctx, sessionKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("deleting session from Redis: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op: Redis expires keys on its own.
func (s *redisSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

// --- Helpers ---

// generateSessionToken creates a cryptographically random hex-encoded token.
func generateSessionToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// hashToken returns the hex SHA-256 of a session token.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
