// Package auth handles user accounts, password hashing, server-side sessions
// and the authorization gate for cellscan. It provides registration, login,
// logout, and session validation backed by the relational store or Redis.
//
// This is a CORE plugin -- always enabled, every other plugin sits behind
// its gate.
package auth

import (
	"time"
)

// User represents a registered account. Database scanning and JSON
// marshaling use this struct directly.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"` // Never expose in JSON responses.
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	IsActive     bool      `db:"is_active" json:"is_active"`
}

// Identity is the authenticated principal handed to protected handlers.
type Identity struct {
	UserID   int64
	Username string
}

// --- Request DTOs (bound from HTTP requests) ---

// RegisterRequest holds the data submitted by the registration form. Field
// order matters: the validator reports the first failing field, and the form
// reports problems as username, email, password match, then strength.
type RegisterRequest struct {
	Username string `json:"username" form:"username" validate:"username"`
	Email    string `json:"email" form:"email" validate:"email_addr"`
	Confirm  string `json:"confirm_password" form:"confirm_password" validate:"eqfield=Password"`
	Password string `json:"password" form:"password" validate:"password"`
}

// LoginRequest holds the data submitted by the login form.
type LoginRequest struct {
	Username string `json:"username" form:"username" validate:"required"`
	Password string `json:"password" form:"password" validate:"required"`
	Next     string `json:"next" form:"next"`
}

// --- Service Input DTOs (passed from handler to service) ---

// RegisterInput is the input for creating a new user.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Confirm  string
}

// LoginInput is the input for authenticating a user. PriorToken is the
// session the browser arrived with, if any; it is destroyed before a new
// one is issued.
type LoginInput struct {
	Username   string
	Password   string
	PriorToken string
	IP         string
	UserAgent  string
}

// --- Session ---

// Session is the server-side record behind a session token. The token
// itself is never stored in the relational backend, only its SHA-256.
type Session struct {
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Permanent bool      `json:"permanent"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Identity returns the principal the session authenticates.
func (s *Session) Identity() Identity {
	return Identity{UserID: s.UserID, Username: s.Username}
}
