// Package credentials holds the pure format and strength rules for
// usernames, email addresses and passwords. Nothing here touches the
// database or the network.
package credentials

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	UsernameMinLen = 3
	UsernameMaxLen = 50
	PasswordMinLen = 8
)

var (
	usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	emailRegex    = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
)

// Reasons returned by the validators. Handlers show them verbatim.
const (
	ReasonUsernameTooShort = "username must be at least 3 characters"
	ReasonUsernameTooLong  = "username must be at most 50 characters"
	ReasonUsernameCharset  = "username may only contain letters, digits, hyphens and underscores"
	ReasonEmailInvalid     = "invalid email address"
	ReasonPasswordTooShort = "password must be at least 8 characters"
	ReasonPasswordUpper    = "password must contain at least one uppercase letter"
	ReasonPasswordLower    = "password must contain at least one lowercase letter"
	ReasonPasswordDigit    = "password must contain at least one digit"
)

// ValidateUsername checks length (3-50) and charset [A-Za-z0-9_-].
func ValidateUsername(s string) (bool, string) {
	n := utf8.RuneCountInString(s)
	if n < UsernameMinLen {
		return false, ReasonUsernameTooShort
	}
	if n > UsernameMaxLen {
		return false, ReasonUsernameTooLong
	}
	if !usernameRegex.MatchString(s) {
		return false, ReasonUsernameCharset
	}
	return true, ""
}

// ValidateEmail reports whether s has the local@domain.tld shape.
func ValidateEmail(s string) bool {
	return emailRegex.MatchString(s)
}

// ValidatePassword checks, in order: length >= 8, an uppercase letter, a
// lowercase letter, a digit. The first failing rule decides the reason.
func ValidatePassword(s string) (bool, string) {
	if utf8.RuneCountInString(s) < PasswordMinLen {
		return false, ReasonPasswordTooShort
	}
	if !strings.ContainsFunc(s, isUpper) {
		return false, ReasonPasswordUpper
	}
	if !strings.ContainsFunc(s, isLower) {
		return false, ReasonPasswordLower
	}
	if !strings.ContainsFunc(s, isDigit) {
		return false, ReasonPasswordDigit
	}
	return true, ""
}

// NormalizeUsername trims surrounding whitespace. Case is preserved.
func NormalizeUsername(s string) string {
	return strings.TrimSpace(s)
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ASCII classes only, matching [A-Z], [a-z] and \d.
func isUpper(r rune) bool { return r >= 'A' && r <= 'Z' }
func isLower(r rune) bool { return r >= 'a' && r <= 'z' }
func isDigit(r rune) bool { return r >= '0' && r <= '9' }
