package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// sessionCookieName is the HTTP cookie used to store the signed session token.
const sessionCookieName = "cellscan_session"

// Cookies reads and writes the session cookie. The cookie value is
// "<token>.<base64url HMAC-SHA256(secret, token)>" so a tampered or forged
// cookie is rejected before any store lookup.
type Cookies struct {
	secret []byte
	secure bool
	maxAge time.Duration
}

// NewCookies creates a cookie codec. maxAge is normally the idle timeout.
func NewCookies(secret string, secure bool, maxAge time.Duration) *Cookies {
	return &Cookies{secret: []byte(secret), secure: secure, maxAge: maxAge}
}

// Token returns the verified session token from the request cookie, or ""
// if the cookie is missing or its signature does not match.
func (k *Cookies) Token(c echo.Context) string {
	cookie, err := c.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	token, ok := k.verify(cookie.Value)
	if !ok {
		return ""
	}
	return token
}

// Set writes the session cookie on the response. The cookie is HttpOnly,
// SameSite=Lax, and Secure when configured or behind TLS.
func (k *Cookies) Set(c echo.Context, token string) {
	req := c.Request()
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    k.sign(token),
		Path:     "/",
		HttpOnly: true,
		Secure:   k.secure || req.TLS != nil || req.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(k.maxAge.Seconds()),
	})
}

// Clear removes the session cookie by setting MaxAge to -1.
func (k *Cookies) Clear(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func (k *Cookies) sign(token string) string {
	return token + "." + base64.RawURLEncoding.EncodeToString(k.mac(token))
}

func (k *Cookies) verify(value string) (string, bool) {
	i := strings.LastIndexByte(value, '.')
	if i <= 0 || i == len(value)-1 {
		return "", false
	}
	token := value[:i]
	got, err := base64.RawURLEncoding.DecodeString(value[i+1:])
	if err != nil {
		return "", false
	}
	if !hmac.Equal(got, k.mac(token)) {
		return "", false
	}
	return token, true
}

func (k *Cookies) mac(token string) []byte {
	m := hmac.New(sha256.New, k.secret)
	m.Write([]byte(token))
	return m.Sum(nil)
}
