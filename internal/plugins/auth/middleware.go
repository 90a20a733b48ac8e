package auth

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/cellscan/internal/apperror"
	"github.com/keyxmakerx/cellscan/internal/middleware"
)

// Context keys for storing session data in Echo context. Other plugins
// read them through GetSession/GetIdentity or receive the identity via Authed.
const (
	contextKeySession  = "auth_session"
	contextKeyIdentity = "auth_identity"
	contextKeyUserID   = "auth_user_id" // Also read by the request logger.
	contextKeyToken    = "auth_token"
)

// RequireAuth returns middleware that validates the session cookie and
// injects session data into the request context. If the session is
// invalid or missing, browsers are redirected to /login with a "next"
// pointer back to the page, HTMX gets HX-Redirect, and JSON callers get 401.
func RequireAuth(service AuthService, cookies *Cookies) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := cookies.Token(c)
			if token == "" {
				return handleUnauthenticated(c)
			}

			session, err := service.ValidateSession(c.Request().Context(), token)
			if err != nil {
				if apperror.SafeCode(err) != http.StatusUnauthorized {
					// Store trouble is not the user's fault; keep the cookie.
					return err
				}
				// Invalid or expired session -- clear the stale cookie.
				cookies.Clear(c)
				return handleUnauthenticated(c)
			}

			// Slide the cookie lifetime along with the server-side expiry.
			cookies.Set(c, token)
			setSession(c, token, session)

			return next(c)
		}
	}
}

// OptionalAuth loads the session if one is present but never blocks the
// request. Used on public pages so the layout knows who is signed in.
func OptionalAuth(service AuthService, cookies *Cookies) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token := cookies.Token(c); token != "" {
				if session, err := service.ValidateSession(c.Request().Context(), token); err == nil {
					setSession(c, token, session)
				}
			}
			return next(c)
		}
	}
}

// Authed adapts a handler that needs the caller's identity. The identity is
// passed explicitly instead of being fished out of the context.
func Authed(fn func(c echo.Context, id Identity) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := GetIdentity(c)
		if !ok {
			return apperror.NewMissingContext()
		}
		return fn(c, id)
	}
}

func setSession(c echo.Context, token string, session *Session) {
	c.Set(contextKeySession, session)
	c.Set(contextKeyIdentity, session.Identity())
	c.Set(contextKeyUserID, session.UserID)
	c.Set(contextKeyToken, token)
}

// handleUnauthenticated returns the appropriate response for unauthenticated
// requests: redirect for browsers, 401 JSON for API clients.
func handleUnauthenticated(c echo.Context) error {
	loginURL := LoginURL(c)

	if middleware.WantsJSON(c) {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error":     "authentication required",
			"login_url": loginURL,
		})
	}

	// HTMX requests get a redirect header so the full page navigates.
	if c.Request().Header.Get("HX-Request") == "true" {
		c.Response().Header().Set("HX-Redirect", loginURL)
		return c.NoContent(http.StatusNoContent)
	}

	return c.Redirect(http.StatusSeeOther, loginURL)
}

// LoginURL builds the login address that returns the user to the current
// page afterwards. Only safe-method requests are remembered: replaying a
// POST target as a GET would fail anyway.
func LoginURL(c echo.Context) string {
	req := c.Request()
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return "/login"
	}
	next := SafeRedirect(req.URL.RequestURI(), "")
	if next == "" || next == "/" {
		return "/login"
	}
	return "/login?next=" + url.QueryEscape(next)
}

// SafeRedirect returns next if it is a same-origin relative path, otherwise
// fallback. Protocol-relative URLs ("//evil"), backslash tricks ("/\evil"),
// absolute URLs and control characters are all rejected.
func SafeRedirect(next, fallback string) string {
	if next == "" || next[0] != '/' {
		return fallback
	}
	if len(next) > 1 && (next[1] == '/' || next[1] == '\\') {
		return fallback
	}
	for _, r := range next {
		if r < 0x20 || r == 0x7f || r == '\\' {
			return fallback
		}
	}

	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" || u.User != nil {
		return fallback
	}
	if !strings.HasPrefix(u.Path, "/") {
		return fallback
	}
	return next
}

// --- Exported getters for other plugins ---

// GetSession retrieves the authenticated session from the Echo context.
// Returns nil if the request is not authenticated.
func GetSession(c echo.Context) *Session {
	session, ok := c.Get(contextKeySession).(*Session)
	if !ok {
		return nil
	}
	return session
}

// GetIdentity retrieves the authenticated principal from the Echo context.
func GetIdentity(c echo.Context) (Identity, bool) {
	id, ok := c.Get(contextKeyIdentity).(Identity)
	return id, ok
}
