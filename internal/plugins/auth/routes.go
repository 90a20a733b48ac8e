package auth

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/cellscan/internal/middleware"
)

// RegisterRoutes sets up all auth-related routes on the given Echo instance.
// Auth routes are public -- RequireAuth is exported separately for other
// plugins to use on their route groups. OptionalAuth lets the forms send
// signed-in users home.
//
// POST endpoints are rate-limited to prevent brute-force and credential
// stuffing attacks: 10 attempts per IP per minute for login, 5 for register.
func RegisterRoutes(e *echo.Echo, h *Handler, service AuthService, cookies *Cookies) {
	session := OptionalAuth(service, cookies)

	e.GET("/login", h.LoginForm, session)
	e.POST("/login", h.Login, middleware.RateLimit(10, time.Minute), session)
	e.GET("/register", h.RegisterForm, session)
	e.POST("/register", h.Register, middleware.RateLimit(5, time.Minute), session)

	e.GET("/logout", h.Logout)
	e.POST("/logout", h.Logout)
}
