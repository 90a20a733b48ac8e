package evaluation

import (
	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/cellscan/internal/plugins/auth"
)

// RegisterRoutes mounts the dashboard behind the auth gate.
func RegisterRoutes(e *echo.Echo, h *Handler, authSvc auth.AuthService, cookies *auth.Cookies) {
	e.GET("/evaluation", auth.Authed(h.Show), auth.RequireAuth(authSvc, cookies))
}
