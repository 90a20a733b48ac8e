package predictions

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/cellscan/internal/middleware"
	"github.com/keyxmakerx/cellscan/internal/plugins/auth"
)

// RegisterRoutes sets up the prediction routes. All of them require a
// session. maxUploadSize bounds the /predict body so oversized payloads are
// rejected before being read into memory.
func RegisterRoutes(e *echo.Echo, h *Handler, authSvc auth.AuthService, cookies *auth.Cookies, maxUploadSize int64) {
	authMw := auth.RequireAuth(authSvc, cookies)

	// Multipart framing adds a little on top of the file itself.
	margin := maxUploadSize / 10
	if margin < 64<<10 {
		margin = 64 << 10
	}

	e.GET("/", auth.Authed(h.Index), authMw)
	e.POST("/predict", auth.Authed(h.Predict),
		authMw,
		middleware.RateLimit(30, time.Minute),
		bodyLimitMiddleware(maxUploadSize+margin, maxUploadSize),
	)
	e.GET("/history", auth.Authed(h.History), authMw)
}

// bodyLimitMiddleware rejects request bodies larger than maxBytes with a JSON
// 413 and caps the reader for bodies without a Content-Length. advertised is
// the file size limit quoted in the message.
func bodyLimitMiddleware(maxBytes, advertised int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().ContentLength > maxBytes {
				return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{
					"error": tooLargeMessage(advertised),
				})
			}
			c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, maxBytes)
			return next(c)
		}
	}
}
