package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// CORSConfig holds configuration for the CORS middleware.
type CORSConfig struct {
	// AllowedOrigins lists origins allowed to call the JSON endpoints, for
	// example a lab dashboard at "https://lab.example.org". "*" allows any
	// origin but never together with credentials.
	AllowedOrigins []string

	// AllowCredentials lets the browser send the session cookie along.
	AllowCredentials bool
}

var (
	corsAllowMethods  = strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodOptions}, ", ")
	corsAllowHeaders  = strings.Join([]string{echo.HeaderContentType, csrfHeaderName, "X-Requested-With", echo.HeaderXRequestID}, ", ")
	corsExposeHeaders = strings.Join([]string{echo.HeaderXRequestID, "Retry-After"}, ", ")
)

// CORS returns middleware that answers cross-origin requests from the
// configured origins. The web UI itself is same-origin; this only matters
// for /predict, /history and /healthz called from another site.
func CORS(cfg CORSConfig) echo.MiddlewareFunc {
	allowAll := false
	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		o = strings.TrimRight(o, "/")
		if o == "*" {
			allowAll = true
		}
		origins[o] = true
	}

	if allowAll && cfg.AllowCredentials {
		slog.Warn("CORS: wildcard origin with credentials is not allowed; credentials disabled")
		cfg.AllowCredentials = false
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			origin := c.Request().Header.Get(echo.HeaderOrigin)
			if origin == "" || !(allowAll || origins[origin]) {
				// Same-origin, or an origin the browser will refuse anyway.
				return next(c)
			}

			h := c.Response().Header()
			h.Set(echo.HeaderAccessControlAllowOrigin, origin)
			h.Add(echo.HeaderVary, echo.HeaderOrigin)
			if cfg.AllowCredentials {
				h.Set(echo.HeaderAccessControlAllowCredentials, "true")
			}

			if c.Request().Method == http.MethodOptions {
				h.Set(echo.HeaderAccessControlAllowMethods, corsAllowMethods)
				h.Set(echo.HeaderAccessControlAllowHeaders, corsAllowHeaders)
				h.Set(echo.HeaderAccessControlMaxAge, "3600")
				return c.NoContent(http.StatusNoContent)
			}

			h.Set(echo.HeaderAccessControlExposeHeaders, corsExposeHeaders)
			return next(c)
		}
	}
}
