package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// contextKeyRequestID is the Echo context key holding the request ID.
const contextKeyRequestID = "request_id"

// RequestID returns middleware that tags every request with an ID. An
// incoming X-Request-ID from the proxy is kept if it looks sane; otherwise a
// UUIDv4 is generated. The ID is echoed back in the response header.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(echo.HeaderXRequestID)
			if id == "" || len(id) > 64 {
				id = uuid.NewString()
			}

			c.Set(contextKeyRequestID, id)
			c.Response().Header().Set(echo.HeaderXRequestID, id)
			return next(c)
		}
	}
}

// GetRequestID returns the current request's ID, or "".
func GetRequestID(c echo.Context) string {
	id, _ := c.Get(contextKeyRequestID).(string)
	return id
}
