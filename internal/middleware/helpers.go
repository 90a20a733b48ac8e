package middleware

import (
	"context"
	"strings"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"
)

// LayoutInjector is a function that copies layout-relevant data from the Echo
// context (populated by the auth and CSRF middleware) into Go's
// context.Context so Templ templates can read it. Registered once at startup
// in app/routes.go.
//
// This callback pattern avoids the middleware package importing any plugin types.
var LayoutInjector func(echo.Context, context.Context) context.Context

// IsHTMX returns true if the current request was initiated by HTMX and is NOT
// a boosted navigation. Boosted requests (hx-boost="true") behave like normal
// page navigations; they expect full page responses so hx-select can extract
// the target element. Handlers use this to decide whether to return a fragment
// or full page.
func IsHTMX(c echo.Context) bool {
	return c.Request().Header.Get("HX-Request") == "true" &&
		c.Request().Header.Get("HX-Boosted") != "true"
}

// WantsJSON returns true for fetch/XHR and API callers that expect a JSON
// body instead of an HTML page or redirect.
func WantsJSON(c echo.Context) bool {
	req := c.Request()
	if strings.HasPrefix(req.URL.Path, "/api/") {
		return true
	}
	if req.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		return true
	}
	accept := req.Header.Get(echo.HeaderAccept)
	return strings.Contains(accept, echo.MIMEApplicationJSON) && !strings.Contains(accept, echo.MIMETextHTML)
}

// Render writes a Templ component to the response with the given status code.
// Before rendering, it runs the LayoutInjector (if registered) to copy
// session data into the Go context for Templ templates to access.
func Render(c echo.Context, statusCode int, component templ.Component) error {
	ctx := c.Request().Context()

	// Inject layout data from Echo context into Go context for Templ.
	if LayoutInjector != nil {
		ctx = LayoutInjector(c, ctx)
	}

	c.Response().Header().Set("Content-Type", "text/html; charset=utf-8")
	c.Response().WriteHeader(statusCode)
	return component.Render(ctx, c.Response().Writer)
}

// Flash messages live on the Echo context for the current render only. The
// layout shows them above the page body.
const (
	contextKeyFlashSuccess = "flash_success"
	contextKeyFlashError   = "flash_error"
)

// FlashSuccess queues a success banner for the page about to be rendered.
func FlashSuccess(c echo.Context, msg string) {
	c.Set(contextKeyFlashSuccess, msg)
}

// FlashError queues an error banner for the page about to be rendered.
func FlashError(c echo.Context, msg string) {
	c.Set(contextKeyFlashError, msg)
}

// GetFlashSuccess returns the queued success banner, or "".
func GetFlashSuccess(c echo.Context) string {
	msg, _ := c.Get(contextKeyFlashSuccess).(string)
	return msg
}

// GetFlashError returns the queued error banner, or "".
func GetFlashError(c echo.Context) string {
	msg, _ := c.Get(contextKeyFlashError).(string)
	return msg
}
