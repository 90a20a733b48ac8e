// Package app is the application bootstrap and dependency injection root.
// It holds the shared infrastructure (DB pool, optional Redis client,
// classifier, Echo instance) and wires the plugins together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/cellscan/internal/apperror"
	"github.com/keyxmakerx/cellscan/internal/classifier"
	"github.com/keyxmakerx/cellscan/internal/config"
	"github.com/keyxmakerx/cellscan/internal/middleware"
	"github.com/keyxmakerx/cellscan/internal/plugins/auth"
	"github.com/keyxmakerx/cellscan/internal/templates/layouts"
)

// App holds all shared dependencies and the Echo HTTP server instance.
// Created once at startup in main.go and used to register all routes.
type App struct {
	// Config holds the loaded application configuration.
	Config *config.Config

	// DB is the relational connection pool shared by all plugins.
	DB *sqlx.DB

	// Redis is the optional session backend. Nil means sessions live in SQL.
	Redis *redis.Client

	// Classifier is the external inference adapter.
	Classifier classifier.Classifier

	// AuthService is set by RegisterRoutes; the session sweep job uses it.
	AuthService auth.AuthService

	// Echo is the HTTP server instance.
	Echo *echo.Echo
}

// New creates a new App instance with the given dependencies and configures
// the Echo server with global middleware and error handling.
func New(cfg *config.Config, db *sqlx.DB, rdb *redis.Client, clf classifier.Classifier) *App {
	e := echo.New()

	// Disable Echo's default banner and startup message -- we log our own.
	e.HideBanner = true
	e.HidePort = true

	// Configure trusted reverse proxy IPs so c.RealIP() returns the actual
	// client IP instead of the proxy's IP. Login rate limiting and failed
	// login logs depend on it.
	middleware.TrustedProxies(e, cfg.TrustedProxies)

	// Struct-tag validation for bound request DTOs.
	e.Validator = middleware.NewRequestValidator()

	app := &App{
		Config:     cfg,
		DB:         db,
		Redis:      rdb,
		Classifier: clf,
		Echo:       e,
	}

	// Register global middleware in order of execution.
	app.setupMiddleware()

	// Register the custom error handler that maps AppErrors to HTTP responses.
	e.HTTPErrorHandler = app.errorHandler

	return app
}

// setupMiddleware registers global middleware on the Echo instance.
// Order matters: request ID first so every later log line carries it, then
// recovery, and CSRF last.
func (a *App) setupMiddleware() {
	a.Echo.Use(middleware.RequestID())

	// Panic recovery -- wraps everything below it.
	a.Echo.Use(middleware.Recovery())

	// Request logging -- log every request with method, path, status, latency.
	a.Echo.Use(middleware.RequestLogger())

	// Security headers -- CSP, X-Frame-Options, X-Content-Type-Options, etc.
	a.Echo.Use(middleware.SecurityHeaders(a.Config.IsProduction()))

	// CORS -- only the configured public origin may call the JSON endpoints
	// with credentials.
	a.Echo.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   []string{a.Config.BaseURL},
		AllowCredentials: true,
	}))

	// CSRF -- double-submit cookie pattern on all state-changing requests.
	a.Echo.Use(middleware.CSRF(a.Config.Auth.SecureCookies))
}

// injectLayout copies session and request data into the Go context so the
// layout can render the navigation, flash banners and request ID.
func injectLayout(c echo.Context, ctx context.Context) context.Context {
	if id, ok := auth.GetIdentity(c); ok {
		ctx = layouts.SetIsAuthenticated(ctx, true)
		ctx = layouts.SetUserName(ctx, id.Username)
	}
	ctx = layouts.SetFlashSuccess(ctx, middleware.GetFlashSuccess(c))
	ctx = layouts.SetFlashError(ctx, middleware.GetFlashError(c))
	ctx = layouts.SetCSRFToken(ctx, middleware.GetCSRFToken(c))
	ctx = layouts.SetActivePath(ctx, c.Request().URL.Path)
	ctx = layouts.SetRequestID(ctx, middleware.GetRequestID(c))
	return ctx
}

// errorHandler is the custom Echo error handler. It maps domain errors
// (AppError) to appropriate HTTP responses, and renders error pages for
// browser requests or JSON for API requests.
//
// For HTMX partial requests that hit errors, we set HX-Retarget and
// HX-Reswap headers so the error page replaces the full body instead of
// being swapped into a partial target.
//
// For 401 errors on browser requests, we redirect to the login page.
func (a *App) errorHandler(err error, c echo.Context) {
	// Don't double-write if response is already committed.
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := defaultErrorMessage(code)
	requestID := middleware.GetRequestID(c)

	// Check if it's our domain error type.
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
		message = appErr.Message

		// Log internal errors with the underlying cause.
		if appErr.Internal != nil {
			slog.Error("internal error",
				slog.String("request_id", requestID),
				slog.String("type", appErr.Type),
				slog.String("message", appErr.Message),
				slog.Any("internal", appErr.Internal),
				slog.String("path", c.Request().URL.Path),
			)
		}
	} else {
		// Check for Echo's built-in HTTP errors (e.g., 404 from router).
		var echoErr *echo.HTTPError
		if errors.As(err, &echoErr) {
			code = echoErr.Code
			if msg, ok := echoErr.Message.(string); ok {
				message = msg
			} else {
				message = defaultErrorMessage(code)
			}
		} else {
			// Truly unexpected error -- log it.
			slog.Error("unhandled error",
				slog.String("request_id", requestID),
				slog.Any("error", err),
				slog.String("path", c.Request().URL.Path),
			)
		}
	}

	// Fetch and API callers always get JSON.
	if middleware.WantsJSON(c) {
		_ = c.JSON(code, map[string]string{
			"error":      message,
			"request_id": requestID,
		})
		return
	}

	// For HTMX requests, redirect to login on 401 so the browser navigates
	// instead of swapping error HTML into a fragment target.
	if isHTMXRequest(c) {
		if code == http.StatusUnauthorized {
			c.Response().Header().Set("HX-Redirect", auth.LoginURL(c))
			_ = c.NoContent(http.StatusNoContent)
			return
		}
		c.Response().Header().Set("HX-Retarget", "body")
		c.Response().Header().Set("HX-Reswap", "innerHTML")
	}

	// Regular browser 401 -- redirect to login page.
	if code == http.StatusUnauthorized {
		_ = c.Redirect(http.StatusSeeOther, auth.LoginURL(c))
		return
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = middleware.Render(c, code, layouts.ErrorPage(code, message))
}

// defaultErrorMessage returns a user-friendly message for common HTTP status codes
// when no specific message was provided by the error.
func defaultErrorMessage(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "The request was invalid or cannot be processed."
	case http.StatusUnauthorized:
		return "You need to log in to access this page."
	case http.StatusForbidden:
		return "You don't have permission to access this resource."
	case http.StatusNotFound:
		return "The page you're looking for doesn't exist or has been moved."
	case http.StatusMethodNotAllowed:
		return "This action is not allowed."
	case http.StatusConflict:
		return "This action conflicts with the current state."
	case http.StatusRequestEntityTooLarge:
		return "The uploaded file is too large."
	case http.StatusUnprocessableEntity:
		return "The submitted data could not be processed."
	case http.StatusTooManyRequests:
		return "You're making too many requests. Please slow down."
	case http.StatusServiceUnavailable:
		return "The service is temporarily unavailable. Please try again later."
	default:
		return "Something went wrong on our end. Please try again."
	}
}

// isHTMXRequest returns true if the request was initiated by HTMX.
func isHTMXRequest(c echo.Context) bool {
	return c.Request().Header.Get("HX-Request") == "true"
}

// Start begins listening for HTTP requests on the configured port.
func (a *App) Start() error {
	addr := fmt.Sprintf(":%d", a.Config.Port)
	slog.Info("starting cellscan server",
		slog.String("addr", addr),
		slog.String("env", a.Config.Env),
	)
	return a.Echo.Start(addr)
}
