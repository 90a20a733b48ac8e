package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/cellscan/internal/middleware"
	"github.com/keyxmakerx/cellscan/internal/plugins/auth"
	"github.com/keyxmakerx/cellscan/internal/plugins/evaluation"
	"github.com/keyxmakerx/cellscan/internal/plugins/predictions"
	"github.com/keyxmakerx/cellscan/internal/templates/pages"
	"github.com/keyxmakerx/cellscan/static"
)

// healthTimeout bounds each dependency check made by the health endpoints.
const healthTimeout = 2 * time.Second

// RegisterRoutes sets up all application routes. It registers public routes
// directly and delegates to each plugin's route registration function.
//
// This is the single place where all routes are aggregated. When a new
// plugin is added, its routes are registered here.
func (a *App) RegisterRoutes() {
	e := a.Echo
	cfg := a.Config

	// Templates read session and CSRF data through the layout injector.
	middleware.LayoutInjector = injectLayout

	// --- Sessions ---
	// Redis when configured, the relational store otherwise.
	var sessions auth.SessionStore
	if a.Redis != nil {
		sessions = auth.NewRedisSessionStore(a.Redis)
	} else {
		sessions = auth.NewSQLSessionStore(a.DB)
	}

	authSvc := auth.NewAuthService(
		auth.NewUserRepository(a.DB),
		sessions,
		auth.NewHasher(cfg.Auth.HashAlgorithm),
		cfg.Auth.IdleTimeout,
		cfg.Auth.AbsoluteTimeout,
	)
	a.AuthService = authSvc
	cookies := auth.NewCookies(cfg.Auth.SecretKey, cfg.Auth.SecureCookies, cfg.Auth.IdleTimeout)

	// --- Public Routes (no auth required) ---

	e.StaticFS("/static", static.FS)

	e.GET("/about", func(c echo.Context) error {
		return middleware.Render(c, http.StatusOK, pages.About(cfg.Model.ImageSize, cfg.Upload.AllowedExtensions))
	}, auth.OptionalAuth(authSvc, cookies))

	// Health checks: /healthz for orchestrators, /health for the legacy
	// liveness probe that only reports whether the model is loaded.
	e.GET("/healthz", a.health)
	e.GET("/health", a.liveness)

	// --- Plugin Routes ---

	// auth plugin (public: login, register, logout)
	auth.RegisterRoutes(e, auth.NewHandler(authSvc, cookies), authSvc, cookies)

	// predictions plugin (upload form, classify, history)
	predSvc := predictions.NewPredictionService(
		predictions.NewPredictionRepository(a.DB),
		a.Classifier,
		cfg.Upload.MaxSize,
		cfg.Upload.AllowedExtensions,
	)
	predHandler := predictions.NewHandler(predSvc, cfg.Upload.MaxSize, cfg.Upload.AllowedExtensions)
	predictions.RegisterRoutes(e, predHandler, authSvc, cookies, cfg.Upload.MaxSize)

	// evaluation plugin (read-only metrics dashboard)
	evaluation.RegisterRoutes(e, evaluation.NewHandler(evaluation.NewFileSource(cfg.Evaluation.ReportPath)), authSvc, cookies)
}

// health reports dependency status. A dead database fails the check; a model
// server that is still loading only degrades it, so the process is not
// restarted while the model warms up.
func (a *App) health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	checks := map[string]string{}

	if err := a.DB.PingContext(ctx); err != nil {
		slog.Warn("health check: database unreachable", slog.Any("error", err))
		checks["database"] = "down"
		status = "down"
		code = http.StatusServiceUnavailable
	} else {
		checks["database"] = "up"
	}

	if a.Redis != nil {
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			slog.Warn("health check: redis unreachable", slog.Any("error", err))
			checks["redis"] = "down"
			status = "down"
			code = http.StatusServiceUnavailable
		} else {
			checks["redis"] = "up"
		}
	}

	if a.Classifier.Ready(ctx) {
		checks["model"] = "ready"
	} else {
		checks["model"] = "unavailable"
		if status == "ok" {
			status = "degraded"
		}
	}

	return c.JSON(code, map[string]any{
		"status": status,
		"checks": checks,
	})
}

// liveness answers 200 while the process serves requests and says whether
// the classifier can take work. Dependency failures are left to /healthz.
func (a *App) liveness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	return c.JSON(http.StatusOK, map[string]any{
		"status":       "healthy",
		"model_loaded": a.Classifier.Ready(ctx),
		"model":        a.Config.Model.Name,
	})
}
