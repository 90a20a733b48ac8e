package auth

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/cellscan/internal/apperror"
	"github.com/keyxmakerx/cellscan/internal/middleware"
)

// Banners shown on the login page after a redirect.
const (
	msgRegistered = "Registration successful! You can now sign in."
	msgLoggedOut  = "You have been signed out."
	msgFillFields = "please fill in all fields"
)

// Handler handles HTTP requests for authentication (login, register, logout).
// Handlers are thin: they bind the request, call the service, and render the
// response. No business logic lives here.
type Handler struct {
	service AuthService
	cookies *Cookies
}

// NewHandler creates a new auth handler with the given service.
func NewHandler(service AuthService, cookies *Cookies) *Handler {
	return &Handler{service: service, cookies: cookies}
}

// LoginForm renders the login page (GET /login).
func (h *Handler) LoginForm(c echo.Context) error {
	if GetSession(c) != nil {
		return c.Redirect(http.StatusSeeOther, "/")
	}

	switch {
	case c.QueryParam("registered") == "1":
		middleware.FlashSuccess(c, msgRegistered)
	case c.QueryParam("logged_out") == "1":
		middleware.FlashSuccess(c, msgLoggedOut)
	}

	return middleware.Render(c, http.StatusOK, LoginPage(LoginView{
		CSRFToken: middleware.GetCSRFToken(c),
		Next:      SafeRedirect(c.QueryParam("next"), ""),
	}))
}

// Login processes the login form submission (POST /login).
func (h *Handler) Login(c echo.Context) error {
	if GetSession(c) != nil {
		return c.Redirect(http.StatusSeeOther, "/")
	}

	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	view := LoginView{
		CSRFToken: middleware.GetCSRFToken(c),
		Username:  req.Username,
		Next:      SafeRedirect(req.Next, ""),
	}

	if err := c.Validate(&req); err != nil {
		middleware.FlashError(c, msgFillFields)
		return middleware.Render(c, http.StatusUnprocessableEntity, LoginPage(view))
	}

	token, _, err := h.service.Login(c.Request().Context(), LoginInput{
		Username:   req.Username,
		Password:   req.Password,
		PriorToken: h.cookies.Token(c),
		IP:         c.RealIP(),
		UserAgent:  c.Request().UserAgent(),
	})
	if err != nil {
		if apperror.SafeCode(err) >= http.StatusInternalServerError {
			return err
		}
		middleware.FlashError(c, apperror.SafeMessage(err))
		return middleware.Render(c, apperror.SafeCode(err), LoginPage(view))
	}

	h.cookies.Set(c, token)

	dest := SafeRedirect(req.Next, "/")
	if middleware.IsHTMX(c) {
		c.Response().Header().Set("HX-Redirect", dest)
		return c.NoContent(http.StatusNoContent)
	}
	return c.Redirect(http.StatusSeeOther, dest)
}

// RegisterForm renders the registration page (GET /register).
func (h *Handler) RegisterForm(c echo.Context) error {
	if GetSession(c) != nil {
		return c.Redirect(http.StatusSeeOther, "/")
	}
	return middleware.Render(c, http.StatusOK, RegisterPage(RegisterView{
		CSRFToken: middleware.GetCSRFToken(c),
	}))
}

// Register processes the registration form submission (POST /register).
// Success sends the user to the login page; there is no auto-login.
func (h *Handler) Register(c echo.Context) error {
	if GetSession(c) != nil {
		return c.Redirect(http.StatusSeeOther, "/")
	}

	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request")
	}

	view := RegisterView{
		CSRFToken: middleware.GetCSRFToken(c),
		Username:  req.Username,
		Email:     req.Email,
	}

	if err := c.Validate(&req); err != nil {
		middleware.FlashError(c, middleware.ValidationMessage(err))
		return middleware.Render(c, http.StatusUnprocessableEntity, RegisterPage(view))
	}

	_, err := h.service.Register(c.Request().Context(), RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Confirm:  req.Confirm,
	})
	if err != nil {
		if apperror.SafeCode(err) >= http.StatusInternalServerError {
			return err
		}
		middleware.FlashError(c, apperror.SafeMessage(err))
		return middleware.Render(c, apperror.SafeCode(err), RegisterPage(view))
	}

	if middleware.IsHTMX(c) {
		c.Response().Header().Set("HX-Redirect", "/login?registered=1")
		return c.NoContent(http.StatusNoContent)
	}
	return c.Redirect(http.StatusSeeOther, "/login?registered=1")
}

// Logout destroys the session and clears the cookie (GET|POST /logout).
func (h *Handler) Logout(c echo.Context) error {
	if token := h.cookies.Token(c); token != "" {
		// The cookie is cleared regardless; a leftover row expires on its own.
		if err := h.service.Logout(c.Request().Context(), token); err != nil {
			slog.Warn("logout failed", slog.Any("error", err))
		}
	}

	h.cookies.Clear(c)

	if middleware.IsHTMX(c) {
		c.Response().Header().Set("HX-Redirect", "/login?logged_out=1")
		return c.NoContent(http.StatusNoContent)
	}
	return c.Redirect(http.StatusSeeOther, "/login?logged_out=1")
}
