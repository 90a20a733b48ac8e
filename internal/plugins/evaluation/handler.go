package evaluation

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/cellscan/internal/middleware"
	"github.com/keyxmakerx/cellscan/internal/plugins/auth"
)

// Handler serves the evaluation dashboard.
type Handler struct {
	source ReportSource
}

// NewHandler creates a new evaluation handler.
func NewHandler(source ReportSource) *Handler {
	return &Handler{source: source}
}

// Show renders the evaluation report (GET /evaluation). JSON callers get
// the raw report.
func (h *Handler) Show(c echo.Context, _ auth.Identity) error {
	report, err := h.source.Load(c.Request().Context())
	if err != nil {
		return err
	}

	if middleware.WantsJSON(c) {
		return c.JSON(http.StatusOK, report)
	}
	return middleware.Render(c, http.StatusOK, ReportPage(report))
}
