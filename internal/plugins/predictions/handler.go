package predictions

import (
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/cellscan/internal/apperror"
	"github.com/keyxmakerx/cellscan/internal/classifier"
	"github.com/keyxmakerx/cellscan/internal/middleware"
	"github.com/keyxmakerx/cellscan/internal/plugins/auth"
)

// Handler handles the upload page, POST /predict and the history page.
type Handler struct {
	service    PredictionService
	maxSize    int64
	extensions []string
}

// NewHandler creates a new predictions handler.
func NewHandler(service PredictionService, maxSize int64, extensions []string) *Handler {
	return &Handler{service: service, maxSize: maxSize, extensions: extensions}
}

// Index renders the upload form with the five most recent predictions (GET /).
func (h *Handler) Index(c echo.Context, id auth.Identity) error {
	recent, err := h.service.Recent(c.Request().Context(), id.UserID, recentLimit)
	if err != nil {
		return err
	}

	return middleware.Render(c, http.StatusOK, IndexPage(IndexView{
		CSRFToken:  middleware.GetCSRFToken(c),
		Recent:     recent,
		MaxSizeMB:  h.maxSize / (1024 * 1024),
		Extensions: h.extensions,
	}))
}

// Predict classifies one uploaded image (POST /predict). Every outcome is
// JSON; a storage failure still returns the classification with a warning.
func (h *Handler) Predict(c echo.Context, id auth.Identity) error {
	input, err := h.readUpload(c)
	if err != nil {
		return jsonError(c, err)
	}
	input.UserID = id.UserID

	out, err := h.service.Predict(c.Request().Context(), input)
	if err != nil {
		return jsonError(c, err)
	}

	resp := PredictResponse{
		PredictedClass:       out.Result.Label,
		Confidence:           out.Result.Confidence,
		ConfidencePercentage: formatPercent(out.Result.Confidence),
		AllProbabilities:     out.Result.Probabilities,
		ClassInfo:            classifier.Info(out.Result.Label),
		Filename:             out.Filename,
		Image:                base64.StdEncoding.EncodeToString(input.Data),
		Recorded:             out.Recorded,
		PredictionID:         out.PredictionID,
	}
	if !out.Recorded {
		resp.Warning = msgNotRecorded
	}
	return c.JSON(http.StatusOK, resp)
}

// History renders the user's predictions newest first (GET /history).
// ?limit= defaults to 50 and is capped at 200. JSON callers get the list.
func (h *Handler) History(c echo.Context, id auth.Identity) error {
	ctx := c.Request().Context()
	limit := parseLimit(c.QueryParam("limit"))

	list, err := h.service.Recent(ctx, id.UserID, limit)
	if err != nil {
		return err
	}
	summary, err := h.service.Summary(ctx, id.UserID)
	if err != nil {
		return err
	}

	if middleware.WantsJSON(c) {
		return c.JSON(http.StatusOK, map[string]any{
			"predictions": list,
			"total":       summary.Total,
			"by_class":    summary.ByClass,
			"limit":       limit,
		})
	}

	return middleware.Render(c, http.StatusOK, HistoryPage(HistoryView{
		Predictions: list,
		Summary:     summary,
		Limit:       limit,
	}))
}

// readUpload pulls the "file" part out of the multipart body.
func (h *Handler) readUpload(c echo.Context) (PredictInput, error) {
	form, err := c.MultipartForm()
	if err != nil {
		if isBodyTooLarge(err) {
			return PredictInput{}, apperror.NewPayloadTooLarge(tooLargeMessage(h.maxSize))
		}
		return PredictInput{}, apperror.NewBadRequest(msgNoFile)
	}

	files := form.File["file"]
	if len(files) == 0 {
		// Browsers send an empty filename when nothing was picked, which
		// the multipart parser files under Value.
		if _, ok := form.Value["file"]; ok {
			return PredictInput{}, apperror.NewBadRequest(msgNoSelection)
		}
		return PredictInput{}, apperror.NewBadRequest(msgNoFile)
	}

	fh := files[0]
	if fh.Filename == "" {
		return PredictInput{}, apperror.NewBadRequest(msgNoSelection)
	}

	src, err := fh.Open()
	if err != nil {
		return PredictInput{}, apperror.NewInternal(err)
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, h.maxSize+1))
	if err != nil {
		return PredictInput{}, apperror.NewInternal(err)
	}

	return PredictInput{Filename: fh.Filename, Size: fh.Size, Data: data}, nil
}

// jsonError writes err as {"error": message}. Internal causes are logged,
// never sent.
func jsonError(c echo.Context, err error) error {
	code := apperror.SafeCode(err)
	if code >= http.StatusInternalServerError {
		slog.Error("predict failed",
			slog.String("request_id", middleware.GetRequestID(c)),
			slog.Any("error", err),
		)
	}
	return c.JSON(code, map[string]string{"error": apperror.SafeMessage(err)})
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}

func parseLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return DefaultHistoryLimit
	}
	if n > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return n
}
