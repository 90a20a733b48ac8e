package predictions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/keyxmakerx/cellscan/internal/apperror"
	"github.com/keyxmakerx/cellscan/internal/classifier"
	"github.com/keyxmakerx/cellscan/internal/sanitize"
)

// User-facing messages for rejected uploads.
const (
	msgNoFile        = "no file provided"
	msgNoSelection   = "no file selected"
	msgBadContent    = "file content is not a supported image"
	msgUndecodable   = "image could not be decoded"
	msgModelDown     = "model server unavailable"
	msgPredictFailed = "prediction failed"
	msgNotRecorded   = "the prediction was not saved to your history"
)

// PredictionService runs uploads through the classifier and keeps the
// per-user history.
type PredictionService interface {
	Predict(ctx context.Context, input PredictInput) (*Outcome, error)
	Record(ctx context.Context, userID int64, filename string, result *classifier.Result) (int64, error)
	Recent(ctx context.Context, userID int64, limit int) ([]Prediction, error)
	Summary(ctx context.Context, userID int64) (*Summary, error)
}

type predictionService struct {
	repo       PredictionRepository
	classifier classifier.Classifier
	maxSize    int64
	extensions []string
	now        func() time.Time
}

// NewPredictionService creates a prediction service. extensions are the
// accepted upload extensions, lowercase without the dot.
func NewPredictionService(repo PredictionRepository, c classifier.Classifier, maxSize int64, extensions []string) PredictionService {
	return &predictionService{
		repo:       repo,
		classifier: c,
		maxSize:    maxSize,
		extensions: extensions,
		now:        time.Now,
	}
}

// Predict validates the upload, classifies it and records the result. A
// failed write does not fail the request: the outcome comes back with
// Recorded false and the cause is logged.
func (s *predictionService) Predict(ctx context.Context, input PredictInput) (*Outcome, error) {
	if input.Filename == "" {
		return nil, apperror.NewBadRequest(msgNoSelection)
	}
	if !s.allowed(input.Filename) {
		return nil, apperror.NewBadRequest(s.typeMessage())
	}
	if input.Size > s.maxSize || int64(len(input.Data)) > s.maxSize {
		return nil, apperror.NewPayloadTooLarge(tooLargeMessage(s.maxSize))
	}
	if len(input.Data) == 0 {
		return nil, apperror.NewBadRequest(msgNoFile)
	}
	if classifier.DetectFormat(input.Data) == "" {
		return nil, apperror.NewBadRequest(msgBadContent)
	}

	result, err := s.classifier.Classify(ctx, input.Data)
	if err != nil {
		switch {
		case errors.Is(err, classifier.ErrInvalidImage):
			return nil, apperror.NewBadRequest(msgUndecodable)
		case errors.Is(err, classifier.ErrModelUnavailable):
			return nil, apperror.NewUpstream(msgModelDown, err)
		default:
			appErr := apperror.NewInternal(err)
			appErr.Message = msgPredictFailed
			return nil, appErr
		}
	}

	name := sanitize.Filename(input.Filename)
	if name == "" {
		name = "upload" + strings.ToLower(filepath.Ext(input.Filename))
	}

	out := &Outcome{Result: result, Filename: name}
	id, err := s.Record(ctx, input.UserID, name, result)
	if err == nil {
		out.PredictionID = id
		out.Recorded = true
	}
	return out, nil
}

// Record stores result for userID. Errors are logged here and returned so the
// caller can decide how loudly to report them.
func (s *predictionService) Record(ctx context.Context, userID int64, filename string, result *classifier.Result) (int64, error) {
	p := &Prediction{
		UserID:         userID,
		Filename:       filename,
		PredictedClass: result.Label,
		Confidence:     result.Confidence,
		CreatedAt:      s.now().UTC(),
	}

	id, err := s.repo.Save(ctx, p)
	if err != nil {
		slog.Error("prediction not recorded",
			slog.Int64("user_id", userID),
			slog.String("filename", filename),
			slog.String("predicted_class", result.Label),
			slog.Any("error", err),
		)
		return 0, err
	}

	slog.Info("prediction recorded",
		slog.Int64("id", id),
		slog.Int64("user_id", userID),
		slog.String("predicted_class", p.PredictedClass),
		slog.Float64("confidence", p.Confidence),
	)
	return id, nil
}

// Recent returns the user's latest predictions, newest first.
func (s *predictionService) Recent(ctx context.Context, userID int64, limit int) ([]Prediction, error) {
	list, err := s.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, apperror.NewUnavailable(err)
	}
	return list, nil
}

// Summary returns per-class counts for the user.
func (s *predictionService) Summary(ctx context.Context, userID int64) (*Summary, error) {
	counts, err := s.repo.CountByClass(ctx, userID)
	if err != nil {
		return nil, apperror.NewUnavailable(err)
	}

	sum := &Summary{ByClass: counts}
	for _, n := range counts {
		sum.Total += n
	}
	return sum, nil
}

func (s *predictionService) allowed(filename string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" {
		return false
	}
	for _, e := range s.extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// typeMessage lists the accepted extensions, e.g. "file type not allowed;
// use png, jpg or jpeg".
func (s *predictionService) typeMessage() string {
	exts := s.extensions
	switch len(exts) {
	case 0:
		return "file type not allowed"
	case 1:
		return "file type not allowed; use " + exts[0]
	}
	return fmt.Sprintf("file type not allowed; use %s or %s",
		strings.Join(exts[:len(exts)-1], ", "), exts[len(exts)-1])
}

func tooLargeMessage(maxSize int64) string {
	return fmt.Sprintf("file too large; maximum is %d MB", maxSize/(1024*1024))
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}
