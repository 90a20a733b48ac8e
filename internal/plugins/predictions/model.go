// Package predictions records classifier results per user and serves the
// upload page, the /predict endpoint and the history dashboard.
package predictions

import (
	"time"

	"github.com/keyxmakerx/cellscan/internal/classifier"
)

// Prediction is one stored classification. Rows are append-only.
type Prediction struct {
	ID             int64     `json:"id" db:"id"`
	UserID         int64     `json:"user_id" db:"user_id"`
	Filename       string    `json:"filename" db:"filename"`
	PredictedClass string    `json:"predicted_class" db:"predicted_class"`
	Confidence     float64   `json:"confidence" db:"confidence"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// ConfidencePercent formats the confidence the way the result card does.
func (p Prediction) ConfidencePercent() string {
	return formatPercent(p.Confidence)
}

// PredictInput is one upload handed from the handler to the service.
type PredictInput struct {
	UserID   int64
	Filename string
	Size     int64
	Data     []byte
}

// Outcome is the result of a prediction request. Recorded is false when the
// classification succeeded but could not be stored.
type Outcome struct {
	Result       *classifier.Result
	Filename     string
	PredictionID int64
	Recorded     bool
}

// PredictResponse is the JSON body returned by POST /predict.
type PredictResponse struct {
	PredictedClass       string               `json:"predicted_class"`
	Confidence           float64              `json:"confidence"`
	ConfidencePercentage string               `json:"confidence_percentage"`
	AllProbabilities     map[string]float64   `json:"all_probabilities"`
	ClassInfo            classifier.ClassInfo `json:"class_info"`
	Filename             string               `json:"filename"`
	Image                string               `json:"image"`
	Recorded             bool                 `json:"recorded"`
	PredictionID         int64                `json:"prediction_id,omitempty"`
	Warning              string               `json:"warning,omitempty"`
}

// Summary counts a user's predictions per label.
type Summary struct {
	Total   int
	ByClass map[string]int
}

// History limits for GET /history.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
	recentLimit         = 5
)
