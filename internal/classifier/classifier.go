// Package classifier adapts the external cell-image model to the rest of the
// application. The model itself runs out of process behind a TensorFlow
// Serving compatible REST API; this package prepares the input tensor, calls
// the server and turns raw scores into a labelled Result.
package classifier

import (
	"context"
	"errors"
	"fmt"
)

// Model output labels, in the order the model emits scores.
const (
	LabelParasitized = "Parasitized"
	LabelUninfected  = "Uninfected"
)

// Labels lists every label the model can produce, indexed by output position.
var Labels = []string{LabelParasitized, LabelUninfected}

// IsLabel reports whether s is one of the model's labels.
func IsLabel(s string) bool {
	for _, l := range Labels {
		if l == s {
			return true
		}
	}
	return false
}

var (
	// ErrInvalidImage is returned when the upload is not a decodable
	// PNG, JPEG or WebP image.
	ErrInvalidImage = errors.New("image could not be decoded")

	// ErrModelUnavailable is returned when the model server cannot be
	// reached or fails on its side.
	ErrModelUnavailable = errors.New("model server unavailable")
)

// Result is a single classification outcome.
type Result struct {
	Label         string             `json:"predicted_class"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"all_probabilities"`
}

// Classifier classifies one image at a time.
type Classifier interface {
	Classify(ctx context.Context, image []byte) (*Result, error)
	Ready(ctx context.Context) bool
}

// ResultFromScores builds a Result from the model's output row. A row with
// one value is read as a sigmoid output, the probability of the second
// label; otherwise there must be one score per label and the highest wins.
func ResultFromScores(scores []float64) (*Result, error) {
	switch len(scores) {
	case 1:
		scores = []float64{1 - scores[0], scores[0]}
	case len(Labels):
	default:
		return nil, fmt.Errorf("model returned %d scores, want %d", len(scores), len(Labels))
	}

	best := 0
	probs := make(map[string]float64, len(Labels))
	for i, s := range scores {
		probs[Labels[i]] = s
		if s > scores[best] {
			best = i
		}
	}

	return &Result{
		Label:         Labels[best],
		Confidence:    scores[best],
		Probabilities: probs,
	}, nil
}
