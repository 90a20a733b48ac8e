// Package evaluation serves the model evaluation dashboard. The report is a
// read-only JSON file written by the training pipeline; this package only
// loads, checks and renders it.
package evaluation

import (
	"errors"
	"fmt"
	"time"
)

// Metrics are the headline scores of one model on the test set.
type Metrics struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1_score"`
	AUC       float64 `json:"auc"`
}

// ModelRow is one line of the model comparison table.
type ModelRow struct {
	Name string `json:"name"`
	Metrics
}

// ConfusionMatrix holds counts with rows as true labels and columns as
// predicted labels, both in Labels order.
type ConfusionMatrix struct {
	Labels []string `json:"labels"`
	Matrix [][]int  `json:"matrix"`
}

// Report is the evaluation feed.
type Report struct {
	GeneratedAt     time.Time       `json:"generated_at"`
	Dataset         string          `json:"dataset"`
	TestSamples     int             `json:"test_samples"`
	BestModel       string          `json:"best_model"`
	Metrics         Metrics         `json:"metrics"`
	ConfusionMatrix ConfusionMatrix `json:"confusion_matrix"`
	Models          []ModelRow      `json:"models"`
}

// Validate checks the invariants the dashboard relies on.
func (r *Report) Validate() error {
	if err := r.Metrics.validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	cm := r.ConfusionMatrix
	if len(cm.Labels) == 0 {
		return errors.New("confusion matrix has no labels")
	}
	if len(cm.Matrix) != len(cm.Labels) {
		return fmt.Errorf("confusion matrix has %d rows for %d labels", len(cm.Matrix), len(cm.Labels))
	}
	for i, row := range cm.Matrix {
		if len(row) != len(cm.Labels) {
			return fmt.Errorf("confusion matrix row %d has %d columns for %d labels", i, len(row), len(cm.Labels))
		}
		for _, n := range row {
			if n < 0 {
				return fmt.Errorf("confusion matrix row %d has a negative count", i)
			}
		}
	}

	for _, m := range r.Models {
		if m.Name == "" {
			return errors.New("model row without a name")
		}
		if err := m.Metrics.validate(); err != nil {
			return fmt.Errorf("model %s: %w", m.Name, err)
		}
	}
	return nil
}

func (m Metrics) validate() error {
	for name, v := range map[string]float64{
		"accuracy":  m.Accuracy,
		"precision": m.Precision,
		"recall":    m.Recall,
		"f1_score":  m.F1,
		"auc":       m.AUC,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s %.4f outside [0,1]", name, v)
		}
	}
	return nil
}

// Total returns the number of samples counted in the matrix.
func (cm ConfusionMatrix) Total() int {
	total := 0
	for _, row := range cm.Matrix {
		for _, n := range row {
			total += n
		}
	}
	return total
}
