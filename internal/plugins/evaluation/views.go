package evaluation

import (
	"fmt"
	"strconv"
)

// headlineMetric is one tile of the stats row.
type headlineMetric struct {
	label string
	value float64
}

func (r *Report) headline() []headlineMetric {
	return []headlineMetric{
		{"Accuracy", r.Metrics.Accuracy},
		{"Precision", r.Metrics.Precision},
		{"Recall", r.Metrics.Recall},
		{"F1 score", r.Metrics.F1},
		{"AUC", r.Metrics.AUC},
	}
}

func (r *Report) generated() string {
	if r.GeneratedAt.IsZero() {
		return "unknown"
	}
	return r.GeneratedAt.UTC().Format("2006-01-02 15:04 MST")
}

func percent(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

func ratio(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
