package predictions

import "strings"

// IndexView is the data behind the upload page.
type IndexView struct {
	CSRFToken  string
	Recent     []Prediction
	MaxSizeMB  int64
	Extensions []string
}

// accept is the file input's accept list, e.g. ".png,.jpg".
func (v IndexView) accept() string {
	exts := make([]string, len(v.Extensions))
	for i, ext := range v.Extensions {
		exts[i] = "." + ext
	}
	return strings.Join(exts, ",")
}

// HistoryView is the data behind the history page.
type HistoryView struct {
	Predictions []Prediction
	Summary     *Summary
	Limit       int
}
