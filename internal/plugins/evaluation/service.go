package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/keyxmakerx/cellscan/internal/apperror"
)

const msgNotAvailable = "evaluation report not available"

// ReportSource loads the current evaluation report.
type ReportSource interface {
	Load(ctx context.Context) (*Report, error)
}

// fileSource reads the report from disk. The parsed report is kept until the
// file's modification time changes, so a retrained model shows up without a
// restart.
type fileSource struct {
	path string

	mu      sync.Mutex
	cached  *Report
	modTime time.Time
	size    int64
}

// NewFileSource creates a ReportSource for the JSON file at path.
func NewFileSource(path string) ReportSource {
	return &fileSource{path: path}
}

// Load returns the report. A missing file is a 404; an unreadable or
// malformed one is a 500 whose cause is logged.
func (s *fileSource) Load(ctx context.Context) (*Report, error) {
	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperror.NewNotFound(msgNotAvailable)
	}
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("stat evaluation report: %w", err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && info.ModTime().Equal(s.modTime) && info.Size() == s.size {
		return s.cached, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("reading evaluation report: %w", err))
	}

	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("decoding evaluation report %s: %w", s.path, err))
	}
	if err := report.Validate(); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("invalid evaluation report %s: %w", s.path, err))
	}

	s.cached = &report
	s.modTime = info.ModTime()
	s.size = info.Size()

	slog.Info("evaluation report loaded",
		slog.String("path", s.path),
		slog.String("best_model", report.BestModel),
		slog.Int("models", len(report.Models)),
	)
	return s.cached, nil
}
