package predictions

import (
	"context"
	"fmt"
	"math"

	"github.com/jmoiron/sqlx"

	"github.com/keyxmakerx/cellscan/internal/apperror"
	"github.com/keyxmakerx/cellscan/internal/classifier"
	"github.com/keyxmakerx/cellscan/internal/database"
)

// PredictionRepository defines the data access contract for predictions.
type PredictionRepository interface {
	Save(ctx context.Context, p *Prediction) (int64, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]Prediction, error)
	CountByClass(ctx context.Context, userID int64) (map[string]int, error)
}

type predictionRepository struct {
	db *sqlx.DB
}

// NewPredictionRepository creates a prediction repository on the given pool.
func NewPredictionRepository(db *sqlx.DB) PredictionRepository {
	return &predictionRepository{db: db}
}

// Save appends a prediction and returns its id. The confidence is rounded to
// the four decimals the column stores; p is updated in place.
func (r *predictionRepository) Save(ctx context.Context, p *Prediction) (int64, error) {
	if !classifier.IsLabel(p.PredictedClass) {
		return 0, apperror.NewValidation(fmt.Sprintf("unknown class %q", p.PredictedClass))
	}
	if math.IsNaN(p.Confidence) || p.Confidence < 0 || p.Confidence > 1 {
		return 0, apperror.NewValidation("confidence must be between 0 and 1")
	}
	p.Confidence = roundConfidence(p.Confidence)

	query := `INSERT INTO predictions (user_id, filename, predicted_class, confidence, created_at)
	          VALUES (?, ?, ?, ?, ?)`

	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		id, err := database.InsertReturningID(ctx, tx, query,
			p.UserID, p.Filename, p.PredictedClass, p.Confidence, p.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("inserting prediction: %w", err)
		}
		p.ID = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	return p.ID, nil
}

// ListByUser returns up to limit predictions for userID, newest first. A
// user with no predictions gets an empty, non-nil slice.
func (r *predictionRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]Prediction, error) {
	if limit <= 0 {
		return []Prediction{}, nil
	}

	query := r.db.Rebind(`SELECT id, user_id, filename, predicted_class, confidence, created_at
	                      FROM predictions WHERE user_id = ?
	                      ORDER BY created_at DESC, id DESC
	                      LIMIT ?`)

	rows, err := r.db.QueryxContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing predictions: %w", err)
	}
	defer rows.Close()

	list := []Prediction{}
	for rows.Next() {
		var p Prediction
		if err := rows.StructScan(&p); err != nil {
			return nil, fmt.Errorf("scanning prediction: %w", err)
		}
		p.CreatedAt = p.CreatedAt.UTC()
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating predictions: %w", err)
	}
	return list, nil
}

// CountByClass returns how many predictions userID has per label. Labels
// with no rows are reported as zero.
func (r *predictionRepository) CountByClass(ctx context.Context, userID int64) (map[string]int, error) {
	query := r.db.Rebind(`SELECT predicted_class, COUNT(*) AS n
	                      FROM predictions WHERE user_id = ?
	                      GROUP BY predicted_class`)

	var rows []struct {
		Class string `db:"predicted_class"`
		N     int    `db:"n"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("counting predictions: %w", err)
	}

	counts := make(map[string]int, len(classifier.Labels))
	for _, l := range classifier.Labels {
		counts[l] = 0
	}
	for _, row := range rows {
		counts[row.Class] = row.N
	}
	return counts, nil
}

func roundConfidence(v float64) float64 {
	return math.Round(v*10000) / 10000
}
