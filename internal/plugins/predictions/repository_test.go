package predictions

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/cellscan/internal/apperror"
	"github.com/keyxmakerx/cellscan/internal/database/dbtest"
)

// seedUser inserts a user row directly and returns its id.
func seedUser(t *testing.T, db *sqlx.DB, name string) int64 {
	t.Helper()
	res, err := db.Exec(
		`INSERT INTO users (username, email, password_hash, created_at, is_active) VALUES (?, ?, ?, ?, ?)`,
		name, name+"@example.com", "hash", time.Now().UTC(), true,
	)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func TestPredictionRepository_SaveAndList(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewPredictionRepository(db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice")

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	classes := []string{"Parasitized", "Uninfected", "Parasitized", "Uninfected", "Uninfected", "Parasitized", "Uninfected"}
	var ids []int64
	for i, class := range classes {
		id, err := repo.Save(ctx, &Prediction{
			UserID:         alice,
			Filename:       "cell.png",
			PredictedClass: class,
			Confidence:     0.5 + float64(i)/100,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	list, err := repo.ListByUser(ctx, alice, 5)
	require.NoError(t, err)
	require.Len(t, list, 5)
	for i, p := range list {
		assert.Equal(t, ids[len(ids)-1-i], p.ID, "newest first")
		assert.Equal(t, alice, p.UserID)
	}
	assert.True(t, list[0].CreatedAt.After(list[1].CreatedAt))

	all, err := repo.ListByUser(ctx, alice, 100)
	require.NoError(t, err)
	assert.Len(t, all, len(classes))

	counts, err := repo.CountByClass(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Parasitized": 3, "Uninfected": 4}, counts)
}

func TestPredictionRepository_SameTimestampOrdersByID(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewPredictionRepository(db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice")

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	first, err := repo.Save(ctx, &Prediction{UserID: alice, Filename: "a.png", PredictedClass: "Uninfected", Confidence: 0.9, CreatedAt: at})
	require.NoError(t, err)
	second, err := repo.Save(ctx, &Prediction{UserID: alice, Filename: "b.png", PredictedClass: "Uninfected", Confidence: 0.9, CreatedAt: at})
	require.NoError(t, err)

	list, err := repo.ListByUser(ctx, alice, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID)
	assert.Equal(t, first, list[1].ID)
}

func TestPredictionRepository_EmptyAndScoped(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewPredictionRepository(db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	_, err := repo.Save(ctx, &Prediction{UserID: alice, Filename: "a.png", PredictedClass: "Parasitized", Confidence: 0.8, CreatedAt: time.Now()})
	require.NoError(t, err)

	list, err := repo.ListByUser(ctx, bob, 5)
	require.NoError(t, err)
	assert.NotNil(t, list, "no predictions is an empty slice, not nil")
	assert.Empty(t, list)

	counts, err := repo.CountByClass(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Parasitized": 0, "Uninfected": 0}, counts)

	list, err = repo.ListByUser(ctx, alice, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPredictionRepository_RoundsConfidence(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewPredictionRepository(db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice")

	p := &Prediction{UserID: alice, Filename: "cell.png", PredictedClass: "Parasitized", Confidence: 0.97314999, CreatedAt: time.Now()}
	_, err := repo.Save(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 0.9731, p.Confidence)

	list, err := repo.ListByUser(ctx, alice, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 0.9731, list[0].Confidence)
	assert.Equal(t, "97.31%", list[0].ConfidencePercent())
}

func TestPredictionRepository_RejectsBadValues(t *testing.T) {
	repo := NewPredictionRepository(dbtest.Open(t))
	ctx := context.Background()

	tests := []struct {
		name string
		p    Prediction
	}{
		{"unknown class", Prediction{UserID: 1, PredictedClass: "Sickle", Confidence: 0.5}},
		{"lowercase class", Prediction{UserID: 1, PredictedClass: "parasitized", Confidence: 0.5}},
		{"confidence above one", Prediction{UserID: 1, PredictedClass: "Uninfected", Confidence: 1.2}},
		{"negative confidence", Prediction{UserID: 1, PredictedClass: "Uninfected", Confidence: -0.1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.Save(ctx, &tt.p)
			assert.Equal(t, http.StatusUnprocessableEntity, apperror.SafeCode(err))
		})
	}
}

func TestPredictionRepository_UnknownUserRejectedByForeignKey(t *testing.T) {
	repo := NewPredictionRepository(dbtest.Open(t))

	_, err := repo.Save(context.Background(), &Prediction{
		UserID: 4242, Filename: "x.png", PredictedClass: "Uninfected", Confidence: 0.7, CreatedAt: time.Now(),
	})
	assert.Error(t, err)
}

func TestPredictionRepository_StoreFailureReleasesConnection(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewPredictionRepository(sqlx.NewDb(db, "mysql"))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO predictions").WillReturnError(errors.New("server has gone away"))
	mock.ExpectRollback()

	_, err = repo.Save(context.Background(), &Prediction{
		UserID: 1, Filename: "x.png", PredictedClass: "Uninfected", Confidence: 0.7, CreatedAt: time.Now(),
	})
	require.Error(t, err)

	mock.ExpectQuery("SELECT .* FROM predictions").
		WithArgs(int64(1), 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "filename", "predicted_class", "confidence", "created_at"}).
			AddRow(int64(3), int64(1), "c.png", "Parasitized", []byte("0.9731"), time.Now()).
			RowError(0, errors.New("connection reset")))

	_, err = repo.ListByUser(context.Background(), 1, 5)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet(), "rollback must run and rows must be closed")
}
