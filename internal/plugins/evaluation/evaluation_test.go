package evaluation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/cellscan/internal/apperror"
	"github.com/keyxmakerx/cellscan/internal/plugins/auth"
)

func copyFixture(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "evaluation.json"))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "evaluation.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestFileSource_Load(t *testing.T) {
	src := NewFileSource(filepath.Join("testdata", "evaluation.json"))

	r, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cnn_custom", r.BestModel)
	assert.Equal(t, 0.9593, r.Metrics.Accuracy)
	assert.Equal(t, 0.9595, r.Metrics.F1)
	assert.Equal(t, 5512, r.ConfusionMatrix.Total())
	assert.Len(t, r.Models, 3)

	again, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Same(t, r, again, "unchanged file is served from cache")
}

func TestFileSource_ReloadsOnChange(t *testing.T) {
	path := copyFixture(t)
	src := NewFileSource(path)

	first, err := src.Load(context.Background())
	require.NoError(t, err)

	var raw map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &raw))
	raw["best_model"] = "mobilenet_v2"
	data, err = json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	second, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, "mobilenet_v2", second.BestModel)
}

func TestFileSource_Missing(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "nope.json")).Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, apperror.SafeCode(err))
	assert.Equal(t, "evaluation report not available", apperror.SafeMessage(err))
}

func TestFileSource_Malformed(t *testing.T) {
	tests := map[string]string{
		"not json":            `{"metrics": `,
		"metric out of range": `{"metrics":{"accuracy":1.7},"confusion_matrix":{"labels":["a"],"matrix":[[1]]}}`,
		"ragged matrix":       `{"confusion_matrix":{"labels":["a","b"],"matrix":[[1,2],[3]]}}`,
		"no labels":           `{"confusion_matrix":{"labels":[],"matrix":[]}}`,
		"unnamed model":       `{"confusion_matrix":{"labels":["a"],"matrix":[[1]]},"models":[{"accuracy":0.5}]}`,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "evaluation.json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

			_, err := NewFileSource(path).Load(context.Background())
			require.Error(t, err)
			assert.Equal(t, http.StatusInternalServerError, apperror.SafeCode(err))
		})
	}
}

func TestShowHandler(t *testing.T) {
	h := NewHandler(NewFileSource(filepath.Join("testdata", "evaluation.json")))
	e := echo.New()
	id := auth.Identity{UserID: 1, Username: "alice"}

	req := httptest.NewRequest(http.MethodGet, "/evaluation", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h.Show(e.NewContext(req, rec), id))

	body := rec.Body.String()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "Model evaluation")
	assert.Contains(t, body, "95.93%")
	assert.Contains(t, body, `<td class="hit">2654</td>`)
	assert.Contains(t, body, `<tr class="best"><td>cnn_custom</td>`)

	req = httptest.NewRequest(http.MethodGet, "/evaluation", nil)
	req.Header.Set(echo.HeaderAccept, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	require.NoError(t, h.Show(e.NewContext(req, rec), id))

	var r Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &r))
	assert.Equal(t, "cnn_custom", r.BestModel)
}

func TestShowHandler_MissingReport(t *testing.T) {
	h := NewHandler(NewFileSource(filepath.Join(t.TempDir(), "missing.json")))
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/evaluation", nil)
	err := h.Show(e.NewContext(req, httptest.NewRecorder()), auth.Identity{UserID: 1})
	assert.Equal(t, http.StatusNotFound, apperror.SafeCode(err))
}
