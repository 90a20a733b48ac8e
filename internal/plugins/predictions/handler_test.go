package predictions

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyxmakerx/cellscan/internal/classifier"
	"github.com/keyxmakerx/cellscan/internal/plugins/auth"
)

var alice = auth.Identity{UserID: 1, Username: "alice"}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func newHandlerFixture(repo *mockRepo, fc *fakeClassifier) *Handler {
	return NewHandler(newTestService(repo, fc), 1024*1024, testExtensions)
}

func doPredict(t *testing.T, h *Handler, body *bytes.Buffer, contentType string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := httptest.NewRecorder()

	require.NoError(t, h.Predict(e.NewContext(req, rec), alice))

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func TestPredictHandler_Success(t *testing.T) {
	repo := &mockRepo{}
	h := newHandlerFixture(repo, &fakeClassifier{result: parasitized()})
	data := pngBytes(t)
	body, ct := multipartBody(t, "file", "cell.png", data)

	rec, out := doPredict(t, h, body, ct)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Parasitized", out["predicted_class"])
	assert.InDelta(t, 0.9731, out["confidence"], 1e-9)
	assert.Equal(t, "97.31%", out["confidence_percentage"])
	assert.Equal(t, base64.StdEncoding.EncodeToString(data), out["image"])
	assert.Equal(t, true, out["recorded"])
	assert.NotContains(t, out, "warning")

	info, ok := out["class_info"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "#dc3545", info["color"])

	probs, ok := out["all_probabilities"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 0.0269, probs["Uninfected"], 1e-9)

	require.Len(t, repo.saved, 1)
	assert.Equal(t, alice.UserID, repo.saved[0].UserID)
}

func TestPredictHandler_WarningWhenNotRecorded(t *testing.T) {
	h := newHandlerFixture(&mockRepo{saveErr: errors.New("db down")}, &fakeClassifier{result: parasitized()})
	body, ct := multipartBody(t, "file", "cell.png", pngBytes(t))

	rec, out := doPredict(t, h, body, ct)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, out["recorded"])
	assert.Equal(t, msgNotRecorded, out["warning"])
	assert.Equal(t, "Parasitized", out["predicted_class"])
}

func TestPredictHandler_Errors(t *testing.T) {
	png := pngBytes(t)

	t.Run("no file part", func(t *testing.T) {
		body, ct := multipartBody(t, "other", "cell.png", png)
		rec, out := doPredict(t, newHandlerFixture(&mockRepo{}, &fakeClassifier{}), body, ct)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "no file provided", out["error"])
	})

	t.Run("nothing selected", func(t *testing.T) {
		body, ct := multipartBody(t, "file", "", nil)
		rec, out := doPredict(t, newHandlerFixture(&mockRepo{}, &fakeClassifier{}), body, ct)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "no file selected", out["error"])
	})

	t.Run("not multipart", func(t *testing.T) {
		rec, out := doPredict(t, newHandlerFixture(&mockRepo{}, &fakeClassifier{}),
			bytes.NewBufferString(`{"file":"x"}`), echo.MIMEApplicationJSON)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "no file provided", out["error"])
	})

	t.Run("disallowed type", func(t *testing.T) {
		body, ct := multipartBody(t, "file", "cell.bmp", png)
		rec, out := doPredict(t, newHandlerFixture(&mockRepo{}, &fakeClassifier{}), body, ct)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "file type not allowed; use png, jpg or jpeg", out["error"])
	})

	t.Run("model down", func(t *testing.T) {
		body, ct := multipartBody(t, "file", "cell.png", png)
		rec, out := doPredict(t, newHandlerFixture(&mockRepo{}, &fakeClassifier{err: classifier.ErrModelUnavailable}), body, ct)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "model server unavailable", out["error"])
	})
}

func TestBodyLimitMiddleware(t *testing.T) {
	e := echo.New()
	mw := bodyLimitMiddleware(10, 1024*1024)
	called := false
	next := func(c echo.Context) error {
		called = true
		return c.NoContent(http.StatusOK)
	}

	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(strings.Repeat("x", 20)))
	rec := httptest.NewRecorder()
	require.NoError(t, mw(next)(e.NewContext(req, rec)))

	assert.False(t, called)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "file too large; maximum is 1 MB")

	req = httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader("small"))
	rec = httptest.NewRecorder()
	require.NoError(t, mw(next)(e.NewContext(req, rec)))
	assert.True(t, called)
}

func TestPredictHandler_StreamedOversizeBody(t *testing.T) {
	h := newHandlerFixture(&mockRepo{}, &fakeClassifier{result: parasitized()})
	body, ct := multipartBody(t, "file", "cell.png", bytes.Repeat([]byte{0x89}, 4096))

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set(echo.HeaderContentType, ct)
	req.ContentLength = -1
	rec := httptest.NewRecorder()

	handler := bodyLimitMiddleware(1024, 1024*1024)(auth.Authed(h.Predict))
	c := e.NewContext(req, rec)
	c.Set("auth_identity", alice)
	require.NoError(t, handler(c))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHistoryHandler(t *testing.T) {
	repo := &mockRepo{}
	svc := newTestService(repo, &fakeClassifier{})
	for i := 0; i < 3; i++ {
		_, err := svc.Record(t.Context(), alice.UserID, "cell.png", parasitized())
		require.NoError(t, err)
	}
	h := NewHandler(svc, 1024*1024, testExtensions)
	e := echo.New()

	t.Run("html", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/history?limit=2", nil)
		rec := httptest.NewRecorder()
		require.NoError(t, h.History(e.NewContext(req, rec), alice))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Prediction history")
		assert.Equal(t, 2, strings.Count(rec.Body.String(), "<tr><td>"))
	})

	t.Run("json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/history", nil)
		req.Header.Set(echo.HeaderAccept, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		require.NoError(t, h.History(e.NewContext(req, rec), alice))

		var out struct {
			Predictions []Prediction   `json:"predictions"`
			Total       int            `json:"total"`
			ByClass     map[string]int `json:"by_class"`
			Limit       int            `json:"limit"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		assert.Len(t, out.Predictions, 3)
		assert.Equal(t, 3, out.Total)
		assert.Equal(t, DefaultHistoryLimit, out.Limit)
		assert.Equal(t, int64(3), out.Predictions[0].ID, "newest first")
	})
}

func TestIndexHandler_ShowsRecent(t *testing.T) {
	repo := &mockRepo{}
	svc := newTestService(repo, &fakeClassifier{})
	_, err := svc.Record(t.Context(), alice.UserID, "<b>smear</b>.png", parasitized())
	require.NoError(t, err)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, NewHandler(svc, 16*1024*1024, testExtensions).Index(e.NewContext(req, rec), alice))

	body := rec.Body.String()
	assert.Contains(t, body, `enctype="multipart/form-data"`)
	assert.Contains(t, body, "up to 16 MB")
	assert.Contains(t, body, "&lt;b&gt;smear&lt;/b&gt;.png", "filenames are escaped")
	assert.Contains(t, body, "97.31%")
}

func TestParseLimit(t *testing.T) {
	tests := map[string]int{
		"":     DefaultHistoryLimit,
		"abc":  DefaultHistoryLimit,
		"0":    DefaultHistoryLimit,
		"-5":   DefaultHistoryLimit,
		"10":   10,
		"200":  200,
		"5000": MaxHistoryLimit,
	}
	for raw, want := range tests {
		assert.Equal(t, want, parseLimit(raw), "limit %q", raw)
	}
}
