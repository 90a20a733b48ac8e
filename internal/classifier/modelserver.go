package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxResponseBytes caps how much of a model server reply is read.
const maxResponseBytes = 1 << 20

// ModelServer classifies images through a TensorFlow Serving REST endpoint:
// POST {base}/v1/models/{name}:predict with {"instances": [tensor]}.
type ModelServer struct {
	baseURL string
	name    string
	size    int
	client  *http.Client
}

// NewModelServer creates a client for the model called name served at
// baseURL. Images are resized to size×size before being sent.
func NewModelServer(baseURL, name string, size int, timeout time.Duration) *ModelServer {
	return &ModelServer{
		baseURL: strings.TrimRight(baseURL, "/"),
		name:    name,
		size:    size,
		client:  &http.Client{Timeout: timeout},
	}
}

type predictRequest struct {
	Instances []Tensor `json:"instances"`
}

type predictResponse struct {
	Predictions [][]float64 `json:"predictions"`
	Error       string      `json:"error"`
}

type statusResponse struct {
	ModelVersionStatus []struct {
		State string `json:"state"`
	} `json:"model_version_status"`
}

// Classify preprocesses image and asks the model server for a prediction.
func (m *ModelServer) Classify(ctx context.Context, image []byte) (*Result, error) {
	tensor, err := Preprocess(image, m.size)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(predictRequest{Instances: []Tensor{tensor}})
	if err != nil {
		return nil, fmt.Errorf("encoding predict request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.modelURL()+":predict", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrModelUnavailable, err)
	}

	var out predictResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: %s: %s", ErrModelUnavailable, resp.Status, out.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model server rejected request: %s: %s", resp.Status, out.Error)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decoding predict response: %w", decodeErr)
	}
	if len(out.Predictions) != 1 {
		return nil, fmt.Errorf("model returned %d predictions for one instance", len(out.Predictions))
	}

	result, err := ResultFromScores(out.Predictions[0])
	if err != nil {
		return nil, err
	}

	slog.Debug("image classified",
		slog.String("label", result.Label),
		slog.Float64("confidence", result.Confidence),
		slog.Duration("latency", time.Since(start)),
	)
	return result, nil
}

// Ready reports whether the model server has at least one AVAILABLE version
// of the model loaded.
func (m *ModelServer) Ready(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.modelURL(), nil)
	if err != nil {
		return false
	}

	resp, err := m.client.Do(req)
	if err != nil {
		slog.Debug("model server not reachable", slog.Any("error", err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var status statusResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&status); err != nil {
		return false
	}
	for _, v := range status.ModelVersionStatus {
		if v.State == "AVAILABLE" {
			return true
		}
	}
	return false
}

func (m *ModelServer) modelURL() string {
	return m.baseURL + "/v1/models/" + url.PathEscape(m.name)
}

