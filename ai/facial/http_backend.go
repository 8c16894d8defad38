package facial

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPBackend calls a face-analysis sidecar that exposes
// POST {BaseURL}/analyze with a JSON body
//
//	{"img": "<base64>", "detector_backend": "...", "enforce_detection": true}
//
// and answers {"dominant_emotion": "...", "emotion": {...}} or {"error": "..."}.
type HTTPBackend struct {
	backend string
	baseURL string
	client  *http.Client
}

// NewHTTPBackend creates a backend that asks the sidecar to use the named
// detector. A nil client gets a 30 second timeout.
func NewHTTPBackend(baseURL, detector string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPBackend{
		backend: detector,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// NewHTTPBackends creates one HTTPBackend per detector name, in order.
func NewHTTPBackends(baseURL string, detectors []string, client *http.Client) []Backend {
	out := make([]Backend, 0, len(detectors))
	for _, d := range detectors {
		out = append(out, NewHTTPBackend(baseURL, d, client))
	}
	return out
}

// Name returns the detector name.
func (b *HTTPBackend) Name() string { return b.backend }

type analyzeRequest struct {
	Image            string `json:"img"`
	DetectorBackend  string `json:"detector_backend"`
	EnforceDetection bool   `json:"enforce_detection"`
}

type analyzeResponse struct {
	Raw
	Error string `json:"error,omitempty"`
}

// Analyze sends one detection attempt to the sidecar.
func (b *HTTPBackend) Analyze(ctx context.Context, image []byte, strict bool) (*Raw, error) {
	body, err := json.Marshal(analyzeRequest{
		Image:            base64.StdEncoding.EncodeToString(image),
		DetectorBackend:  b.backend,
		EnforceDetection: strict,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var out analyzeResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("sidecar: %s", out.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sidecar returned status %d", resp.StatusCode)
	}
	return &out.Raw, nil
}
