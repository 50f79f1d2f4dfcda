package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// HTTPDetector calls an inference sidecar over HTTP: POST the JPEG body to
// the configured URL, read back JSON confidences. The trap hardware runs the
// model in a separate process so a model crash cannot take the capture loop
// down with it.
type HTTPDetector struct {
	url    string
	client *http.Client

	mu       sync.Mutex
	failures int
}

// maxConsecutiveFailures is the point at which transport errors stop being
// treated as per-frame noise and become a systemic outage.
const maxConsecutiveFailures = 5

// NewHTTPDetector builds a client for the sidecar at url.
func NewHTTPDetector(url string) *HTTPDetector {
	return &HTTPDetector{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type inferResponse struct {
	Animal float32 `json:"animal"`
	Human  float32 `json:"human"`
}

// Infer sends one JPEG to the sidecar. Repeated transport failures are
// reported as ErrUnavailable so the scheduler can stop instead of silently
// labelling everything empty.
func (d *HTTPDetector) Infer(ctx context.Context, image []byte) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(image))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build inference request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, d.fail(fmt.Errorf("inference request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, d.fail(fmt.Errorf("inference server returned %s", resp.Status))
	}

	var out inferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, d.fail(fmt.Errorf("failed to decode inference response: %w", err))
	}

	d.mu.Lock()
	d.failures = 0
	d.mu.Unlock()
	return Result{AnimalConfidence: out.Animal, HumanConfidence: out.Human}, nil
}

func (d *HTTPDetector) fail(err error) error {
	d.mu.Lock()
	d.failures++
	systemic := d.failures >= maxConsecutiveFailures
	d.mu.Unlock()
	if systemic {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
