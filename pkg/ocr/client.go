package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultMinConfidence filters out low-quality recognition fragments,
// matching the engine-side default.
const DefaultMinConfidence = 0.3

// Client is an HTTP client for the OCR engine sidecar. The sidecar owns the
// model; it is loaded once per engine process, so this client is cheap to
// construct and safe to share.
type Client struct {
	endpoint      string
	httpClient    *http.Client
	minConfidence float64
}

// NewClient creates a recognition client against the given engine endpoint.
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		minConfidence: DefaultMinConfidence,
	}
}

// SetMinConfidence overrides the fragment confidence floor.
func (c *Client) SetMinConfidence(min float64) {
	c.minConfidence = min
}

// Recognize posts the image to the engine and returns the recognized
// fragments, dropping everything below the confidence floor.
func (c *Client) Recognize(ctx context.Context, image []byte) ([]Fragment, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recognition request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("recognition failed with status %d: %s", resp.StatusCode, string(body))
	}

	var decoded struct {
		Results []Fragment `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode recognition response: %w", err)
	}

	fragments := make([]Fragment, 0, len(decoded.Results))
	for _, f := range decoded.Results {
		if f.Text == "" || f.Confidence < c.minConfidence {
			continue
		}
		fragments = append(fragments, f)
	}
	return fragments, nil
}
