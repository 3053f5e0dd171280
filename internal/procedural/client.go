package procedural

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/voxelstream/server/internal/config"
)

// Client fetches height fields from an external terrain service. It
// implements HeightField so it can be plugged straight into the generator.
type Client struct {
	baseURL    string
	timeout    time.Duration
	retryCount int
	client     *http.Client
}

// NewClient creates a new terrain service client
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:    cfg.Procedural.BaseURL,
		timeout:    cfg.Procedural.Timeout,
		retryCount: cfg.Procedural.RetryCount,
		client: &http.Client{
			Timeout: cfg.Procedural.Timeout,
		},
	}
}

// HeightFieldRequest asks the service for one chunk's worth of columns.
type HeightFieldRequest struct {
	Seed   uint64 `json:"seed"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// HeightFieldResponse is the service's reply. Values are row-major, x fastest.
type HeightFieldResponse struct {
	Success bool      `json:"success"`
	Width   int       `json:"width"`
	Height  int       `json:"height"`
	Values  []float32 `json:"values"`
	Message *string   `json:"message,omitempty"`
}

// HealthResponse represents a health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// HealthCheck checks if the terrain service is healthy
func (c *Client) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Printf("Warning: failed to close terrain health response body: %v", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode health response: %w", err)
	}

	if health.Status != "ok" {
		return fmt.Errorf("service reported unhealthy status: %s", health.Status)
	}

	return nil
}

// Generate requests a height field from the terrain service, retrying with
// exponential backoff. Returned values are clamped to [0, 1].
func (c *Client) Generate(ctx context.Context, seed uint64, width, height int) (*Grid, error) {
	url := fmt.Sprintf("%s/api/v1/heightfield", c.baseURL)

	body, err := json.Marshal(HeightFieldRequest{Seed: seed, Width: width, Height: height})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 100ms, 200ms, 400ms
			backoff := time.Duration(100*(1<<uint(attempt-1))) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		grid, err := c.fetch(ctx, url, body, width, height)
		if err == nil {
			return grid, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}

	return nil, fmt.Errorf("height field request failed after %d attempts: %w", c.retryCount+1, lastErr)
}

func (c *Client) fetch(ctx context.Context, url string, body []byte, width, height int) (*Grid, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if closeErr := resp.Body.Close(); closeErr != nil {
		log.Printf("Warning: failed to close terrain response body: %v", closeErr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("height field request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var response HeightFieldResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if !response.Success {
		msg := "no message"
		if response.Message != nil {
			msg = *response.Message
		}
		return nil, fmt.Errorf("height field generation failed: %s", msg)
	}

	grid := &Grid{Width: response.Width, Height: response.Height, Values: response.Values}
	if err := grid.Validate(width, height); err != nil {
		return nil, err
	}
	for i, v := range grid.Values {
		grid.Values[i] = clamp01(v)
	}
	return grid, nil
}
