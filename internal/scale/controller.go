package scale

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrScaleControl wraps failures talking to the scale agent
var ErrScaleControl = errors.New("scale control error")

// Controller drives backend replica counts. Implementations must be
// idempotent: setting the already-current count is a no-op success.
type Controller interface {
	SetReplicas(ctx context.Context, backendID string, count int) error
}

// HTTPController talks to an external scale agent over HTTP. The
// orchestrator depends on this capability by contract only; it never
// touches the container runtime directly.
type HTTPController struct {
	baseURL    string
	httpClient *http.Client
}

// HTTPConfig holds scale agent client configuration
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewHTTPController creates a new scale agent client
func NewHTTPController(cfg HTTPConfig) *HTTPController {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &HTTPController{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type setReplicasRequest struct {
	Count int `json:"count"`
}

// SetReplicas asks the scale agent to run `count` replicas of a backend
func (c *HTTPController) SetReplicas(ctx context.Context, backendID string, count int) error {
	body, err := json.Marshal(setReplicasRequest{Count: count})
	if err != nil {
		return fmt.Errorf("%w: marshal request: %v", ErrScaleControl, err)
	}

	url := fmt.Sprintf("%s/backends/%s/replicas", c.baseURL, backendID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrScaleControl, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScaleControl, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: agent returned status %d", ErrScaleControl, resp.StatusCode)
	}

	return nil
}
