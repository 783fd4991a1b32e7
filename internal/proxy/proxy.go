package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/terminal-bench/gridcast/internal/forecast"
	"github.com/terminal-bench/gridcast/internal/routing"
)

// Failure kinds. Retry and failover policy belong to the caller; one
// Invoke is one attempt.
var (
	ErrTimeout    = errors.New("backend timed out")
	ErrConnection = errors.New("backend unreachable")
	ErrBackend    = errors.New("backend error")
	ErrUnknown    = errors.New("unknown backend")
)

// Endpoint describes how to reach one backend
type Endpoint struct {
	URL     string
	Timeout time.Duration
}

// Client performs bounded-time calls against the prediction backends
type Client struct {
	httpClient *http.Client
	endpoints  map[routing.Backend]Endpoint
}

// NewClient creates a new backend proxy client
func NewClient(endpoints map[routing.Backend]Endpoint) *Client {
	return &Client{
		// Per-call deadlines come from the endpoint config
		httpClient: &http.Client{},
		endpoints:  endpoints,
	}
}

type predictRequest struct {
	Region  string `json:"region"`
	Horizon string `json:"horizon"`
}

type predictResponse struct {
	Series []forecast.Point `json:"series"`
}

// Invoke performs a single POST /predict attempt against the named
// backend, bounded by the endpoint's timeout. Failures are classified as
// ErrTimeout, ErrConnection or ErrBackend.
func (c *Client) Invoke(ctx context.Context, backend routing.Backend, req forecast.Request) (*forecast.Response, error) {
	endpoint, ok := c.endpoints[backend]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, backend)
	}

	callCtx := ctx
	if endpoint.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, endpoint.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(predictRequest{
		Region:  req.Region,
		Horizon: req.Horizon.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrBackend, err)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrConnection, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(backend, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrBackend, backend, resp.StatusCode)
	}

	var payload predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %s sent malformed payload: %v", ErrBackend, backend, err)
	}

	if len(payload.Series) == 0 {
		return nil, fmt.Errorf("%w: %s sent an empty series", ErrBackend, backend)
	}

	return &forecast.Response{Series: payload.Series}, nil
}

func classifyTransportError(backend routing.Backend, err error) error {
	// The caller walking away is not a backend failure. The per-call
	// deadline surfaces as DeadlineExceeded, never Canceled, so this only
	// matches parent-context cancellation.
	if errors.Is(err, context.Canceled) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, backend, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, backend, err)
	}

	return fmt.Errorf("%w: %s: %v", ErrConnection, backend, err)
}
