package carbon

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const lastReadingKey = "carbon:last_reading"

// SensorClient reads the carbon sensor over HTTP. The sensor is untrusted
// and on the critical path, so every read is bounded by a timeout and a
// failed read is substituted with the last-known reading, then with the
// configured fallback value (high enough to route to the light backend).
type SensorClient struct {
	url           string
	httpClient    *http.Client
	redis         *redis.Client
	fallbackValue float64

	mu        sync.RWMutex
	lastKnown *Reading
}

// SensorConfig holds sensor client configuration
type SensorConfig struct {
	URL           string
	Timeout       time.Duration
	FallbackValue float64
}

// NewSensorClient creates a new sensor client. redisClient may be nil, in
// which case the last-known reading only survives in process memory.
func NewSensorClient(cfg SensorConfig, redisClient *redis.Client) *SensorClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Millisecond
	}

	return &SensorClient{
		url:           cfg.URL,
		httpClient:    &http.Client{Timeout: timeout},
		redis:         redisClient,
		fallbackValue: cfg.FallbackValue,
	}
}

// Current returns the freshest reading available. It never fails: sensor
// errors degrade to the last-known reading and finally to the fallback
// value, reported through the returned Source.
func (c *SensorClient) Current(ctx context.Context) (Reading, Source) {
	reading, err := c.fetch(ctx)
	if err == nil {
		c.remember(ctx, reading)
		return reading, SourceSensor
	}

	log.Printf("carbon sensor unavailable, substituting: %v", err)

	if cached, ok := c.recall(ctx); ok {
		return cached, SourceCache
	}

	return Reading{Value: c.fallbackValue, ObservedAt: time.Now()}, SourceFallback
}

// LastKnown returns the most recent reading seen, if any
func (c *SensorClient) LastKnown() (Reading, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.lastKnown == nil {
		return Reading{}, false
	}
	return *c.lastKnown, true
}

func (c *SensorClient) fetch(ctx context.Context) (Reading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Reading{}, fmt.Errorf("failed to build sensor request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Reading{}, fmt.Errorf("sensor request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Reading{}, fmt.Errorf("sensor returned status %d", resp.StatusCode)
	}

	var reading Reading
	if err := json.NewDecoder(resp.Body).Decode(&reading); err != nil {
		return Reading{}, fmt.Errorf("failed to decode sensor payload: %w", err)
	}

	if reading.ObservedAt.IsZero() {
		reading.ObservedAt = time.Now()
	}

	return reading, nil
}

func (c *SensorClient) remember(ctx context.Context, reading Reading) {
	c.mu.Lock()
	r := reading
	c.lastKnown = &r
	c.mu.Unlock()

	if c.redis == nil {
		return
	}

	payload, err := json.Marshal(reading)
	if err != nil {
		return
	}
	// Best effort; a dead cache must not affect the request path
	if err := c.redis.Set(ctx, lastReadingKey, payload, 10*time.Minute).Err(); err != nil {
		log.Printf("failed to cache carbon reading: %v", err)
	}
}

func (c *SensorClient) recall(ctx context.Context) (Reading, bool) {
	c.mu.RLock()
	if c.lastKnown != nil {
		reading := *c.lastKnown
		c.mu.RUnlock()
		return reading, true
	}
	c.mu.RUnlock()

	if c.redis == nil {
		return Reading{}, false
	}

	payload, err := c.redis.Get(ctx, lastReadingKey).Bytes()
	if err != nil {
		return Reading{}, false
	}

	var reading Reading
	if err := json.Unmarshal(payload, &reading); err != nil {
		return Reading{}, false
	}
	return reading, true
}
