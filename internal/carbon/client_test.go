package carbon_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/gridcast/internal/carbon"
)

func sensorServer(value float64, status int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		json.NewEncoder(w).Encode(carbon.Reading{Value: value, ObservedAt: time.Now()})
	}))
}

func TestCurrent(t *testing.T) {
	t.Run("should return the live sensor reading", func(t *testing.T) {
		srv := sensorServer(42, http.StatusOK)
		defer srv.Close()

		client := carbon.NewSensorClient(carbon.SensorConfig{
			URL:           srv.URL,
			FallbackValue: 999,
		}, nil)

		reading, source := client.Current(context.Background())

		assert.Equal(t, 42.0, reading.Value)
		assert.Equal(t, carbon.SourceSensor, source)
	})

	t.Run("should substitute the last known reading when the sensor dies", func(t *testing.T) {
		var down atomic.Bool
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if down.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			json.NewEncoder(w).Encode(carbon.Reading{Value: 37, ObservedAt: time.Now()})
		}))
		defer srv.Close()

		client := carbon.NewSensorClient(carbon.SensorConfig{
			URL:           srv.URL,
			FallbackValue: 999,
		}, nil)

		_, source := client.Current(context.Background())
		require.Equal(t, carbon.SourceSensor, source)

		down.Store(true)

		reading, source := client.Current(context.Background())
		assert.Equal(t, 37.0, reading.Value)
		assert.Equal(t, carbon.SourceCache, source)
	})

	t.Run("should fall back to the configured value when nothing was ever read", func(t *testing.T) {
		srv := sensorServer(0, http.StatusInternalServerError)
		defer srv.Close()

		client := carbon.NewSensorClient(carbon.SensorConfig{
			URL:           srv.URL,
			FallbackValue: 999,
		}, nil)

		reading, source := client.Current(context.Background())

		assert.Equal(t, 999.0, reading.Value)
		assert.Equal(t, carbon.SourceFallback, source)
		assert.False(t, reading.ObservedAt.IsZero())
	})

	t.Run("should treat a slow sensor as unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			json.NewEncoder(w).Encode(carbon.Reading{Value: 10})
		}))
		defer srv.Close()

		client := carbon.NewSensorClient(carbon.SensorConfig{
			URL:           srv.URL,
			Timeout:       20 * time.Millisecond,
			FallbackValue: 999,
		}, nil)

		_, source := client.Current(context.Background())

		assert.Equal(t, carbon.SourceFallback, source)
	})

	t.Run("should stamp readings that arrive without a timestamp", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"value": 12}`))
		}))
		defer srv.Close()

		client := carbon.NewSensorClient(carbon.SensorConfig{URL: srv.URL}, nil)

		reading, source := client.Current(context.Background())

		assert.Equal(t, carbon.SourceSensor, source)
		assert.False(t, reading.ObservedAt.IsZero())
	})
}

func TestLastKnown(t *testing.T) {
	t.Run("should report nothing before the first successful read", func(t *testing.T) {
		client := carbon.NewSensorClient(carbon.SensorConfig{URL: "http://localhost:1"}, nil)

		_, ok := client.LastKnown()
		assert.False(t, ok)
	})

	t.Run("should remember the most recent reading", func(t *testing.T) {
		srv := sensorServer(55, http.StatusOK)
		defer srv.Close()

		client := carbon.NewSensorClient(carbon.SensorConfig{URL: srv.URL}, nil)
		client.Current(context.Background())

		reading, ok := client.LastKnown()
		require.True(t, ok)
		assert.Equal(t, 55.0, reading.Value)
	})
}
