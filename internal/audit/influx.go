package audit

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/terminal-bench/gridcast/internal/routing"
)

// Writer records routing decisions and handled forecasts as time-series
// points. Writes go through the non-blocking async API so the request path
// never waits on InfluxDB.
type Writer struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// Config holds InfluxDB configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewWriter creates a new audit writer
func NewWriter(cfg Config) *Writer {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Writer{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
}

// RecordDecision writes one routing decision point
func (w *Writer) RecordDecision(decision routing.Decision, region string) {
	p := influxdb2.NewPoint("routing_decision",
		map[string]string{
			"backend": string(decision.Backend),
			"reason":  string(decision.Reason),
			"region":  region,
		},
		map[string]interface{}{
			"carbon": decision.Reading.Value,
		},
		time.Now(),
	)
	w.writeAPI.WritePoint(p)
}

// RecordForecast writes one handled forecast point
func (w *Writer) RecordForecast(region, model, status string, carbon float64, latency time.Duration) {
	p := influxdb2.NewPoint("forecast",
		map[string]string{
			"region": region,
			"model":  model,
			"status": status,
		},
		map[string]interface{}{
			"carbon":     carbon,
			"latency_ms": latency.Milliseconds(),
		},
		time.Now(),
	)
	w.writeAPI.WritePoint(p)
}

// Close flushes pending points and shuts the client down
func (w *Writer) Close() {
	w.writeAPI.Flush()
	w.client.Close()
}
