package carbon

import "time"

// Reading is one carbon-intensity observation in gCO2/kWh.
// Immutable once produced.
type Reading struct {
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
}

// Source tells where a reading came from when the sensor itself could
// not be reached
type Source string

const (
	SourceSensor   Source = "sensor"
	SourceCache    Source = "cache"
	SourceFallback Source = "fallback"
)
