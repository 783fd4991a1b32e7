package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types / subjects
const (
	// Routing events
	RoutingDecisionMade = "routing.decision"

	// Lifecycle events
	LifecycleTransitioned = "lifecycle.transition"

	// Scale-control events
	ScaleRequested = "scale.requested"
	ScaleCompleted = "scale.completed"
	ScaleFailed    = "scale.failed"

	// Circuit events
	CircuitTransitioned = "circuit.transition"
)

// Event is the base event structure
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Version   int             `json:"version"`
	Data      json.RawMessage `json:"data"`
	Metadata  Metadata        `json:"metadata"`
}

// Metadata contains event metadata
type Metadata struct {
	CorrelationID string `json:"correlation_id"`
	Source        string `json:"source"`
}

// RoutingDecisionData contains routing decision event data, emitted once
// per forecast request
type RoutingDecisionData struct {
	Backend     string    `json:"backend"`
	Reason      string    `json:"reason"`
	CarbonValue float64   `json:"carbon_value"`
	ObservedAt  time.Time `json:"observed_at"`
	Region      string    `json:"region"`
}

// LifecycleTransitionData contains heavy-backend lifecycle state changes
type LifecycleTransitionData struct {
	BackendID string `json:"backend_id"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// ScaleCommandData contains scale-control call data
type ScaleCommandData struct {
	BackendID string `json:"backend_id"`
	Replicas  int    `json:"replicas"`
	Attempt   int    `json:"attempt"`
	Reason    string `json:"reason,omitempty"`
}

// CircuitTransitionData contains circuit breaker state change data
type CircuitTransitionData struct {
	Backend string `json:"backend"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// NewEvent creates a new event
func NewEvent(eventType string, data interface{}, metadata Metadata) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now(),
		Version:   1,
		Data:      dataBytes,
		Metadata:  metadata,
	}, nil
}

// ParseEventData parses event data into the specified type
func ParseEventData[T any](event *Event) (*T, error) {
	var data T
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return nil, err
	}
	return &data, nil
}
