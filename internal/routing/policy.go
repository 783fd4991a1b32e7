package routing

import (
	"github.com/terminal-bench/gridcast/internal/carbon"
)

// Backend identifies a prediction backend
type Backend string

const (
	// BackendHeavy is the gradient-boosted regressor service
	BackendHeavy Backend = "heavy"
	// BackendLight is the exponential-smoothing service
	BackendLight Backend = "light"
)

// Other returns the alternate backend
func (b Backend) Other() Backend {
	if b == BackendHeavy {
		return BackendLight
	}
	return BackendHeavy
}

// Reason explains a routing decision
type Reason string

const (
	// ReasonBelowThreshold: the grid is clean enough for the heavy model
	ReasonBelowThreshold Reason = "below_threshold"
	// ReasonAboveThreshold: the grid is dirty, route to the light model
	ReasonAboveThreshold Reason = "above_threshold"
	// ReasonSwitchLock: the reading fell inside the hysteresis band, so
	// the previous choice is retained to prevent oscillation
	ReasonSwitchLock Reason = "switch_lock"
)

// Decision is the outcome of one policy evaluation. The chosen backend is
// a pure function of the reading and hysteresis state, never of request
// content.
type Decision struct {
	Backend Backend        `json:"backend"`
	Reason  Reason         `json:"reason"`
	Reading carbon.Reading `json:"reading"`
}

// Policy maps a carbon reading to a backend choice with a hysteresis band
// between TLow and THigh. Side-effect free; safe for concurrent use.
type Policy struct {
	TLow  float64
	THigh float64
}

// Decide picks a backend for the given reading. Inside the band the
// previous decision's backend is retained; with no previous decision the
// conservative low-energy default is the light backend.
func (p Policy) Decide(reading carbon.Reading, prev *Decision) Decision {
	switch {
	case reading.Value < p.TLow:
		return Decision{Backend: BackendHeavy, Reason: ReasonBelowThreshold, Reading: reading}

	case reading.Value > p.THigh:
		return Decision{Backend: BackendLight, Reason: ReasonAboveThreshold, Reading: reading}

	default:
		backend := BackendLight
		if prev != nil {
			backend = prev.Backend
		}
		return Decision{Backend: backend, Reason: ReasonSwitchLock, Reading: reading}
	}
}
