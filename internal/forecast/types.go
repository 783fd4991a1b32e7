package forecast

import (
	"time"
)

// Model identifies which predictor produced a response
type Model string

const (
	ModelHeavy     Model = "heavy"
	ModelLight     Model = "light"
	ModelSynthetic Model = "synthetic"
)

// Status describes the quality of a handled forecast
type Status string

const (
	// StatusOK means the chosen backend answered on the first attempt
	StatusOK Status = "ok"
	// StatusDegraded means failover to the alternate backend occurred
	StatusDegraded Status = "degraded"
	// StatusEmergency means both backends were unreachable and the
	// synthetic generator produced the result
	StatusEmergency Status = "emergency"
)

// StepInterval is the spacing between forecast points
const StepInterval = time.Hour

// Request is a forecast request, opaque to routing
type Request struct {
	Region  string        `json:"region"`
	Horizon time.Duration `json:"horizon"`
}

// Steps returns the number of points a response for this request carries
func (r Request) Steps() int {
	steps := int(r.Horizon / StepInterval)
	if steps < 1 {
		steps = 1
	}
	return steps
}

// Point is a single (timestamp, value) forecast sample
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Response is a handled forecast; never mutated after construction
type Response struct {
	Series           []Point `json:"series"`
	ModelUsed        Model   `json:"model_used"`
	CarbonAtDecision float64 `json:"carbon_at_decision"`
	Status           Status  `json:"status"`
}
