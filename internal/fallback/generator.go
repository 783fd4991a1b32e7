package fallback

import (
	"time"

	"github.com/terminal-bench/gridcast/internal/forecast"
)

// Generator is the emergency fallback: a deterministic synthetic forecast
// used only when every real backend is unreachable. It performs no I/O and
// never fails; nothing external may sit on the last line of defense.
type Generator struct {
	// ConstantValue is the flat value emitted for every point. Zero by
	// default; operators may configure a historical-average constant.
	// It is never derived from any live model.
	ConstantValue float64
}

// NewGenerator creates a new emergency generator
func NewGenerator(constantValue float64) *Generator {
	return &Generator{ConstantValue: constantValue}
}

// Generate produces a constant series covering the requested horizon,
// always tagged as an emergency result
func (g *Generator) Generate(req forecast.Request) *forecast.Response {
	steps := req.Steps()
	start := time.Now().Truncate(forecast.StepInterval)

	series := make([]forecast.Point, steps)
	for i := 0; i < steps; i++ {
		series[i] = forecast.Point{
			Timestamp: start.Add(time.Duration(i+1) * forecast.StepInterval),
			Value:     g.ConstantValue,
		}
	}

	return &forecast.Response{
		Series:    series,
		ModelUsed: forecast.ModelSynthetic,
		Status:    forecast.StatusEmergency,
	}
}
