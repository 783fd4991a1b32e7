package routing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/terminal-bench/gridcast/internal/carbon"
	"github.com/terminal-bench/gridcast/internal/routing"
)

func reading(value float64) carbon.Reading {
	return carbon.Reading{Value: value, ObservedAt: time.Now()}
}

func TestPolicyThresholds(t *testing.T) {
	policy := routing.Policy{TLow: 30, THigh: 60}

	t.Run("should choose heavy below the low threshold", func(t *testing.T) {
		decision := policy.Decide(reading(10), nil)

		assert.Equal(t, routing.BackendHeavy, decision.Backend)
		assert.Equal(t, routing.ReasonBelowThreshold, decision.Reason)
	})

	t.Run("should choose light above the high threshold", func(t *testing.T) {
		decision := policy.Decide(reading(80), nil)

		assert.Equal(t, routing.BackendLight, decision.Backend)
		assert.Equal(t, routing.ReasonAboveThreshold, decision.Reason)
	})

	t.Run("should treat the thresholds as part of the band", func(t *testing.T) {
		prev := routing.Decision{Backend: routing.BackendHeavy}

		atLow := policy.Decide(reading(30), &prev)
		atHigh := policy.Decide(reading(60), &prev)

		assert.Equal(t, routing.BackendHeavy, atLow.Backend)
		assert.Equal(t, routing.BackendHeavy, atHigh.Backend)
	})
}

func TestPolicyHysteresis(t *testing.T) {
	policy := routing.Policy{TLow: 30, THigh: 60}

	t.Run("should retain the previous backend inside the band", func(t *testing.T) {
		prevHeavy := routing.Decision{Backend: routing.BackendHeavy}
		prevLight := routing.Decision{Backend: routing.BackendLight}

		fromHeavy := policy.Decide(reading(45), &prevHeavy)
		fromLight := policy.Decide(reading(45), &prevLight)

		assert.Equal(t, routing.BackendHeavy, fromHeavy.Backend)
		assert.Equal(t, routing.BackendLight, fromLight.Backend)
		assert.Equal(t, routing.ReasonSwitchLock, fromHeavy.Reason)
	})

	t.Run("should default to light on first call inside the band", func(t *testing.T) {
		decision := policy.Decide(reading(45), nil)

		assert.Equal(t, routing.BackendLight, decision.Backend)
	})

	t.Run("should not oscillate on noisy readings around a threshold", func(t *testing.T) {
		var prev *routing.Decision

		// Dip cleanly below, then bounce around inside the band
		for _, v := range []float64{10, 31, 59, 35, 58} {
			d := policy.Decide(reading(v), prev)
			prev = &d
			assert.Equal(t, routing.BackendHeavy, d.Backend, "reading %.0f should not flip the choice", v)
		}
	})

	t.Run("should carry the reading into the decision", func(t *testing.T) {
		r := reading(10)
		decision := policy.Decide(r, nil)

		assert.Equal(t, r, decision.Reading)
	})
}

func TestBackendOther(t *testing.T) {
	t.Run("should map each backend to its alternate", func(t *testing.T) {
		assert.Equal(t, routing.BackendLight, routing.BackendHeavy.Other())
		assert.Equal(t, routing.BackendHeavy, routing.BackendLight.Other())
	})
}
