package failover

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/terminal-bench/gridcast/internal/forecast"
	"github.com/terminal-bench/gridcast/internal/routing"
	"github.com/terminal-bench/gridcast/pkg/circuit"
)

// BackendCaller performs one bounded attempt against a backend
type BackendCaller interface {
	Invoke(ctx context.Context, backend routing.Backend, req forecast.Request) (*forecast.Response, error)
}

// FallbackGenerator produces the emergency response
type FallbackGenerator interface {
	Generate(req forecast.Request) *forecast.Response
}

// Config holds failover controller configuration
type Config struct {
	FailureThreshold int
	Cooldown         time.Duration
	OnCircuitChange  func(backend string, from, to circuit.State)
}

// Controller orchestrates primary-then-secondary attempts with a circuit
// breaker per backend. Availability outranks energy optimality: the
// alternate backend is always on the attempt list, whatever the policy
// chose.
type Controller struct {
	caller   BackendCaller
	breakers *circuit.Group
	fallback FallbackGenerator
}

// NewController creates a new failover controller
func NewController(cfg Config, caller BackendCaller, fallback FallbackGenerator) *Controller {
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 10 * time.Second
	}

	breakers := circuit.NewGroup(circuit.Config{
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cooldown,
		OnStateChange:    cfg.OnCircuitChange,
	})

	// Materialize both breakers up front so status reporting sees them
	// before any traffic
	breakers.Get(string(routing.BackendHeavy))
	breakers.Get(string(routing.BackendLight))

	return &Controller{
		caller:   caller,
		breakers: breakers,
		fallback: fallback,
	}
}

// Handle serves one forecast request under the given routing decision.
// It never returns an error: when both backends fail or are skipped, the
// emergency generator supplies the response.
func (c *Controller) Handle(ctx context.Context, req forecast.Request, decision routing.Decision) *forecast.Response {
	attempts := []routing.Backend{decision.Backend, decision.Backend.Other()}

	for i, backend := range attempts {
		breaker := c.breakers.Get(string(backend))

		if !breaker.Allow() {
			log.Printf("circuit open for %s backend, skipping attempt", backend)
			continue
		}

		resp, err := c.caller.Invoke(ctx, backend, req)
		if err != nil {
			// An attempt abandoned by the caller says nothing about the
			// backend; release the breaker untouched and stop serving a
			// request nobody is waiting for.
			if errors.Is(err, context.Canceled) {
				breaker.Abandon()
				log.Printf("caller cancelled during %s backend attempt", backend)
				resp := c.fallback.Generate(req)
				resp.CarbonAtDecision = decision.Reading.Value
				return resp
			}

			breaker.RecordFailure()
			log.Printf("%s backend attempt failed: %v", backend, err)
			continue
		}

		breaker.RecordSuccess()

		resp.ModelUsed = modelFor(backend)
		resp.CarbonAtDecision = decision.Reading.Value
		if i == 0 {
			resp.Status = forecast.StatusOK
		} else {
			resp.Status = forecast.StatusDegraded
		}
		return resp
	}

	log.Printf("all backends unavailable, generating emergency forecast")
	resp := c.fallback.Generate(req)
	resp.CarbonAtDecision = decision.Reading.Value
	return resp
}

// ResetCircuit resets the named backend's breaker to closed
func (c *Controller) ResetCircuit(backend routing.Backend) {
	c.breakers.Get(string(backend)).Reset()
}

// CircuitSnapshots returns the current state of every breaker
func (c *Controller) CircuitSnapshots() []circuit.Snapshot {
	return c.breakers.Snapshots()
}

func modelFor(backend routing.Backend) forecast.Model {
	if backend == routing.BackendHeavy {
		return forecast.ModelHeavy
	}
	return forecast.ModelLight
}
