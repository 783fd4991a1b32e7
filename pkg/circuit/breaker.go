package circuit

import (
	"errors"
	"sync"
	"time"
)

// State represents circuit breaker state
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker implements the circuit breaker pattern for a single backend.
// All transitions are serialized under one mutex so concurrent requests
// observe a total order of state changes.
type Breaker struct {
	name             string
	failureThreshold int
	cooldown         time.Duration

	mu            sync.Mutex
	state         State
	failures      int
	openedAt      time.Time
	probeInFlight bool

	onStateChange func(name string, from, to State)

	// overridable in tests
	now func() time.Time
}

// Config holds circuit breaker configuration
type Config struct {
	Name             string
	FailureThreshold int
	Cooldown         time.Duration
	OnStateChange    func(name string, from, to State)
}

// NewBreaker creates a new circuit breaker
func NewBreaker(cfg Config) *Breaker {
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 3
	}

	return &Breaker{
		name:             cfg.Name,
		failureThreshold: threshold,
		cooldown:         cfg.Cooldown,
		state:            StateClosed,
		onStateChange:    cfg.OnStateChange,
		now:              time.Now,
	}
}

// Allow reports whether a request may be attempted. While open it fails
// fast until the cooldown elapses; after that exactly one probe is let
// through (half-open) until its outcome is recorded.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.transitionTo(StateHalfOpen)
		b.probeInFlight = true
		return true

	case StateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true

	default:
		return false
	}
}

// RecordSuccess records a successful attempt
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probeInFlight = false
	b.transitionTo(StateClosed)
}

// RecordFailure records a failed attempt. Crossing the failure threshold,
// or failing the half-open probe, opens the circuit.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.probeInFlight = false

	if b.state == StateHalfOpen || b.failures >= b.failureThreshold {
		b.openedAt = b.now()
		b.transitionTo(StateOpen)
	}
}

// Abandon releases an in-flight half-open probe without recording an
// outcome. Used when an attempt was cancelled by the caller rather than
// completed by the backend; the next caller gets a fresh probe.
func (b *Breaker) Abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeInFlight = false
}

// Execute runs fn with circuit breaker protection
func (b *Breaker) Execute(fn func() error) error {
	if !b.Allow() {
		return ErrCircuitOpen
	}

	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}

	b.RecordSuccess()
	return nil
}

// transitionTo transitions to a new state; callers hold b.mu
func (b *Breaker) transitionTo(newState State) {
	oldState := b.state
	if oldState == newState {
		return
	}

	b.state = newState

	if b.onStateChange != nil {
		b.onStateChange(b.name, oldState, newState)
	}
}

// State returns current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ConsecutiveFailures returns the current consecutive failure count
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset resets the circuit breaker to closed state
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probeInFlight = false
	b.openedAt = time.Time{}
	b.transitionTo(StateClosed)
}

// Snapshot is a point-in-time view of a breaker
type Snapshot struct {
	Name                string     `json:"name"`
	State               string     `json:"state"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	OpenedAt            *time.Time `json:"opened_at,omitempty"`
}

// Snapshot returns the breaker's current state for status reporting
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := Snapshot{
		Name:                b.name,
		State:               b.state.String(),
		ConsecutiveFailures: b.failures,
	}
	if !b.openedAt.IsZero() {
		openedAt := b.openedAt
		snap.OpenedAt = &openedAt
	}
	return snap
}

// Group manages one breaker per backend name
type Group struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

// NewGroup creates a new breaker group
func NewGroup(defaultConfig Config) *Group {
	return &Group{
		breakers: make(map[string]*Breaker),
		config:   defaultConfig,
	}
}

// Get returns or creates the circuit breaker for the given name
func (g *Group) Get(name string) *Breaker {
	g.mu.RLock()
	b, exists := g.breakers[name]
	g.mu.RUnlock()

	if exists {
		return b
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Double-check
	if b, exists = g.breakers[name]; exists {
		return b
	}

	cfg := g.config
	cfg.Name = name
	b = NewBreaker(cfg)
	g.breakers[name] = b

	return b
}

// Snapshots returns the state of every breaker in the group
func (g *Group) Snapshots() []Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(g.breakers))
	for _, b := range g.breakers {
		snaps = append(snaps, b.Snapshot())
	}
	return snaps
}
