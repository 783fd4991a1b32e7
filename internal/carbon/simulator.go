package carbon

import (
	"math/rand"
	"sync"
	"time"
)

// Simulator modes
const (
	ModeAuto = "auto"
	ModeLow  = "low"
	ModeHigh = "high"
)

// Simulator produces a stand-in grid carbon-intensity signal as a bounded
// random walk. Low and high modes pin the signal into the clean or dirty
// range for demos and integration tests.
type Simulator struct {
	mu    sync.Mutex
	value float64
	mode  string
	rng   *rand.Rand
}

// SimulatorConfig holds simulator configuration
type SimulatorConfig struct {
	Initial float64
	Mode    string
	Seed    int64
}

const (
	simMin    = 5.0
	simMax    = 95.0
	simStep   = 8.0
	lowCeil   = 25.0
	highFloor = 65.0
)

// NewSimulator creates a new carbon signal simulator
func NewSimulator(cfg SimulatorConfig) *Simulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	mode := cfg.Mode
	if mode == "" {
		mode = ModeAuto
	}

	initial := cfg.Initial
	if initial == 0 {
		initial = 45.0
	}

	return &Simulator{
		value: initial,
		mode:  mode,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// SetMode switches the simulator mode
func (s *Simulator) SetMode(mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

// Mode returns the current mode
func (s *Simulator) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Next advances the walk and returns the next reading
func (s *Simulator) Next() Reading {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.value += (s.rng.Float64()*2 - 1) * simStep

	lo, hi := simMin, simMax
	switch s.mode {
	case ModeLow:
		hi = lowCeil
	case ModeHigh:
		lo = highFloor
	}

	if s.value < lo {
		s.value = lo
	}
	if s.value > hi {
		s.value = hi
	}

	return Reading{Value: s.value, ObservedAt: time.Now()}
}
