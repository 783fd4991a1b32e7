package lifecycle

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/terminal-bench/gridcast/internal/routing"
	"github.com/terminal-bench/gridcast/internal/scale"
)

// State is the heavy backend's lifecycle state
type State string

const (
	StateRunning     State = "running"
	StateScalingDown State = "scaling_down"
	StateStopped     State = "stopped"
	StateScalingUp   State = "scaling_up"
)

// Config holds lifecycle manager configuration
type Config struct {
	// BackendID names the heavy backend for the scale agent
	BackendID string
	// ScaleDownAfter is how many consecutive light decisions must be seen
	// before the heavy backend is stopped. Debounces flapping readings on
	// top of the policy's hysteresis.
	ScaleDownAfter int
	// RetryBackoff is the base delay between scale-call retries
	RetryBackoff time.Duration
	// MaxRetries bounds scale-call attempts before giving up
	MaxRetries int
	// OnTransition is notified of every state change
	OnTransition func(from, to State)
}

// Manager tracks and drives the heavy backend's running/stopped state from
// the stream of routing decisions. Scale calls are fire-and-forget from the
// request path's perspective: they run on their own goroutine, are retried
// with backoff, and never fail an in-flight forecast.
type Manager struct {
	cfg    Config
	scaler scale.Controller

	mu             sync.Mutex
	state          State
	lastTransition time.Time
	lightStreak    int

	// transitions funnel through one dispatcher so observers see them in
	// the order they happened
	notifyCh chan transition

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type transition struct {
	from, to State
}

// NewManager creates a new lifecycle manager. The heavy backend is assumed
// running at startup; state is not persisted across restarts.
func NewManager(cfg Config, scaler scale.Controller) *Manager {
	if cfg.ScaleDownAfter <= 0 {
		cfg.ScaleDownAfter = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackendID == "" {
		cfg.BackendID = string(routing.BackendHeavy)
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:            cfg,
		scaler:         scaler,
		state:          StateRunning,
		lastTransition: time.Now(),
		ctx:            ctx,
		cancel:         cancel,
	}

	if cfg.OnTransition != nil {
		m.notifyCh = make(chan transition, 16)
		m.wg.Add(1)
		go m.notifyLoop()
	}

	return m
}

func (m *Manager) notifyLoop() {
	defer m.wg.Done()

	for {
		select {
		case t := <-m.notifyCh:
			m.cfg.OnTransition(t.from, t.to)
		case <-m.ctx.Done():
			// Deliver what was already queued before shutting down
			for {
				select {
				case t := <-m.notifyCh:
					m.cfg.OnTransition(t.from, t.to)
				default:
					return
				}
			}
		}
	}
}

// Observe feeds one routing decision into the state machine.
//
// Running --(ScaleDownAfter consecutive light decisions)--> ScalingDown --> Stopped
// Stopped --(one heavy decision)--> ScalingUp --> Running
//
// Scale-up is immediate: availability wins over strict cost minimization
// on recovery.
func (m *Manager) Observe(backend routing.Backend) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if backend == routing.BackendLight {
		m.lightStreak++
		if m.state == StateRunning && m.lightStreak >= m.cfg.ScaleDownAfter {
			m.transitionLocked(StateScalingDown)
			m.startScale(0, StateStopped, StateRunning)
		}
		return
	}

	m.lightStreak = 0
	if m.state == StateStopped {
		m.transitionLocked(StateScalingUp)
		m.startScale(1, StateRunning, StateStopped)
	}
}

// startScale launches the asynchronous scale call; callers hold m.mu
func (m *Manager) startScale(replicas int, onSuccess, onFailure State) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		backoff := m.cfg.RetryBackoff
		for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
			err := m.scaler.SetReplicas(m.ctx, m.cfg.BackendID, replicas)
			if err == nil {
				m.mu.Lock()
				m.transitionLocked(onSuccess)
				m.mu.Unlock()
				log.Printf("scaled %s to %d replicas", m.cfg.BackendID, replicas)
				return
			}

			log.Printf("scale %s to %d failed (attempt %d/%d): %v",
				m.cfg.BackendID, replicas, attempt, m.cfg.MaxRetries, err)

			select {
			case <-m.ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		// Give up and revert so a later decision can retrigger
		m.mu.Lock()
		m.transitionLocked(onFailure)
		m.mu.Unlock()
	}()
}

// transitionLocked moves to a new state; callers hold m.mu
func (m *Manager) transitionLocked(to State) {
	from := m.state
	if from == to {
		return
	}

	m.state = to
	m.lastTransition = time.Now()

	if m.notifyCh != nil {
		select {
		case m.notifyCh <- transition{from: from, to: to}:
		default:
			log.Printf("dropping lifecycle notification %s -> %s, observer too slow", from, to)
		}
	}
}

// Snapshot is a point-in-time view of the lifecycle state
type Snapshot struct {
	BackendID        string    `json:"backend_id"`
	State            State     `json:"state"`
	LastTransitionAt time.Time `json:"last_transition_at"`
	LightStreak      int       `json:"light_streak"`
}

// Snapshot returns the current lifecycle state for status reporting
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		BackendID:        m.cfg.BackendID,
		State:            m.state,
		LastTransitionAt: m.lastTransition,
		LightStreak:      m.lightStreak,
	}
}

// State returns the current state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stop cancels in-flight scale calls and waits for them to finish
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}
