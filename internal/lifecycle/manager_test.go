package lifecycle_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/gridcast/internal/lifecycle"
	"github.com/terminal-bench/gridcast/internal/routing"
	"github.com/terminal-bench/gridcast/internal/scale"
)

func newManager(fake *scale.Fake, scaleDownAfter int) *lifecycle.Manager {
	return lifecycle.NewManager(lifecycle.Config{
		BackendID:      "heavy",
		ScaleDownAfter: scaleDownAfter,
		RetryBackoff:   10 * time.Millisecond,
		MaxRetries:     3,
	}, fake)
}

func observeLight(m *lifecycle.Manager, times int) {
	for i := 0; i < times; i++ {
		m.Observe(routing.BackendLight)
	}
}

func TestScaleDown(t *testing.T) {
	t.Run("should stop the heavy backend after sustained light decisions", func(t *testing.T) {
		fake := &scale.Fake{}
		m := newManager(fake, 3)
		defer m.Stop()

		observeLight(m, 3)

		assert.Eventually(t, func() bool {
			return m.State() == lifecycle.StateStopped
		}, time.Second, 10*time.Millisecond)

		calls := fake.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, scale.Call{BackendID: "heavy", Count: 0}, calls[0])
	})

	t.Run("should not stop before the streak completes", func(t *testing.T) {
		fake := &scale.Fake{}
		m := newManager(fake, 3)
		defer m.Stop()

		observeLight(m, 2)

		assert.Equal(t, lifecycle.StateRunning, m.State())
		assert.Empty(t, fake.Calls())
	})

	t.Run("should reset the streak on an interleaved heavy decision", func(t *testing.T) {
		fake := &scale.Fake{}
		m := newManager(fake, 3)
		defer m.Stop()

		observeLight(m, 2)
		m.Observe(routing.BackendHeavy)
		observeLight(m, 2)

		assert.Equal(t, lifecycle.StateRunning, m.State())
		assert.Empty(t, fake.Calls())
	})

	t.Run("should issue exactly one scale call per transition", func(t *testing.T) {
		fake := &scale.Fake{}
		m := newManager(fake, 3)
		defer m.Stop()

		// Extra light decisions past the threshold must not pile up calls
		observeLight(m, 8)

		assert.Eventually(t, func() bool {
			return m.State() == lifecycle.StateStopped
		}, time.Second, 10*time.Millisecond)

		assert.Len(t, fake.Calls(), 1)
	})
}

func TestScaleUp(t *testing.T) {
	t.Run("should restart the heavy backend on the first heavy decision", func(t *testing.T) {
		fake := &scale.Fake{}
		m := newManager(fake, 2)
		defer m.Stop()

		observeLight(m, 2)
		require.Eventually(t, func() bool {
			return m.State() == lifecycle.StateStopped
		}, time.Second, 10*time.Millisecond)

		m.Observe(routing.BackendHeavy)

		assert.Eventually(t, func() bool {
			return m.State() == lifecycle.StateRunning
		}, time.Second, 10*time.Millisecond)

		calls := fake.Calls()
		require.Len(t, calls, 2)
		assert.Equal(t, scale.Call{BackendID: "heavy", Count: 1}, calls[1])
	})

	t.Run("should ignore heavy decisions while already running", func(t *testing.T) {
		fake := &scale.Fake{}
		m := newManager(fake, 3)
		defer m.Stop()

		m.Observe(routing.BackendHeavy)
		m.Observe(routing.BackendHeavy)

		assert.Equal(t, lifecycle.StateRunning, m.State())
		assert.Empty(t, fake.Calls())
	})
}

func TestScaleRetries(t *testing.T) {
	t.Run("should retry failed scale calls with backoff", func(t *testing.T) {
		fake := &scale.Fake{FailFirst: 2}
		m := newManager(fake, 2)
		defer m.Stop()

		observeLight(m, 2)

		assert.Eventually(t, func() bool {
			return m.State() == lifecycle.StateStopped
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("should revert state when every attempt fails", func(t *testing.T) {
		fake := &scale.Fake{FailFirst: 10}
		m := newManager(fake, 2)
		defer m.Stop()

		observeLight(m, 2)

		assert.Equal(t, lifecycle.StateScalingDown, m.State())
		assert.Eventually(t, func() bool {
			return m.State() == lifecycle.StateRunning
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestTransitions(t *testing.T) {
	t.Run("should notify the transition callback", func(t *testing.T) {
		transitions := make(chan lifecycle.State, 8)
		m := lifecycle.NewManager(lifecycle.Config{
			BackendID:      "heavy",
			ScaleDownAfter: 2,
			RetryBackoff:   10 * time.Millisecond,
			OnTransition: func(from, to lifecycle.State) {
				transitions <- to
			},
		}, &scale.Fake{})
		defer m.Stop()

		observeLight(m, 2)

		seen := make([]lifecycle.State, 0, 2)
		for len(seen) < 2 {
			select {
			case s := <-transitions:
				seen = append(seen, s)
			case <-time.After(time.Second):
				t.Fatalf("timed out waiting for transitions, saw %v", seen)
			}
		}

		assert.Equal(t, []lifecycle.State{lifecycle.StateScalingDown, lifecycle.StateStopped}, seen)
	})

	t.Run("should deliver transitions in the order they happened", func(t *testing.T) {
		transitions := make(chan lifecycle.State, 16)
		m := lifecycle.NewManager(lifecycle.Config{
			BackendID:      "heavy",
			ScaleDownAfter: 2,
			RetryBackoff:   10 * time.Millisecond,
			OnTransition: func(from, to lifecycle.State) {
				transitions <- to
			},
		}, &scale.Fake{})
		defer m.Stop()

		observeLight(m, 2)
		require.Eventually(t, func() bool {
			return m.State() == lifecycle.StateStopped
		}, time.Second, 10*time.Millisecond)

		m.Observe(routing.BackendHeavy)
		require.Eventually(t, func() bool {
			return m.State() == lifecycle.StateRunning
		}, time.Second, 10*time.Millisecond)

		seen := make([]lifecycle.State, 0, 4)
		for len(seen) < 4 {
			select {
			case s := <-transitions:
				seen = append(seen, s)
			case <-time.After(time.Second):
				t.Fatalf("timed out waiting for transitions, saw %v", seen)
			}
		}

		assert.Equal(t, []lifecycle.State{
			lifecycle.StateScalingDown,
			lifecycle.StateStopped,
			lifecycle.StateScalingUp,
			lifecycle.StateRunning,
		}, seen)
	})

	t.Run("should expose a consistent snapshot", func(t *testing.T) {
		m := newManager(&scale.Fake{}, 5)
		defer m.Stop()

		observeLight(m, 2)

		snap := m.Snapshot()
		assert.Equal(t, "heavy", snap.BackendID)
		assert.Equal(t, lifecycle.StateRunning, snap.State)
		assert.Equal(t, 2, snap.LightStreak)
	})
}

func TestFullCycle(t *testing.T) {
	t.Run("should scale down and back up across a demand swing", func(t *testing.T) {
		fake := &scale.Fake{}
		m := newManager(fake, 3)
		defer m.Stop()

		// High-carbon stretch routes light until the backend stops
		observeLight(m, 3)
		require.Eventually(t, func() bool {
			return m.State() == lifecycle.StateStopped
		}, time.Second, 10*time.Millisecond)

		// Carbon drops, heavy decision restarts it
		m.Observe(routing.BackendHeavy)
		require.Eventually(t, func() bool {
			return m.State() == lifecycle.StateRunning
		}, time.Second, 10*time.Millisecond)

		calls := fake.Calls()
		require.Len(t, calls, 2)
		assert.Equal(t, 0, calls[0].Count)
		assert.Equal(t, 1, calls[1].Count)
	})
}
