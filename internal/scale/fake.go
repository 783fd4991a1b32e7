package scale

import (
	"context"
	"sync"
)

// Call records one SetReplicas invocation
type Call struct {
	BackendID string
	Count     int
}

// Fake is an in-memory Controller for tests and local development
type Fake struct {
	mu    sync.Mutex
	calls []Call

	// FailFirst makes the first N calls fail with ErrScaleControl
	FailFirst int
	failed    int
}

// SetReplicas records the call
func (f *Fake) SetReplicas(ctx context.Context, backendID string, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failed < f.FailFirst {
		f.failed++
		return ErrScaleControl
	}

	f.calls = append(f.calls, Call{BackendID: backendID, Count: count})
	return nil
}

// Calls returns a copy of the recorded calls
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}
