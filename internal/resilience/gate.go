// Package resilience guards Maestro's outbound dependency calls.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCoolingDown is returned while a FailureGate is refusing calls.
var ErrCoolingDown = errors.New("cooling down after repeated failures")

// FailureGate suppresses calls to a dependency that keeps failing. After
// threshold consecutive failures, further attempts are refused until cooldown
// has elapsed since the most recent failure; the next attempt is then let
// through as a probe, and its outcome either clears the gate or restarts the
// cooldown.
//
// The token provider already serializes refresh calls under its own mutex, so
// unlike a full circuit breaker there is no half-open state to arbitrate
// between concurrent probes. Each failure also pushes the window forward,
// which keeps a persistently broken identity provider at one probe per
// cooldown instead of one per threshold.
type FailureGate struct {
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	failures int
	lastFail time.Time
	clock    func() time.Time // for testing
}

// NewFailureGate creates a gate that trips after threshold consecutive
// failures and refuses calls for cooldown after each subsequent failure.
func NewFailureGate(threshold int, cooldown time.Duration) *FailureGate {
	return &FailureGate{
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// Do runs fn unless the gate is tripped and still cooling down.
func (g *FailureGate) Do(fn func() error) error {
	g.mu.Lock()
	if g.failures >= g.threshold && g.clock().Sub(g.lastFail) < g.cooldown {
		g.mu.Unlock()
		return ErrCoolingDown
	}
	g.mu.Unlock()

	err := fn()

	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		g.failures++
		g.lastFail = g.clock()
		return err
	}
	g.failures = 0
	return nil
}

// Tripped reports whether the gate is currently refusing calls.
func (g *FailureGate) Tripped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failures >= g.threshold && g.clock().Sub(g.lastFail) < g.cooldown
}
