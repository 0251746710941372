package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestFailureGateTripsAfterThreshold(t *testing.T) {
	g := NewFailureGate(3, time.Minute)
	boom := errors.New("boom")

	for range 3 {
		if err := g.Do(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("expected underlying error, got %v", err)
		}
	}

	if !g.Tripped() {
		t.Fatal("expected gate tripped after threshold failures")
	}
	if err := g.Do(func() error { return nil }); !errors.Is(err, ErrCoolingDown) {
		t.Fatalf("expected cooldown refusal, got %v", err)
	}
}

func TestFailureGateProbeAfterCooldownClears(t *testing.T) {
	g := NewFailureGate(1, time.Minute)
	clock := time.Now()
	g.clock = func() time.Time { return clock }

	_ = g.Do(func() error { return errors.New("boom") })
	if err := g.Do(func() error { return nil }); !errors.Is(err, ErrCoolingDown) {
		t.Fatal("expected refusal inside cooldown")
	}

	clock = clock.Add(2 * time.Minute)
	if err := g.Do(func() error { return nil }); err != nil {
		t.Fatalf("expected probe to pass after cooldown, got %v", err)
	}
	if g.Tripped() {
		t.Fatal("expected gate cleared after successful probe")
	}
}

func TestFailureGateFailedProbeRestartsCooldown(t *testing.T) {
	g := NewFailureGate(1, time.Minute)
	clock := time.Now()
	g.clock = func() time.Time { return clock }

	_ = g.Do(func() error { return errors.New("boom") })
	clock = clock.Add(2 * time.Minute)
	_ = g.Do(func() error { return errors.New("still broken") })

	// The failed probe pushed the window forward.
	clock = clock.Add(30 * time.Second)
	if err := g.Do(func() error { return nil }); !errors.Is(err, ErrCoolingDown) {
		t.Fatal("expected refusal inside restarted cooldown")
	}
}

func TestFailureGateSuccessResetsCount(t *testing.T) {
	g := NewFailureGate(2, time.Minute)

	_ = g.Do(func() error { return errors.New("one") })
	_ = g.Do(func() error { return nil })
	_ = g.Do(func() error { return errors.New("two") })

	// Non-consecutive failures never trip the gate.
	if g.Tripped() {
		t.Fatal("expected gate untripped after interleaved success")
	}
	if err := g.Do(func() error { return nil }); err != nil {
		t.Fatalf("expected call to pass, got %v", err)
	}
}
