package device

import (
	"math"
	"testing"
	"time"
)

// fakeClock advances only when told to, so the simulation can be stepped
// deterministically.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestSimulatedHeatingApproachesFinalTemperature(t *testing.T) {
	clock := newFakeClock()
	dev := NewSimulatedAt(clock.now)

	if err := dev.StartHeatingWithCurrent(20); err != nil {
		t.Fatalf("StartHeatingWithCurrent failed: %v", err)
	}

	final := dev.FinalTemperatureFromCurrent(20)
	t0 := dev.Temperature()

	// After one time constant the gap to the final temperature should have
	// shrunk to 1/e of its initial size.
	clock.advance(time.Duration(defaultTau * float64(time.Second)))
	got := dev.Temperature()
	want := t0 + (final-t0)*(1-math.Exp(-1))
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("temperature after tau = %g, want %g", got, want)
	}

	// After many time constants it should be settled.
	clock.advance(time.Duration(20 * defaultTau * float64(time.Second)))
	if got := dev.Temperature(); math.Abs(got-final) > 1e-3 {
		t.Errorf("settled temperature = %g, want %g", got, final)
	}
}

func TestSimulatedRejectsNegativeCurrent(t *testing.T) {
	dev := NewSimulated()
	err := dev.StartHeatingWithCurrent(-1)
	if _, ok := err.(*InvalidHeatingCurrentError); !ok {
		t.Fatalf("expected InvalidHeatingCurrentError, got %v", err)
	}
}

func TestSimulatedHeaterMovement(t *testing.T) {
	clock := newFakeClock()
	dev := NewSimulatedAt(clock.now)

	if err := dev.StartHeaterMovement(1.0); err != nil {
		t.Fatalf("StartHeaterMovement failed: %v", err)
	}
	if got := dev.HeaterTargetPosition(); got != 1.0 {
		t.Fatalf("target position = %g, want 1.0", got)
	}

	// At 0.1/s the heater covers half the distance in 5 seconds.
	clock.advance(5 * time.Second)
	if got := dev.HeaterPosition(); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("position after 5s = %g, want 0.5", got)
	}

	// Movement clamps at the target.
	clock.advance(time.Minute)
	if got := dev.HeaterPosition(); got != 1.0 {
		t.Errorf("position after settling = %g, want 1.0", got)
	}

	if err := dev.StartHeaterMovement(1.5); err == nil {
		t.Error("expected error for out-of-range target position")
	}
}

func TestSimulatedSpeedFactor(t *testing.T) {
	clock := newFakeClock()
	dev := NewSimulatedAt(clock.now)

	if err := dev.SetSpeedFactor(10); err != nil {
		t.Fatalf("SetSpeedFactor failed: %v", err)
	}
	if got := dev.Tau(); math.Abs(got-defaultTau/10) > 1e-9 {
		t.Errorf("tau at 10x = %g, want %g", got, defaultTau/10)
	}

	// Heater now moves 10x faster: full travel in one second.
	if err := dev.StartHeaterMovement(1.0); err != nil {
		t.Fatalf("StartHeaterMovement failed: %v", err)
	}
	clock.advance(time.Second)
	if got := dev.HeaterPosition(); got != 1.0 {
		t.Errorf("position after 1s at 10x = %g, want 1.0", got)
	}

	if err := dev.SetSpeedFactor(0); err == nil {
		t.Error("expected error for zero speed factor")
	}
}
