package system

import (
	"testing"

	"github.com/fibercal/fibercal/pkg/caldata"
	"github.com/fibercal/fibercal/pkg/calibration"
	"github.com/fibercal/fibercal/pkg/events"
)

func TestMagicCalibration(t *testing.T) {
	s := newTestSystem(t, nil)

	if s.IsCalibrated() {
		t.Fatal("fresh system reports itself calibrated")
	}
	if _, err := s.Temperature(); err != caldata.ErrNotCalibrated {
		t.Fatalf("Temperature on uncalibrated system = %v, want ErrNotCalibrated", err)
	}

	if err := s.PerformMagicCalibration(); err != nil {
		t.Fatalf("PerformMagicCalibration failed: %v", err)
	}
	if !s.IsCalibrated() {
		t.Fatal("system not calibrated after magic calibration")
	}

	// Measurements start at the idle current and rise in 2 mA steps.
	measurements := s.CalibrationData().Measurements()
	if len(measurements) < caldata.DefaultMinMeasurements {
		t.Fatalf("magic calibration produced %d measurements", len(measurements))
	}
	for i, m := range measurements {
		want := DefaultHeatingCurrentWhileIdle + 2.0*float64(i)
		if m.HeatingCurrent != want {
			t.Errorf("measurement %d current = %g, want %g", i, m.HeatingCurrent, want)
		}
		if m.SensorVoltage > DefaultMaxSafeTemperatureSensorVoltage {
			t.Errorf("measurement %d voltage %g exceeds the safety limit", i, m.SensorVoltage)
		}
	}

	if _, err := s.Temperature(); err != nil {
		t.Errorf("Temperature on calibrated system failed: %v", err)
	}
}

func TestStartHeatingToTemperature(t *testing.T) {
	s := newTestSystem(t, nil)

	if err := s.StartHeatingToTemperature(600, ""); err != caldata.ErrNotCalibrated {
		t.Fatalf("heating to temperature uncalibrated = %v, want ErrNotCalibrated", err)
	}

	if err := s.PerformMagicCalibration(); err != nil {
		t.Fatalf("PerformMagicCalibration failed: %v", err)
	}

	min, err := s.MinTargetTemperature()
	if err != nil {
		t.Fatalf("MinTargetTemperature failed: %v", err)
	}
	max, err := s.MaxTargetTemperature()
	if err != nil {
		t.Fatalf("MaxTargetTemperature failed: %v", err)
	}
	if min >= max {
		t.Fatalf("target range [%g, %g] is empty", min, max)
	}

	target := (min + max) / 2
	if err := s.StartHeatingToTemperature(target, ""); err != nil {
		t.Fatalf("StartHeatingToTemperature(%g) failed: %v", target, err)
	}
	got, ok := s.TargetTemperature()
	if !ok || got != target {
		t.Errorf("target temperature = (%g, %v), want (%g, true)", got, ok, target)
	}
	if s.HeatingCurrent() > s.MaxHeatingCurrent() {
		t.Errorf("heating current %g exceeds the maximum", s.HeatingCurrent())
	}

	// Out of range targets are rejected.
	err = s.StartHeatingToTemperature(max+500, "")
	if _, ok := err.(*InvalidTargetTemperatureError); !ok {
		t.Errorf("out-of-range target error = %v, want InvalidTargetTemperatureError", err)
	}

	// A plain current command clears the target.
	if err := s.StartHeatingWithCurrent(10, ""); err != nil {
		t.Fatalf("heating failed: %v", err)
	}
	if _, ok := s.TargetTemperature(); ok {
		t.Error("target temperature survived a current command")
	}
}

func TestStartCalibrationRequiresUnlockedSystem(t *testing.T) {
	s := newTestSystem(t, nil)

	key, err := s.Lock()
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if _, err := s.StartCalibration([]float64{10, 20}); err != ErrSystemLocked {
		t.Errorf("StartCalibration on locked system = %v, want ErrSystemLocked", err)
	}
	if err := s.Unlock(key); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
}

// A procedure with no currents ends immediately with StatusFinished and
// leaves the system unlocked and idle.
func TestStartCalibrationWithNoCurrents(t *testing.T) {
	s := newTestSystem(t, nil)

	var over *calibration.CalibrationOver
	s.Bus().Subscribe(func(e events.Event) {
		if o, ok := e.(calibration.CalibrationOver); ok {
			over = &o
		}
	})

	m, err := s.StartCalibration(nil)
	if err != nil {
		t.Fatalf("StartCalibration failed: %v", err)
	}
	<-m.Done()

	if over == nil {
		t.Fatal("no CalibrationOver event published")
	}
	if over.Status != calibration.StatusFinished {
		t.Errorf("status = %v, want finished", over.Status)
	}
	if s.IsBeingCalibrated() {
		t.Error("system still reports a running calibration")
	}
	if s.IsLocked() {
		t.Error("system still locked")
	}
	if s.HeatingCurrent() != DefaultHeatingCurrentWhileIdle {
		t.Errorf("heating current = %g, want idle current", s.HeatingCurrent())
	}

	// Aborting with nothing running is a no-op.
	s.AbortCalibration()
}
