package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMissingFileUsesDefaults(t *testing.T) {
	f, err := NewFile(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}

	if f.MaxHeatingCurrent() != 28.0 {
		t.Errorf("max heating current = %g, want 28", f.MaxHeatingCurrent())
	}
	if f.MaxSafeTemperatureSensorVoltage() != 6.7 {
		t.Errorf("max safe voltage = %g, want 6.7", f.MaxSafeTemperatureSensorVoltage())
	}
	if f.Simulation() {
		t.Error("simulation defaults to true, want false")
	}
	if len(f.CalibrationCurrents()) != 12 {
		t.Errorf("got %d default calibration currents, want 12", len(f.CalibrationCurrents()))
	}
	if f.CalibrationSchedule() != "" {
		t.Errorf("default schedule = %q, want empty", f.CalibrationSchedule())
	}
}

func TestPartialFileFallsBackPerKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{"maxHeatingCurrent": 20, "simulation": true}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}
	if f.MaxHeatingCurrent() != 20 {
		t.Errorf("max heating current = %g, want 20", f.MaxHeatingCurrent())
	}
	if !f.Simulation() {
		t.Error("simulation = false, want true")
	}
	// Unset keys keep their defaults.
	if f.MaxSafeTemperature() != 1700 {
		t.Errorf("max safe temperature = %g, want default 1700", f.MaxSafeTemperature())
	}
}

func TestConfigInterfaceExposesLogrusFields(t *testing.T) {
	f, err := NewFile(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}

	// The daemon logs the loaded config through the interface, not *File.
	var c Config = f
	fields := c.LogrusFields()
	if fields["maxHeatingCurrent"] != 28.0 {
		t.Errorf("maxHeatingCurrent field = %v, want 28", fields["maxHeatingCurrent"])
	}
	if fields["simulation"] != false {
		t.Errorf("simulation field = %v, want false", fields["simulation"])
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	f, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile failed: %v", err)
	}
	f.SetMaxHeatingCurrent(24)
	f.SetCalibrationCurrents([]float64{10, 20})
	f.SetCalibrationSchedule("0 3 * * 0")
	if err := f.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	g, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile after save failed: %v", err)
	}
	if g.MaxHeatingCurrent() != 24 {
		t.Errorf("max heating current = %g, want 24", g.MaxHeatingCurrent())
	}
	if got := g.CalibrationCurrents(); len(got) != 2 || got[0] != 10 || got[1] != 20 {
		t.Errorf("calibration currents = %v, want [10 20]", got)
	}
	if g.CalibrationSchedule() != "0 3 * * 0" {
		t.Errorf("schedule = %q", g.CalibrationSchedule())
	}
}

func TestEmptyFileIsValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("  \n"), 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile on empty file failed: %v", err)
	}
	if f.MaxHeatingCurrent() != 28 {
		t.Errorf("max heating current = %g, want default", f.MaxHeatingCurrent())
	}
}
