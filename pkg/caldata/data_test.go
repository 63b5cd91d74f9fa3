package caldata

import (
	"math"
	"testing"

	"github.com/fibercal/fibercal/pkg/events"
)

// quadratic used to generate consistent synthetic measurements: temperature
// grows quadratically with current, voltage linearly with temperature.
func syntheticMeasurement(current float64) (voltage, temperature float64) {
	temperature = 2*current*current + 30
	voltage = 0.004 * temperature
	return
}

func addSynthetic(d *Data, currents ...float64) {
	for _, c := range currents {
		v, temp := syntheticMeasurement(c)
		d.AddMeasurement(c, v, temp)
	}
}

func TestDataIncompleteBeforeThreshold(t *testing.T) {
	d := New()
	addSynthetic(d, 4, 8, 12, 16)

	if d.IsComplete() {
		t.Fatal("data complete with 4 measurements, want incomplete")
	}
	if _, err := d.FinalTemperatureFromCurrent(10); err != ErrNotCalibrated {
		t.Errorf("FinalTemperatureFromCurrent error = %v, want ErrNotCalibrated", err)
	}
	if _, err := d.CurrentFromTargetTemperature(500); err != ErrNotCalibrated {
		t.Errorf("CurrentFromTargetTemperature error = %v, want ErrNotCalibrated", err)
	}
	if _, err := d.TemperatureFromVoltage(2); err != ErrNotCalibrated {
		t.Errorf("TemperatureFromVoltage error = %v, want ErrNotCalibrated", err)
	}
}

func TestDataEstimationFunctions(t *testing.T) {
	d := New()
	addSynthetic(d, 4, 8, 12, 16, 20, 24)

	if !d.IsComplete() {
		t.Fatal("data incomplete with 6 measurements, want complete")
	}

	// The degree-4 fit reproduces the quadratic generator on the sampled
	// range.
	wantV, wantT := syntheticMeasurement(10)
	gotT, err := d.FinalTemperatureFromCurrent(10)
	if err != nil {
		t.Fatalf("FinalTemperatureFromCurrent failed: %v", err)
	}
	if math.Abs(gotT-wantT) > 1e-6 {
		t.Errorf("FinalTemperatureFromCurrent(10) = %g, want %g", gotT, wantT)
	}

	gotT, err = d.TemperatureFromVoltage(wantV)
	if err != nil {
		t.Fatalf("TemperatureFromVoltage failed: %v", err)
	}
	if math.Abs(gotT-wantT) > 1e-6 {
		t.Errorf("TemperatureFromVoltage(%g) = %g, want %g", wantV, gotT, wantT)
	}

	gotC, err := d.CurrentFromTargetTemperature(wantT)
	if err != nil {
		t.Fatalf("CurrentFromTargetTemperature failed: %v", err)
	}
	if math.Abs(gotC-10) > 0.1 {
		t.Errorf("CurrentFromTargetTemperature(%g) = %g, want ~10", wantT, gotC)
	}
}

func TestRemoveMeasurement(t *testing.T) {
	d := New()
	addSynthetic(d, 4, 8, 12, 16, 20)

	if !d.IsComplete() {
		t.Fatal("data incomplete with 5 measurements, want complete")
	}

	v, temp := syntheticMeasurement(12)
	d.RemoveMeasurement(Measurement{HeatingCurrent: 12, SensorVoltage: v, Temperature: temp})

	if d.Len() != 4 {
		t.Fatalf("got %d measurements after removal, want 4", d.Len())
	}
	if d.IsComplete() {
		t.Error("data still complete after dropping below threshold")
	}

	// Removing a measurement that is not present changes nothing.
	d.RemoveMeasurement(Measurement{HeatingCurrent: 99})
	if d.Len() != 4 {
		t.Errorf("got %d measurements after no-op removal, want 4", d.Len())
	}
}

func TestMeasurementsKeepInsertionOrder(t *testing.T) {
	d := New()
	addSynthetic(d, 16, 4, 12)

	got := d.Measurements()
	want := []float64{16, 4, 12}
	if len(got) != len(want) {
		t.Fatalf("got %d measurements, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].HeatingCurrent != want[i] {
			t.Errorf("measurement %d current = %g, want %g", i, got[i].HeatingCurrent, want[i])
		}
	}
}

func TestAttachedDataPublishesChanges(t *testing.T) {
	bus := events.NewBus()
	d := New()
	owner := struct{ name string }{name: "system"}
	d.Attach(bus, owner)

	var got []events.Event
	bus.Subscribe(func(e events.Event) { got = append(got, e) })

	addSynthetic(d, 4)
	v, temp := syntheticMeasurement(4)
	d.RemoveMeasurement(Measurement{HeatingCurrent: 4, SensorVoltage: v, Temperature: temp})

	// A missing measurement does not generate an event.
	d.RemoveMeasurement(Measurement{HeatingCurrent: 4, SensorVoltage: v, Temperature: temp})

	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	for i, e := range got {
		ch, ok := e.(Changed)
		if !ok {
			t.Fatalf("event %d is %T, want Changed", i, e)
		}
		if ch.Data != d {
			t.Errorf("event %d carries wrong dataset", i)
		}
		if ch.System != owner {
			t.Errorf("event %d carries wrong system", i)
		}
	}
}
