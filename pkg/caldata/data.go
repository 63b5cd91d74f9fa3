// Package caldata holds the measurements collected during a calibration
// procedure and derives the three estimation functions that link heating
// current, temperature sensor voltage, and heating temperature. It also
// implements the .cal XML persistence format.
package caldata

import (
	"errors"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/fibercal/fibercal/pkg/events"
)

// ErrNotCalibrated is returned when an estimation function is used before
// enough measurements have been collected to fit it.
var ErrNotCalibrated = errors.New("the device is not calibrated")

const (
	// DefaultPolynomialDegree is the degree of the polynomials that make up
	// the estimation functions.
	DefaultPolynomialDegree = 4

	// DefaultMinMeasurements is the number of measurements required before
	// the estimation functions are fitted.
	DefaultMinMeasurements = 5
)

// Measurement is one calibration measurement: the heating current used, and
// the final sensor voltage and heating temperature reached with it.
// Immutable once recorded.
type Measurement struct {
	HeatingCurrent float64 // mA
	SensorVoltage  float64 // V
	Temperature    float64 // °C
}

// Changed is published whenever measurements are added to or removed from a
// Data object that is attached to a production system.
type Changed struct {
	System any
	Data   *Data
}

func (Changed) Name() string { return "calibration-data.changed" }

// Data is the calibration dataset. Measurements are kept in insertion
// order; duplicates by current are allowed but discouraged. Mutations refit
// the estimation functions. Reads may run concurrently; mutations are
// exclusive.
type Data struct {
	mu sync.RWMutex

	measurements []Measurement

	polynomialDegree int
	minMeasurements  int

	// Fitted polynomial coefficients, highest degree first. nil until
	// enough measurements exist and the fit succeeds.
	currentFromTemperature []float64
	temperatureFromCurrent []float64
	temperatureFromVoltage []float64

	// Set while the Data is attached to a production system; used to
	// publish Changed events.
	bus    *events.Bus
	system any
}

// New returns empty calibration data with the default polynomial degree and
// measurement threshold.
func New() *Data {
	return NewWith(DefaultPolynomialDegree, DefaultMinMeasurements)
}

// NewWith returns empty calibration data with an explicit polynomial degree
// and minimum measurement count. The minimum is raised to degree+1 if it
// would not determine the fit.
func NewWith(polynomialDegree, minMeasurements int) *Data {
	if minMeasurements < polynomialDegree+1 {
		minMeasurements = polynomialDegree + 1
	}
	return &Data{
		polynomialDegree: polynomialDegree,
		minMeasurements:  minMeasurements,
	}
}

// Attach associates the dataset with a production system so mutations are
// announced on the system's event bus. Pass nil to detach.
func (d *Data) Attach(bus *events.Bus, system any) {
	d.mu.Lock()
	d.bus = bus
	d.system = system
	d.mu.Unlock()
}

// AddMeasurement appends a measurement and refits the estimation functions.
func (d *Data) AddMeasurement(current, voltage, temperature float64) {
	d.mu.Lock()
	d.measurements = append(d.measurements, Measurement{
		HeatingCurrent: current,
		SensorVoltage:  voltage,
		Temperature:    temperature,
	})
	d.refit()
	bus, system := d.bus, d.system
	d.mu.Unlock()

	if bus != nil {
		bus.Publish(Changed{System: system, Data: d})
	}
}

// RemoveMeasurement removes the first measurement equal to m. Removing a
// measurement that is not present is a no-op; no caller depends on strict
// removal semantics.
func (d *Data) RemoveMeasurement(m Measurement) {
	d.mu.Lock()
	removed := false
	for i, have := range d.measurements {
		if have == m {
			d.measurements = append(d.measurements[:i], d.measurements[i+1:]...)
			removed = true
			break
		}
	}
	if removed {
		d.refit()
	}
	bus, system := d.bus, d.system
	d.mu.Unlock()

	if removed && bus != nil {
		bus.Publish(Changed{System: system, Data: d})
	}
}

// Measurements returns the measurements in insertion order.
func (d *Data) Measurements() []Measurement {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Measurement, len(d.measurements))
	copy(out, d.measurements)
	return out
}

// Len returns the number of measurements.
func (d *Data) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.measurements)
}

// Temperatures returns the measured temperatures in insertion order.
func (d *Data) Temperatures() []float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]float64, len(d.measurements))
	for i, m := range d.measurements {
		out[i] = m.Temperature
	}
	return out
}

// IsComplete reports whether all three estimation functions have been
// fitted.
func (d *Data) IsComplete() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.currentFromTemperature != nil &&
		d.temperatureFromCurrent != nil &&
		d.temperatureFromVoltage != nil
}

// CurrentFromTargetTemperature estimates the heating current (mA) needed
// for the heater to reach, but not exceed, the target temperature (°C).
func (d *Data) CurrentFromTargetTemperature(target float64) (float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.currentFromTemperature == nil {
		return 0, ErrNotCalibrated
	}
	return polyval(d.currentFromTemperature, target), nil
}

// FinalTemperatureFromCurrent estimates the temperature (°C) the heater
// settles at for the given heating current (mA).
func (d *Data) FinalTemperatureFromCurrent(current float64) (float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.temperatureFromCurrent == nil {
		return 0, ErrNotCalibrated
	}
	return polyval(d.temperatureFromCurrent, current), nil
}

// TemperatureFromVoltage estimates the heating temperature (°C) that
// corresponds to the given sensor voltage (V).
func (d *Data) TemperatureFromVoltage(voltage float64) (float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.temperatureFromVoltage == nil {
		return 0, ErrNotCalibrated
	}
	return polyval(d.temperatureFromVoltage, voltage), nil
}

// refit recomputes the three estimation functions. Called with the lock
// held after every mutation. A fit that fails (too few points, singular
// system) leaves the corresponding function unset.
func (d *Data) refit() {
	n := len(d.measurements)
	currents := make([]float64, n)
	voltages := make([]float64, n)
	temperatures := make([]float64, n)
	for i, m := range d.measurements {
		currents[i] = m.HeatingCurrent
		voltages[i] = m.SensorVoltage
		temperatures[i] = m.Temperature
	}

	d.currentFromTemperature = d.fit(temperatures, currents)
	d.temperatureFromCurrent = d.fit(currents, temperatures)
	d.temperatureFromVoltage = d.fit(voltages, temperatures)
}

// fit returns the least-squares polynomial of degree polynomialDegree
// through the points, highest-degree coefficient first, or nil if there are
// fewer than minMeasurements points or the system is singular.
func (d *Data) fit(x, y []float64) []float64 {
	if len(x) < d.minMeasurements {
		return nil
	}
	return polyfit(x, y, d.polynomialDegree)
}

func polyfit(x, y []float64, degree int) []float64 {
	n := len(x)
	cols := degree + 1

	a := mat.NewDense(n, cols, nil)
	for i := 0; i < n; i++ {
		v := 1.0
		for j := cols - 1; j >= 0; j-- {
			a.Set(i, j, v)
			v *= x[i]
		}
	}
	b := mat.NewDense(n, 1, y)

	var qr mat.QR
	qr.Factorize(a)

	var c mat.Dense
	if err := qr.SolveTo(&c, false, b); err != nil {
		return nil
	}

	coeffs := make([]float64, cols)
	for j := 0; j < cols; j++ {
		coeffs[j] = c.At(j, 0)
		if math.IsNaN(coeffs[j]) || math.IsInf(coeffs[j], 0) {
			return nil
		}
	}
	return coeffs
}

// polyval evaluates a polynomial given highest-degree coefficient first.
func polyval(coeffs []float64, x float64) float64 {
	var y float64
	for _, c := range coeffs {
		y = y*x + c
	}
	return y
}
