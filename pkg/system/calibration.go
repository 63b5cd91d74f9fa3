package system

import (
	"math"

	"github.com/pkg/errors"

	"github.com/fibercal/fibercal/pkg/caldata"
	"github.com/fibercal/fibercal/pkg/calibration"
)

// CalibrationData returns the dataset holding the device's calibration
// measurements.
func (s *ProductionSystem) CalibrationData() *caldata.Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// SetCalibrationData replaces the system's calibration data, for example
// with a dataset loaded from a .cal file.
func (s *ProductionSystem) SetCalibrationData(data *caldata.Data) {
	s.mu.Lock()
	old := s.data
	s.data = data
	s.mu.Unlock()

	if old != nil {
		old.Attach(nil, nil)
	}
	data.Attach(s.bus, s)
	s.bus.Publish(caldata.Changed{System: s, Data: data})
}

// IsCalibrated reports whether the system has a complete set of
// calibration data. It is false while a calibration procedure runs, since
// the procedure replaces the measurements for the currents it uses.
func (s *ProductionSystem) IsCalibrated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isCalibratedLocked()
}

func (s *ProductionSystem) isCalibratedLocked() bool {
	return s.data.IsComplete() && s.manager == nil
}

// IsBeingCalibrated reports whether a calibration procedure is underway.
func (s *ProductionSystem) IsBeingCalibrated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manager != nil
}

// CalibrationManager returns the manager of the ongoing calibration
// procedure, or nil if none is running.
func (s *ProductionSystem) CalibrationManager() *calibration.Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manager
}

// StartCalibration starts a calibration procedure using the given heating
// currents in mA and returns its manager. The procedure runs in the
// background and locks the system for its duration; starting one on a
// locked system fails with ErrSystemLocked.
func (s *ProductionSystem) StartCalibration(currents []float64) (*calibration.Manager, error) {
	s.mu.Lock()
	if s.key != "" {
		s.mu.Unlock()
		return nil, ErrSystemLocked
	}
	s.mu.Unlock()

	m := calibration.NewManager(s, currents)

	// Registered before Start so a procedure that ends immediately still
	// clears it through the CalibrationOver subscription.
	s.mu.Lock()
	s.manager = m
	s.mu.Unlock()

	if err := m.Start(); err != nil {
		s.clearManager(m)
		return nil, err
	}

	// Two racing starts both pass the lock check above; only one wins the
	// system lock. Re-registering after Start keeps the winner registered
	// even if the loser overwrote the field in between. A procedure that
	// ended during Start has already been cleared, so check again.
	s.mu.Lock()
	s.manager = m
	s.mu.Unlock()
	if !m.IsRunning() {
		s.clearManager(m)
	}
	return m, nil
}

// AbortCalibration aborts the ongoing calibration procedure, if any.
func (s *ProductionSystem) AbortCalibration() {
	s.mu.Lock()
	m := s.manager
	s.mu.Unlock()
	if m != nil {
		_ = m.Abort()
	}
}

func (s *ProductionSystem) clearManager(m *calibration.Manager) {
	s.mu.Lock()
	if s.manager == m {
		s.manager = nil
	}
	s.mu.Unlock()
}

// Target temperatures.

// MinTargetTemperature returns the lowest temperature that can be passed
// to StartHeatingToTemperature: the lowest temperature measured during
// calibration.
func (s *ProductionSystem) MinTargetTemperature() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minTargetTemperatureLocked()
}

func (s *ProductionSystem) minTargetTemperatureLocked() (float64, error) {
	if !s.isCalibratedLocked() {
		return 0, caldata.ErrNotCalibrated
	}
	min := math.Inf(1)
	for _, t := range s.data.Temperatures() {
		if t < min {
			min = t
		}
	}
	return min, nil
}

// MaxTargetTemperature returns the highest temperature that can be passed
// to StartHeatingToTemperature: the lowest of the safety limit, the
// temperature reachable with the maximum heating current, and the highest
// temperature measured during calibration.
func (s *ProductionSystem) MaxTargetTemperature() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxTargetTemperatureLocked()
}

func (s *ProductionSystem) maxTargetTemperatureLocked() (float64, error) {
	if !s.isCalibratedLocked() {
		return 0, caldata.ErrNotCalibrated
	}

	atMaxCurrent, err := s.data.FinalTemperatureFromCurrent(s.maxHeatingCurrent)
	if err != nil {
		return 0, err
	}
	measured := math.Inf(-1)
	for _, t := range s.data.Temperatures() {
		if t > measured {
			measured = t
		}
	}
	result := math.Min(s.maxSafeTemperature, math.Min(atMaxCurrent, measured))

	// The estimation functions are fitted independently, so the current
	// estimated for result can still exceed the maximum. Shrink result
	// until it fits; if it has to shrink to a third, the calibration data
	// is beyond saving.
	for attempt := 0; ; attempt++ {
		current, err := s.data.CurrentFromTargetTemperature(result)
		if err != nil {
			return 0, err
		}
		if current <= s.maxHeatingCurrent {
			return result, nil
		}
		if attempt >= 110 {
			return 0, errors.New("the calibration data is inconsistent")
		}
		result *= 0.99
	}
}

// IsValidTargetTemperature reports whether the given temperature, in °C,
// lies in [MinTargetTemperature, MaxTargetTemperature].
func (s *ProductionSystem) IsValidTargetTemperature(temperature float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isValidTargetTemperatureLocked(temperature)
}

func (s *ProductionSystem) isValidTargetTemperatureLocked(temperature float64) (bool, error) {
	min, err := s.minTargetTemperatureLocked()
	if err != nil {
		return false, err
	}
	max, err := s.maxTargetTemperatureLocked()
	if err != nil {
		return false, err
	}
	return min <= temperature && temperature <= max, nil
}

// StartHeatingToTemperature heats towards targetTemperature, in °C, using
// the current the calibration data estimates for it. The temperature
// sensor plays no role in the heating itself; only the calibration data
// does. The movement towards the temperature is asynchronous.
func (s *ProductionSystem) StartHeatingToTemperature(targetTemperature float64, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.tryKey(key); err != nil {
		return err
	}
	valid, err := s.isValidTargetTemperatureLocked(targetTemperature)
	if err != nil {
		return err
	}
	if !valid {
		return &InvalidTargetTemperatureError{Temperature: targetTemperature}
	}

	current, err := s.data.CurrentFromTargetTemperature(targetTemperature)
	if err != nil {
		return err
	}
	if err := s.startHeatingWithCurrentLocked(current); err != nil {
		return err
	}
	s.targetTemperature = targetTemperature
	s.hasTargetTemperature = true
	return nil
}

// Testing helpers, only usable with a simulated device.

// simulator is the extra surface a simulated device provides.
type simulator interface {
	SpeedFactor() float64
	SetSpeedFactor(factor float64) error
	FinalTemperatureFromCurrent(current float64) float64
	VoltageFromTemperature(temperature float64) float64
}

func (s *ProductionSystem) simulator() (simulator, error) {
	if sim, ok := s.dev.(simulator); ok && s.dev.IsSimulation() {
		return sim, nil
	}
	return nil, ErrRequiresSimulation
}

// SpeedFactor returns the factor by which the simulated device is sped
// up.
func (s *ProductionSystem) SpeedFactor() (float64, error) {
	sim, err := s.simulator()
	if err != nil {
		return 0, err
	}
	return sim.SpeedFactor(), nil
}

// SetSpeedFactor speeds the simulated device up by the given factor, to
// shorten tests of the multi-hour calibration procedure.
func (s *ProductionSystem) SetSpeedFactor(factor float64) error {
	sim, err := s.simulator()
	if err != nil {
		return err
	}
	return sim.SetSpeedFactor(factor)
}

// PerformMagicCalibration replaces the calibration data with measurements
// computed directly from the simulation's model, skipping the hours-long
// procedure. Measurements start at the idle current and rise in 2 mA
// steps until a limit is reached.
func (s *ProductionSystem) PerformMagicCalibration() error {
	sim, err := s.simulator()
	if err != nil {
		return err
	}

	s.mu.Lock()
	idle := s.heatingCurrentWhileIdle
	maxCurrent := s.maxHeatingCurrent
	maxVoltage := s.maxSafeTemperatureSensorVoltage
	s.mu.Unlock()

	data := caldata.New()
	for current := idle; current <= maxCurrent; current += 2.0 {
		temperature := sim.FinalTemperatureFromCurrent(current)
		voltage := sim.VoltageFromTemperature(temperature)
		if voltage > maxVoltage {
			break
		}
		data.AddMeasurement(current, voltage, temperature)
	}

	s.SetCalibrationData(data)
	return nil
}
