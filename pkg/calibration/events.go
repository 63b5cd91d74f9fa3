package calibration

// CalibrationStarted is published when a calibration procedure starts.
type CalibrationStarted struct {
	System  System
	Manager *Manager
}

func (CalibrationStarted) Name() string { return "calibration.started" }

// CalibrationOver is published when a calibration procedure ends, for
// whatever reason. UsedCurrents are the heating currents for which
// measurements were taken; UnusedCurrents are the ones that were not
// reached. Together, in order, they equal the manager's current list.
type CalibrationOver struct {
	System         System
	Manager        *Manager
	Status         Status
	UsedCurrents   []float64
	UnusedCurrents []float64
}

func (CalibrationOver) Name() string { return "calibration.over" }

// TemperatureRequested is published when the sensor voltage has stabilized
// and the manager needs someone to measure the heating temperature and
// report it through Report. Report returns an error if the manager is no
// longer waiting for a measurement.
type TemperatureRequested struct {
	System  System
	Manager *Manager
	Report  func(temperature float64) error
}

func (TemperatureRequested) Name() string { return "calibration.temperature-requested" }

// TemperatureRequestOver is published when an outstanding temperature
// request is fulfilled or withdrawn, so user interfaces can stop prompting.
type TemperatureRequestOver struct {
	System  System
	Manager *Manager
}

func (TemperatureRequestOver) Name() string { return "calibration.temperature-request-over" }
