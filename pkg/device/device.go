package device

// Interface is the capability set required from an FCI-7011 fiber coupler
// production system. The real hardware and the simulation both implement it;
// which one is used is decided at construction time.
type Interface interface {
	// HeatingCurrent returns the device's heating current, in mA. To change
	// it, use StartHeatingWithCurrent.
	HeatingCurrent() float64

	// TemperatureSensorVoltage returns the voltage reported by the
	// temperature sensor, in V. The reading only reflects the heater's
	// temperature while the heater is in its foremost position.
	TemperatureSensorVoltage() float64

	// StartHeatingWithCurrent commands the device to a new steady-state
	// heating current, in mA. The heater approaches the corresponding final
	// temperature asynchronously; the call returns immediately. Returns an
	// InvalidHeatingCurrentError if current is negative.
	StartHeatingWithCurrent(current float64) error

	// HeaterPosition returns the heater's position as a fraction of the
	// distance between its rearmost (0.0) and foremost (1.0) position.
	HeaterPosition() float64

	// HeaterTargetPosition returns the position the heater is moving
	// towards. While it differs from HeaterPosition the heater is still
	// moving.
	HeaterTargetPosition() float64

	// StartHeaterMovement commands the heater to move to targetPosition.
	// Movement takes several seconds; the call returns immediately. Returns
	// an InvalidHeaterPositionError if targetPosition is outside [0, 1].
	StartHeaterMovement(targetPosition float64) error

	// IsSimulation reports whether this interface merely simulates a device.
	IsSimulation() bool
}
