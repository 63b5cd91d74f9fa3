package calibration

import (
	"github.com/fibercal/fibercal/pkg/caldata"
	"github.com/fibercal/fibercal/pkg/events"
)

// System is the production system a Manager calibrates. It is the subset
// of the production system's surface the manager needs; keyed operations
// require the key obtained from Lock.
type System interface {
	// Bus returns the event bus calibration events are published on.
	Bus() *events.Bus

	// Lock reserves the system for exclusive use and returns the key that
	// authorizes keyed operations. It fails if the system is already
	// locked.
	Lock() (string, error)

	// Unlock releases a reservation made with Lock.
	Unlock(key string) error

	// MaxHeatingCurrent returns the largest permitted heating current in
	// mA. Configured currents above it end the procedure with
	// StatusInvalidCurrent when reached.
	MaxHeatingCurrent() float64

	// IsInSafeMode reports whether the system's safety monitor has taken
	// over. A running calibration terminates when it does.
	IsInSafeMode() bool

	HeatingCurrent() float64
	TemperatureSensorVoltage() float64
	HeaterPosition() float64

	// StartHeaterMovement commands the heater towards targetPosition.
	StartHeaterMovement(targetPosition float64, key string) error

	// StartHeatingWithCurrent commands heating with the given current in
	// mA.
	StartHeatingWithCurrent(current float64, key string) error

	// Idle switches the heater to the idle current.
	Idle(key string) error

	// CalibrationData returns the dataset measurements are recorded into.
	CalibrationData() *caldata.Data
}
