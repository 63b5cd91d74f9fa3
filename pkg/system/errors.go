package system

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrSystemLocked is returned when a keyed operation is attempted on a
	// locked system without its key, or Lock is called on a system that is
	// already locked.
	ErrSystemLocked = errors.New("the system is locked")

	// ErrSystemNotLocked is returned when a key is presented to a system
	// that is not locked.
	ErrSystemNotLocked = errors.New("the system is not locked")

	// ErrWrongKey is returned when the presented key is not the one the
	// system was locked with.
	ErrWrongKey = errors.New("wrong key")

	// ErrRequiresSimulation is returned by testing helpers when the system
	// controls real hardware.
	ErrRequiresSimulation = errors.New("this operation requires a simulated device")
)

// InvalidTargetTemperatureError is returned when a target temperature lies
// outside the range the calibration data supports.
type InvalidTargetTemperatureError struct {
	Temperature float64
}

func (e *InvalidTargetTemperatureError) Error() string {
	return fmt.Sprintf("invalid target temperature: %g °C", e.Temperature)
}
