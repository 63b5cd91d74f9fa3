package device

import "fmt"

// InvalidHeatingCurrentError is returned when a heating command is issued
// with a current outside the device's valid range.
type InvalidHeatingCurrentError struct {
	Current float64
}

func (e *InvalidHeatingCurrentError) Error() string {
	return fmt.Sprintf("invalid heating current: %g mA", e.Current)
}

// InvalidHeaterPositionError is returned when a movement command is issued
// with a target position outside [0, 1].
type InvalidHeaterPositionError struct {
	Position float64
}

func (e *InvalidHeaterPositionError) Error() string {
	return fmt.Sprintf("invalid heater position: %g (must be between 0 and 1)", e.Position)
}

// InvalidSpeedFactorError is returned when a simulation speed factor is not
// strictly positive.
type InvalidSpeedFactorError struct {
	Factor float64
}

func (e *InvalidSpeedFactorError) Error() string {
	return fmt.Sprintf("invalid speed factor: %g (must be positive)", e.Factor)
}
