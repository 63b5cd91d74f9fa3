// Package fitting estimates the parameters that describe how the heating
// temperature develops over time for a given heating current, and how the
// temperature sensor voltage relates to that temperature.
//
// The model assumes the temperature T at time t follows
//
//	T(t) = T0 + (T1 - T0) * (1 - exp(-t/tau))
//
// and the sensor voltage for a temperature T is the quartic
//
//	U(T) = a4*T^4 + a3*T^3 + a2*T^2 + a1*T + a0.
//
// A Worker runs the minimization in the background so the control loop
// stays responsive while fits are recomputed.
package fitting

import "math"

// Solution holds the eight model parameters, either as starting estimates
// for a minimization or as its result.
type Solution struct {
	StartingTemperature float64 // T0, °C
	FinalTemperature    float64 // T1, °C
	Tau                 float64 // seconds

	// Coefficients of the voltage polynomial, a4 through a0.
	Coefficients [5]float64

	// RSS is the residual sum of squares of the fit that produced this
	// solution, in V². Zero for starting estimates.
	RSS float64
}

// TemperatureAt returns the modeled heating temperature at t seconds into
// the heating stage.
func (s Solution) TemperatureAt(t float64) float64 {
	return s.StartingTemperature +
		(s.FinalTemperature-s.StartingTemperature)*(1-math.Exp(-t/s.Tau))
}

// VoltageFromTemperature returns the modeled sensor voltage for the given
// temperature.
func (s Solution) VoltageFromTemperature(temperature float64) float64 {
	var v float64
	for _, c := range s.Coefficients {
		v = v*temperature + c
	}
	return v
}

// VoltageAt returns the modeled sensor voltage at t seconds into the
// heating stage.
func (s Solution) VoltageAt(t float64) float64 {
	return s.VoltageFromTemperature(s.TemperatureAt(t))
}

// FinalVoltage returns the modeled sensor voltage once the temperature has
// settled at its final value.
func (s Solution) FinalVoltage() float64 {
	return s.VoltageFromTemperature(s.FinalTemperature)
}

// Starting estimates used to seed the first minimization of a calibration
// procedure. The factor converts a heating current in mA into a rough final
// temperature in °C.
const (
	startingTemperatureEstimate      = 20.0
	finalTemperaturePerCurrentFactor = 75.0
	tauEstimate                      = 100.0
)

var coefficientsEstimate = [5]float64{0.001, -0.01, 0.1, -1.0, 0.0}

// FirstStartingEstimates returns a Solution usable as the starting point of
// the minimization in the first heating stage, given that stage's heating
// current in mA.
func FirstStartingEstimates(current float64) Solution {
	return Solution{
		StartingTemperature: startingTemperatureEstimate,
		FinalTemperature:    current * finalTemperaturePerCurrentFactor,
		Tau:                 tauEstimate,
		Coefficients:        coefficientsEstimate,
	}
}

// SubsequentStartingEstimates returns a Solution usable as the starting
// point of the minimization in any heating stage but the first.
// previousTemperature is the temperature measured at the end of the
// previous stage, previous is that stage's solution, and extraCurrent is
// the new stage's heating current minus the previous stage's.
func SubsequentStartingEstimates(previousTemperature float64, previous Solution, extraCurrent float64) Solution {
	return Solution{
		StartingTemperature: previousTemperature,
		FinalTemperature:    previousTemperature + extraCurrent*finalTemperaturePerCurrentFactor,
		Tau:                 previous.Tau,
		Coefficients:        previous.Coefficients,
	}
}
