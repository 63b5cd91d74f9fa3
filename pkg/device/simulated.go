package device

import (
	"math"
	"sync"
	"time"
)

// Default simulation parameters. They describe a device whose heater reaches
// about 1500 °C at 28 mA, with a thermal time constant of 100 seconds.
var (
	// defaultFinalTemperatureCoeffs determines the temperature (in °C) the
	// simulated heater will reach, but not exceed, for a given heating
	// current (in mA). Highest-degree coefficient first.
	defaultFinalTemperatureCoeffs = []float64{0.0052, -0.28, 3.3, 76.0, 0.0}

	// defaultVoltageCoeffs determines the simulated temperature sensor
	// voltage (in V) for a given heating temperature (in °C).
	defaultVoltageCoeffs = []float64{3.2e-12, -6.8e-9, 5.2e-6, -1.4e-3, 0.0}
)

const (
	// defaultTau is the simulated heater's thermal time constant, in seconds.
	defaultTau = 100.0

	// defaultHeaterMovementRate is the fraction of the full movement range
	// the simulated heater covers in one second. Acceleration is assumed to
	// be instant, which is unrealistic but suffices for simulation purposes.
	defaultHeaterMovementRate = 0.1
)

// Simulated models an FCI-7011 device: the heating temperature approaches
// the final temperature for the commanded current exponentially with time
// constant tau, and the sensor voltage is a polynomial of the temperature.
//
// A speed factor can be set to run the simulation faster than real time,
// which greatly reduces the time required to test the application.
type Simulated struct {
	mu sync.Mutex

	now func() time.Time

	finalTemperatureCoeffs []float64
	voltageCoeffs          []float64
	tau                    float64
	movementRate           float64
	speedFactor            float64

	heatingCurrent       float64
	heaterTargetPosition float64

	// Snapshot taken whenever current, target position or speed factor
	// change; temperature and position are extrapolated from it.
	startingTime        time.Time
	startingTemperature float64
	startingPosition    float64
}

var _ Interface = (*Simulated)(nil)

// NewSimulated returns a simulated device that is cold, idle, and has its
// heater in the rearmost position.
func NewSimulated() *Simulated {
	return NewSimulatedAt(time.Now)
}

// NewSimulatedAt is like NewSimulated but uses the given clock. Tests pass
// a fake clock to step the simulation deterministically.
func NewSimulatedAt(now func() time.Time) *Simulated {
	s := &Simulated{
		now:                    now,
		finalTemperatureCoeffs: defaultFinalTemperatureCoeffs,
		voltageCoeffs:          defaultVoltageCoeffs,
		tau:                    defaultTau,
		movementRate:           defaultHeaterMovementRate,
		speedFactor:            1.0,
	}
	s.startingTime = now()
	s.startingTemperature = s.FinalTemperatureFromCurrent(0)
	return s
}

// setNewStart records the current time, temperature, and heater position as
// the new extrapolation anchor. Must be called, with the lock held, each
// time the heating current, heater target position or speed factor change.
func (s *Simulated) setNewStart() {
	now := s.now()
	s.startingTemperature = s.temperatureAt(now)
	s.startingPosition = s.heaterPositionAt(now)
	s.startingTime = now // must happen last
}

func (s *Simulated) HeatingCurrent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heatingCurrent
}

func (s *Simulated) StartHeatingWithCurrent(current float64) error {
	if current < 0 {
		return &InvalidHeatingCurrentError{Current: current}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setNewStart()
	s.heatingCurrent = current
	return nil
}

// Temperature returns the simulated heating temperature, in °C. The real
// device does not expose this; it exists for testing and for magic
// calibration.
func (s *Simulated) Temperature() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.temperatureAt(s.now())
}

func (s *Simulated) temperatureAt(t time.Time) float64 {
	t0 := s.startingTemperature
	t1 := s.FinalTemperatureFromCurrent(s.heatingCurrent)
	dt := t.Sub(s.startingTime).Seconds()
	if dt < 0 {
		dt = 0
	}
	return t0 + (t1-t0)*(1-math.Exp(-dt/s.tau))
}

func (s *Simulated) TemperatureSensorVoltage() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return polyval(s.voltageCoeffs, s.temperatureAt(s.now()))
}

func (s *Simulated) HeaterPosition() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heaterPositionAt(s.now())
}

func (s *Simulated) heaterPositionAt(t time.Time) float64 {
	p0 := s.startingPosition
	p1 := s.heaterTargetPosition
	dt := t.Sub(s.startingTime).Seconds()
	if dt < 0 {
		dt = 0
	}
	change := dt * s.movementRate
	if p0 < p1 {
		return math.Min(p1, p0+change)
	}
	return math.Max(p1, p0-change)
}

func (s *Simulated) HeaterTargetPosition() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heaterTargetPosition
}

func (s *Simulated) StartHeaterMovement(targetPosition float64) error {
	if targetPosition < 0 || targetPosition > 1 {
		return &InvalidHeaterPositionError{Position: targetPosition}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setNewStart()
	s.heaterTargetPosition = targetPosition
	return nil
}

func (s *Simulated) IsSimulation() bool { return true }

// SpeedFactor returns the factor by which the simulation is sped up.
func (s *Simulated) SpeedFactor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speedFactor
}

// SetSpeedFactor changes the simulation speed. Setting it to, say, 5 makes
// the heater settle and move five times faster than real time.
func (s *Simulated) SetSpeedFactor(factor float64) error {
	if factor <= 0 {
		return &InvalidSpeedFactorError{Factor: factor}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setNewStart()
	s.tau *= s.speedFactor / factor
	s.movementRate *= factor / s.speedFactor
	s.speedFactor = factor
	return nil
}

// FinalTemperatureFromCurrent returns the temperature (in °C) the simulated
// heater settles at for the given heating current (in mA).
func (s *Simulated) FinalTemperatureFromCurrent(current float64) float64 {
	return polyval(s.finalTemperatureCoeffs, current)
}

// VoltageFromTemperature returns the simulated sensor voltage (in V) for the
// given heating temperature (in °C).
func (s *Simulated) VoltageFromTemperature(temperature float64) float64 {
	return polyval(s.voltageCoeffs, temperature)
}

// Tau returns the simulated heater's effective thermal time constant, in
// seconds. It shrinks as the speed factor grows.
func (s *Simulated) Tau() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tau
}

// polyval evaluates a polynomial with the coefficients given highest degree
// first, using Horner's method.
func polyval(coeffs []float64, x float64) float64 {
	var y float64
	for _, c := range coeffs {
		y = y*x + c
	}
	return y
}
