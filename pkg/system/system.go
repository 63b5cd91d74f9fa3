// Package system provides high-level control over one fiber coupler
// production system. A ProductionSystem wraps a device.Interface and adds
// the services the rest of the application builds on: calibration data and
// temperature-based heating, a safety monitor that forces the heating
// current down when limits are exceeded, and key-based locking that
// serializes exclusive operations such as calibration runs.
package system

import (
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
	log "github.com/sirupsen/logrus"

	"github.com/fibercal/fibercal/pkg/caldata"
	"github.com/fibercal/fibercal/pkg/calibration"
	"github.com/fibercal/fibercal/pkg/device"
	"github.com/fibercal/fibercal/pkg/events"
)

// Default operating limits and currents.
const (
	DefaultMaxHeatingCurrent               = 28.0 // mA
	DefaultMaxSafeTemperatureSensorVoltage = 6.7  // V
	DefaultMaxSafeTemperature              = 1700.0
	DefaultHeatingCurrentInSafeMode        = 4.0 // mA
	DefaultHeatingCurrentWhileIdle         = 4.0 // mA

	// DefaultMonitorInterval is how often the safety monitor samples the
	// device.
	DefaultMonitorInterval = time.Second
)

// ProductionSystem controls one device. All methods are safe for
// concurrent use.
type ProductionSystem struct {
	dev device.Interface
	bus *events.Bus

	mu sync.Mutex

	key  string // empty when unlocked
	data *caldata.Data

	manager *calibration.Manager

	inSafeMode           bool
	targetTemperature    float64
	hasTargetTemperature bool

	maxHeatingCurrent               float64
	maxSafeTemperatureSensorVoltage float64
	maxSafeTemperature              float64
	heatingCurrentInSafeMode        float64
	heatingCurrentWhileIdle         float64

	monitorInterval time.Duration
	stopOnce        sync.Once
	stopc           chan struct{}
	monitorDone     chan struct{}
}

// New returns a system controlling dev, publishing its events on bus. A
// nil dev selects a fresh simulated device; a nil bus gets a new bus. The
// safety monitor starts immediately; call Close to stop it.
func New(dev device.Interface, bus *events.Bus) *ProductionSystem {
	if dev == nil {
		dev = device.NewSimulated()
	}
	if bus == nil {
		bus = events.NewBus()
	}

	s := &ProductionSystem{
		dev: dev,
		bus: bus,

		maxHeatingCurrent:               DefaultMaxHeatingCurrent,
		maxSafeTemperatureSensorVoltage: DefaultMaxSafeTemperatureSensorVoltage,
		maxSafeTemperature:              DefaultMaxSafeTemperature,
		heatingCurrentInSafeMode:        DefaultHeatingCurrentInSafeMode,
		heatingCurrentWhileIdle:         DefaultHeatingCurrentWhileIdle,

		monitorInterval: DefaultMonitorInterval,
		stopc:           make(chan struct{}),
		monitorDone:     make(chan struct{}),
	}

	s.data = caldata.New()
	s.data.Attach(bus, s)

	// The manager reference is only valid while its procedure runs.
	bus.Subscribe(func(e events.Event) {
		if over, ok := e.(calibration.CalibrationOver); ok {
			if sys, ok := over.System.(*ProductionSystem); ok && sys == s {
				s.clearManager(over.Manager)
			}
		}
	})

	go s.monitor()
	return s
}

// Close stops the safety monitor. The device itself is left as it is.
func (s *ProductionSystem) Close() {
	s.stopOnce.Do(func() { close(s.stopc) })
	<-s.monitorDone
}

// Bus returns the event bus the system publishes on.
func (s *ProductionSystem) Bus() *events.Bus { return s.bus }

// IsSimulation reports whether the controlled device is simulated.
func (s *ProductionSystem) IsSimulation() bool { return s.dev.IsSimulation() }

// Locking.

// IsLocked reports whether the system is locked.
func (s *ProductionSystem) IsLocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key != ""
}

// Lock reserves the system for exclusive use and returns the key that
// authorizes keyed operations. It fails with ErrSystemLocked if the system
// is already locked.
func (s *ProductionSystem) Lock() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != "" {
		return "", ErrSystemLocked
	}
	s.key = uuid.NewV4().String()
	return s.key, nil
}

// Unlock releases a reservation made with Lock. It fails with
// ErrSystemNotLocked if the system is not locked and ErrWrongKey if key is
// not the key Lock returned.
func (s *ProductionSystem) Unlock(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.key == "":
		return ErrSystemNotLocked
	case key != s.key:
		return ErrWrongKey
	}
	s.key = ""
	return nil
}

// tryKey checks that key authorizes an operation: the key of a locked
// system, or no key on an unlocked one.
func (s *ProductionSystem) tryKey(key string) error {
	switch {
	case key == "" && s.key != "":
		return ErrSystemLocked
	case key != "" && s.key == "":
		return ErrSystemNotLocked
	case key != s.key:
		return ErrWrongKey
	}
	return nil
}

// System properties.

func (s *ProductionSystem) MaxHeatingCurrent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxHeatingCurrent
}

func (s *ProductionSystem) MaxSafeTemperatureSensorVoltage() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxSafeTemperatureSensorVoltage
}

func (s *ProductionSystem) MaxSafeTemperature() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxSafeTemperature
}

func (s *ProductionSystem) HeatingCurrentInSafeMode() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heatingCurrentInSafeMode
}

func (s *ProductionSystem) HeatingCurrentWhileIdle() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heatingCurrentWhileIdle
}

func (s *ProductionSystem) SetMaxHeatingCurrent(v float64) {
	s.setProperty("max-heating-current", &s.maxHeatingCurrent, v)
}

func (s *ProductionSystem) SetMaxSafeTemperatureSensorVoltage(v float64) {
	s.setProperty("max-safe-temperature-sensor-voltage", &s.maxSafeTemperatureSensorVoltage, v)
}

func (s *ProductionSystem) SetMaxSafeTemperature(v float64) {
	s.setProperty("max-safe-temperature", &s.maxSafeTemperature, v)
}

func (s *ProductionSystem) SetHeatingCurrentInSafeMode(v float64) {
	s.setProperty("heating-current-in-safe-mode", &s.heatingCurrentInSafeMode, v)
}

func (s *ProductionSystem) SetHeatingCurrentWhileIdle(v float64) {
	s.setProperty("heating-current-while-idle", &s.heatingCurrentWhileIdle, v)
}

func (s *ProductionSystem) setProperty(name string, field *float64, value float64) {
	s.mu.Lock()
	changed := *field != value
	*field = value
	s.mu.Unlock()
	if changed {
		s.bus.Publish(PropertiesChanged{System: s, Property: name})
	}
}

// Heating.

// HeatingCurrent returns the device's heating current in mA.
func (s *ProductionSystem) HeatingCurrent() float64 {
	return s.dev.HeatingCurrent()
}

// TemperatureSensorVoltage returns the voltage reported by the temperature
// sensor, in V. It only reflects the heating temperature while the heater
// is in its foremost position.
func (s *ProductionSystem) TemperatureSensorVoltage() float64 {
	return s.dev.TemperatureSensorVoltage()
}

// Temperature returns the heating temperature that corresponds to the
// measured sensor voltage, in °C. It fails with caldata.ErrNotCalibrated
// if the system is not calibrated.
func (s *ProductionSystem) Temperature() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.temperatureLocked()
}

func (s *ProductionSystem) temperatureLocked() (float64, error) {
	if !s.isCalibratedLocked() {
		return 0, caldata.ErrNotCalibrated
	}
	return s.data.TemperatureFromVoltage(s.dev.TemperatureSensorVoltage())
}

// TargetTemperature returns the temperature the heater is being heated
// towards, if heating was started with StartHeatingToTemperature.
func (s *ProductionSystem) TargetTemperature() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetTemperature, s.hasTargetTemperature
}

// StartHeatingWithCurrent sets the device's heating current, in mA. It
// clears safe mode and any target temperature. The current must lie in
// [0, MaxHeatingCurrent].
func (s *ProductionSystem) StartHeatingWithCurrent(current float64, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.tryKey(key); err != nil {
		return err
	}
	return s.startHeatingWithCurrentLocked(current)
}

func (s *ProductionSystem) startHeatingWithCurrentLocked(current float64) error {
	if current < 0 || current > s.maxHeatingCurrent {
		return &device.InvalidHeatingCurrentError{Current: current}
	}
	s.inSafeMode = false
	s.hasTargetTemperature = false
	return s.dev.StartHeatingWithCurrent(current)
}

// Idle sets the device's heating current to the idle current.
func (s *ProductionSystem) Idle(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.tryKey(key); err != nil {
		return err
	}
	return s.startHeatingWithCurrentLocked(s.heatingCurrentWhileIdle)
}

// Heater movement.

// HeaterPosition returns the heater position as a fraction of the travel
// between rearmost (0) and foremost (1) position.
func (s *ProductionSystem) HeaterPosition() float64 {
	return s.dev.HeaterPosition()
}

// HeaterTargetPosition returns the position the heater is moving towards.
func (s *ProductionSystem) HeaterTargetPosition() float64 {
	return s.dev.HeaterTargetPosition()
}

// StartHeaterMovement commands the heater towards targetPosition in
// [0, 1]. The movement is asynchronous; poll HeaterPosition to follow it.
func (s *ProductionSystem) StartHeaterMovement(targetPosition float64, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.tryKey(key); err != nil {
		return err
	}
	return s.dev.StartHeaterMovement(targetPosition)
}

// Safety monitoring.

// IsInSafeMode reports whether the safety monitor has forced the heating
// current down. The flag clears when a new heating command is issued.
func (s *ProductionSystem) IsInSafeMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inSafeMode
}

// EnterSafeMode forces the device's heating current down to the safe-mode
// current. It ignores the lock on purpose: safety intervention must not
// wait for whoever holds the key. The system stays locked.
func (s *ProductionSystem) EnterSafeMode() {
	s.mu.Lock()
	entered := !s.inSafeMode
	if s.dev.HeatingCurrent() > s.heatingCurrentInSafeMode {
		s.hasTargetTemperature = false
		if err := s.dev.StartHeatingWithCurrent(s.heatingCurrentInSafeMode); err != nil {
			log.WithError(err).Error("could not reduce the heating current for safe mode")
		}
	}
	s.inSafeMode = true
	s.mu.Unlock()

	if entered {
		log.Warn("safe mode entered")
		s.bus.Publish(SafeModeEntered{System: s})
	}
}

func (s *ProductionSystem) monitor() {
	defer close(s.monitorDone)
	ticker := time.NewTicker(s.monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopc:
			return
		case <-ticker.C:
			s.checkSafety()
		}
	}
}

// checkSafety enters safe mode if the sensor voltage or, on a calibrated
// system, the heating temperature exceeds its limit. It runs every
// monitorInterval until the readings are back in range, so the heating
// current is forced down again even if something raised it in between.
func (s *ProductionSystem) checkSafety() {
	s.mu.Lock()
	unsafe := s.dev.TemperatureSensorVoltage() > s.maxSafeTemperatureSensorVoltage
	if !unsafe {
		if t, err := s.temperatureLocked(); err == nil && t > s.maxSafeTemperature {
			unsafe = true
		}
	}
	s.mu.Unlock()

	if unsafe {
		s.EnterSafeMode()
	}
}
