// Package calibration runs the multi-stage calibration procedure that
// collects the measurements linking heating current, sensor voltage, and
// heating temperature.
//
// A Manager drives one procedure: it locks the production system, moves
// the heater to its foremost position, then heats with each configured
// current in turn. Once the sensor voltage has stabilized it publishes a
// TemperatureRequested event and waits for a measurement to be reported
// through the event's callback. Collected measurements go straight into
// the system's calibration data, so an interrupted procedure still
// improves the calibration.
package calibration

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/fibercal/fibercal/pkg/events"
	"github.com/fibercal/fibercal/pkg/fitting"
)

var (
	// ErrAlreadyStarted is returned by Start if the procedure has already
	// been started. Managers are single-use.
	ErrAlreadyStarted = errors.New("the calibration procedure has already been started")

	// ErrNotRunning is returned by Abort if the procedure is not running.
	ErrNotRunning = errors.New("the calibration procedure is not running")

	// ErrNoTemperatureRequested is returned by ReportTemperature if no
	// measurement is currently awaited.
	ErrNoTemperatureRequested = errors.New("no temperature measurement was requested")
)

const (
	// DefaultTickInterval is how often the manager samples the sensor
	// voltage and checks on the procedure.
	DefaultTickInterval = 250 * time.Millisecond

	// DefaultPrecision is the sensor voltage rate of change, in V/s,
	// below which the heating temperature counts as stable.
	DefaultPrecision = 0.01

	// DefaultStabilizationWindow is the trailing window over which the
	// voltage rate of change is evaluated.
	DefaultStabilizationWindow = 5 * time.Second
)

// progressTemperatureMargin is the distance from the modeled final
// temperature, in °C, at which a heating stage counts as complete for
// progress estimation.
const progressTemperatureMargin = 1.0

// ExtendedProgress describes how far along the procedure is. Time
// estimates are only meaningful when the corresponding Known flag is set;
// early in a stage there is nothing to extrapolate from.
type ExtendedProgress struct {
	StageProgress  float64
	StageTimeLeft  time.Duration
	StageTimeKnown bool
	TotalProgress  float64
	TotalTimeLeft  time.Duration
	TotalTimeKnown bool
}

// Manager runs one calibration procedure on one production system.
// Instances are created by the production system's StartCalibration and
// cannot be reused for a second run.
type Manager struct {
	// Overridable before Start.
	TickInterval        time.Duration
	Precision           float64
	StabilizationWindow time.Duration

	system   System
	currents []float64

	now func() time.Time

	mu                     sync.Mutex
	state                  State
	key                    string
	stageIndex             int
	initialHeaterPosition  float64
	stageStart             time.Time
	times                  []float64
	voltages               []float64
	totalPreviousStageTime float64
	worker                 *fitting.Worker
	pending                []events.Event

	stopOnce sync.Once
	stopc    chan struct{}
}

// NewManager returns a manager that will calibrate system using the given
// heating currents in mA. The currents are sorted and deduplicated.
// Currents above the system's maximum are kept, in case the maximum is
// raised while the procedure runs, but reaching one ends the procedure
// with StatusInvalidCurrent.
func NewManager(system System, currents []float64) *Manager {
	seen := make(map[float64]bool, len(currents))
	unique := make([]float64, 0, len(currents))
	for _, c := range currents {
		if !seen[c] {
			seen[c] = true
			unique = append(unique, c)
		}
	}
	sort.Float64s(unique)

	return &Manager{
		TickInterval:        DefaultTickInterval,
		Precision:           DefaultPrecision,
		StabilizationWindow: DefaultStabilizationWindow,
		system:              system,
		currents:            unique,
		now:                 time.Now,
		state:               StateNotYetStarted,
		stageIndex:          -1,
		stopc:               make(chan struct{}),
	}
}

// System returns the production system being calibrated.
func (m *Manager) System() System { return m.system }

// Currents returns the sorted heating currents the procedure uses, in mA.
func (m *Manager) Currents() []float64 {
	out := make([]float64, len(m.currents))
	copy(out, m.currents)
	return out
}

// State returns the state the procedure is in.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsRunning reports whether the procedure has started and not yet ended.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isRunningLocked()
}

func (m *Manager) isRunningLocked() bool {
	return m.state != StateNotYetStarted && m.state != StateDone
}

// HeatingStageIndex returns the index of the ongoing heating stage, or -1
// before the first one. In stage n the current Currents()[n] is used.
func (m *Manager) HeatingStageIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stageIndex
}

// Start begins the calibration procedure: it locks the system, publishes
// CalibrationStarted, and commands the heater to its foremost position.
// It fails if the procedure was already started or the system cannot be
// locked.
func (m *Manager) Start() error {
	if err := m.begin(); err != nil {
		return err
	}
	go m.loop()
	return nil
}

func (m *Manager) begin() error {
	m.mu.Lock()
	if m.state != StateNotYetStarted {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}

	key, err := m.system.Lock()
	if err != nil {
		m.mu.Unlock()
		return errors.Wrap(err, "failed to lock the system for calibration")
	}
	m.key = key

	log.WithField("currents", m.currents).Info("calibration started")
	m.pend(CalibrationStarted{System: m.system, Manager: m})

	if m.hasMoreHeatingStagesLocked() {
		m.startHeaterMovement()
	} else {
		m.finish(m.explainNoMoreHeatingStages())
	}

	pend := m.flushLocked()
	m.mu.Unlock()
	m.publish(pend)
	return nil
}

// Abort ends the procedure early. Measurements already collected are
// kept.
func (m *Manager) Abort() error {
	m.mu.Lock()
	if !m.isRunningLocked() {
		m.mu.Unlock()
		return ErrNotRunning
	}
	m.finish(StatusAborted)
	pend := m.flushLocked()
	m.mu.Unlock()
	m.publish(pend)
	return nil
}

// Done is closed once the procedure has ended.
func (m *Manager) Done() <-chan struct{} {
	return m.stopc
}

func (m *Manager) loop() {
	ticker := time.NewTicker(m.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopc:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

// tick is one pass of the control loop: terminate if the system went into
// safe mode, otherwise advance whatever the current state is waiting on.
func (m *Manager) tick() {
	m.mu.Lock()
	if m.state == StateDone {
		m.mu.Unlock()
		return
	}

	if m.system.IsInSafeMode() {
		m.finish(StatusSafeModeTriggered)
	} else if m.state == StateMovingHeater {
		m.checkHeaterPosition()
	} else if m.state == StateHeating {
		m.checkHeatingProgress()
	}

	pend := m.flushLocked()
	m.mu.Unlock()
	m.publish(pend)
}

func (m *Manager) startHeaterMovement() {
	m.state = StateMovingHeater
	m.initialHeaterPosition = m.system.HeaterPosition()
	if err := m.system.StartHeaterMovement(1.0, m.key); err != nil {
		log.WithError(err).Error("calibration could not move the heater")
		m.finish(StatusAborted)
	}
}

func (m *Manager) checkHeaterPosition() {
	if m.system.HeaterPosition() == 1.0 {
		m.startHeatingStage(0, true)
	}
}

// hasMoreHeatingStagesLocked reports whether another heating stage
// follows the current one: there is a next configured current and it does
// not exceed the system's maximum.
func (m *Manager) hasMoreHeatingStagesLocked() bool {
	next := m.stageIndex + 1
	if next == len(m.currents) {
		return false
	}
	return m.currents[next] <= m.system.MaxHeatingCurrent()
}

// HasMoreHeatingStages reports whether another heating stage follows the
// ongoing one.
func (m *Manager) HasMoreHeatingStages() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasMoreHeatingStagesLocked()
}

// explainNoMoreHeatingStages returns the status that explains why no
// heating stage can follow: every current was used, or the next one is
// over the system's maximum.
func (m *Manager) explainNoMoreHeatingStages() Status {
	if m.stageIndex+1 == len(m.currents) {
		return StatusFinished
	}
	return StatusInvalidCurrent
}

// HeatingStageCount returns the number of heating stages the procedure
// will have if it is not ended early. It can be less than the number of
// configured currents when some exceed the system's maximum.
func (m *Manager) HeatingStageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heatingStageCountLocked()
}

func (m *Manager) heatingStageCountLocked() int {
	return m.remainingHeatingStageCountLocked() + m.stageIndex + 1
}

func (m *Manager) remainingHeatingStageCountLocked() int {
	count := 0
	for _, c := range m.currents[m.stageIndex+1:] {
		if c > m.system.MaxHeatingCurrent() {
			break
		}
		count++
	}
	return count
}

// startHeatingStage begins the next heating stage. previousTemperature is
// the measurement taken at the end of the previous stage; first marks the
// first stage, which has no previous measurement.
func (m *Manager) startHeatingStage(previousTemperature float64, first bool) {
	m.state = StateHeating
	m.stageIndex++
	m.stageStart = m.now()
	if m.stageIndex == 0 {
		m.totalPreviousStageTime = 0
	}
	m.times = nil
	m.voltages = nil

	current := m.currents[m.stageIndex]

	est := fitting.FirstStartingEstimates(current)
	if !first {
		if prev, ok := m.worker.Solution(); ok {
			extra := current - m.currents[m.stageIndex-1]
			est = fitting.SubsequentStartingEstimates(previousTemperature, prev, extra)
		}
	}
	m.worker = fitting.NewWorker(est)
	m.worker.Start()

	log.WithFields(log.Fields{
		"stage":   m.stageIndex,
		"current": current,
	}).Info("calibration heating stage started")

	if err := m.system.StartHeatingWithCurrent(current, m.key); err != nil {
		log.WithError(err).Error("calibration could not start heating")
		m.finish(StatusAborted)
	}
}

// checkHeatingProgress samples the sensor voltage, and either feeds the
// samples to the fitting worker or, once the voltage has stabilized,
// requests a temperature measurement.
func (m *Manager) checkHeatingProgress() {
	t := m.now().Sub(m.stageStart).Seconds()
	m.times = append(m.times, t)
	m.voltages = append(m.voltages, m.system.TemperatureSensorVoltage())

	if !m.voltageStable() {
		if err := m.worker.RefreshData(m.times, m.voltages); err != nil {
			log.WithError(err).Warn("could not refresh fitting data")
		}
		return
	}

	m.totalPreviousStageTime += t
	m.worker.Stop()
	m.state = StateWaitingForTemperature
	m.pend(TemperatureRequested{
		System:  m.system,
		Manager: m,
		Report:  m.ReportTemperature,
	})
}

// voltageStable reports whether the sensor voltage's rate of change over
// the trailing stabilization window has fallen below Precision. It is
// never true before a full window of samples exists.
func (m *Manager) voltageStable() bool {
	n := len(m.times)
	if n < 2 {
		return false
	}
	last := m.times[n-1]
	window := m.StabilizationWindow.Seconds()
	if last < window {
		return false
	}

	i := 0
	for i < n-1 && m.times[i] < last-window {
		i++
	}
	span := last - m.times[i]
	if span <= 0 {
		return false
	}
	rate := math.Abs(m.voltages[n-1]-m.voltages[i]) / span
	return rate < m.Precision
}

// ReportTemperature supplies the temperature measurement, in °C, that an
// outstanding TemperatureRequested event asked for. The measurement is
// recorded together with the current heating current and sensor voltage,
// and the procedure moves on to the next stage or ends.
func (m *Manager) ReportTemperature(temperature float64) error {
	m.mu.Lock()
	if m.state != StateWaitingForTemperature {
		m.mu.Unlock()
		return ErrNoTemperatureRequested
	}

	current := m.system.HeatingCurrent()
	voltage := m.system.TemperatureSensorVoltage()
	m.system.CalibrationData().AddMeasurement(current, voltage, temperature)

	log.WithFields(log.Fields{
		"current":     current,
		"voltage":     voltage,
		"temperature": temperature,
	}).Info("calibration measurement recorded")

	if m.hasMoreHeatingStagesLocked() {
		m.pend(TemperatureRequestOver{System: m.system, Manager: m})
		m.startHeatingStage(temperature, false)
	} else {
		// finish publishes TemperatureRequestOver itself.
		m.finish(m.explainNoMoreHeatingStages())
	}

	pend := m.flushLocked()
	m.mu.Unlock()
	m.publish(pend)
	return nil
}

// finish ends the procedure: it stops the fitting worker, returns the
// heater to idle (unless safe mode owns it), unlocks the system, and
// publishes CalibrationOver with the used and unused currents.
func (m *Manager) finish(status Status) {
	if m.state == StateHeating {
		m.worker.Stop()
	}
	if m.state == StateWaitingForTemperature {
		m.pend(TemperatureRequestOver{System: m.system, Manager: m})
	}
	m.state = StateDone

	if status != StatusSafeModeTriggered {
		if err := m.system.Idle(m.key); err != nil {
			log.WithError(err).Warn("could not idle the system after calibration")
		}
	}
	if err := m.system.Unlock(m.key); err != nil {
		log.WithError(err).Warn("could not unlock the system after calibration")
	}

	finished := m.finishedHeatingStages(status)
	used := make([]float64, finished)
	copy(used, m.currents[:finished])
	unused := make([]float64, len(m.currents)-finished)
	copy(unused, m.currents[finished:])

	log.WithFields(log.Fields{
		"status": status.String(),
		"used":   used,
		"unused": unused,
	}).Info("calibration over")

	m.pend(CalibrationOver{
		System:         m.system,
		Manager:        m,
		Status:         status,
		UsedCurrents:   used,
		UnusedCurrents: unused,
	})

	m.stopOnce.Do(func() { close(m.stopc) })
}

// finishedHeatingStages returns how many heating stages completed with a
// measurement. A stage counts once its measurement is recorded; an
// aborted stage does not.
func (m *Manager) finishedHeatingStages(status Status) int {
	if status == StatusInvalidCurrent || status == StatusFinished {
		return m.stageIndex + 1
	}
	if m.stageIndex < 0 {
		return 0
	}
	return m.stageIndex
}

func (m *Manager) pend(e events.Event) {
	m.pending = append(m.pending, e)
}

func (m *Manager) flushLocked() []events.Event {
	pend := m.pending
	m.pending = nil
	return pend
}

// publish delivers pending events outside the manager's mutex, so
// handlers may call back into the manager.
func (m *Manager) publish(pend []events.Event) {
	for _, e := range pend {
		m.system.Bus().Publish(e)
	}
}
