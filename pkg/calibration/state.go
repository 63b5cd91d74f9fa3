package calibration

// State is the state the calibration procedure is in.
type State int

const (
	// StateNotYetStarted means Start has not been called.
	StateNotYetStarted State = iota

	// StateMovingHeater means the manager is waiting for the heater to
	// reach its foremost position.
	StateMovingHeater

	// StateHeating means the manager is waiting for the sensor voltage to
	// stabilize so a measurement can be taken.
	StateHeating

	// StateWaitingForTemperature means the manager is waiting for a
	// temperature measurement to be reported.
	StateWaitingForTemperature

	// StateDone means the procedure has ended.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateNotYetStarted:
		return "not-yet-started"
	case StateMovingHeater:
		return "moving-heater"
	case StateHeating:
		return "heating"
	case StateWaitingForTemperature:
		return "waiting-for-temperature"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// Status explains why a calibration procedure ended.
type Status int

const (
	// StatusAborted means the procedure was aborted by a client.
	StatusAborted Status = iota

	// StatusSafeModeTriggered means the procedure was terminated because
	// the production system entered its safe mode.
	StatusSafeModeTriggered

	// StatusInvalidCurrent means the procedure was terminated because the
	// next heating current exceeds the system's maximum heating current.
	StatusInvalidCurrent

	// StatusFinished means measurements were taken for every configured
	// heating current.
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusAborted:
		return "aborted"
	case StatusSafeModeTriggered:
		return "safe-mode-triggered"
	case StatusInvalidCurrent:
		return "invalid-current"
	case StatusFinished:
		return "finished"
	}
	return "unknown"
}
