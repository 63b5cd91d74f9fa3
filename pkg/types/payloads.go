package types

// SSE payloads. The event name on the stream is the bus event's name, e.g.
// "calibration.over"; these are the JSON bodies that go with it.

// PropertyChangedPayload accompanies system.properties-changed.
type PropertyChangedPayload struct {
	Property string `json:"property"`
}

// CalibrationStartedPayload accompanies calibration.started.
type CalibrationStartedPayload struct {
	Currents []float64 `json:"currents"`
}

// CalibrationOverPayload accompanies calibration.over.
type CalibrationOverPayload struct {
	Status         string    `json:"status"`
	UsedCurrents   []float64 `json:"usedCurrents"`
	UnusedCurrents []float64 `json:"unusedCurrents"`
}

// TemperatureRequestedPayload accompanies calibration.temperature-requested.
// The daemon expects a POST /calibration/temperature in response.
type TemperatureRequestedPayload struct {
	HeatingStageIndex int `json:"heatingStageIndex"`
}

// DataChangedPayload accompanies calibration-data.changed.
type DataChangedPayload struct {
	Measurements int `json:"measurements"`
}

// ScheduleNoticePayload accompanies calibration.upcoming.
type ScheduleNoticePayload struct {
	RunAt int64 `json:"runAt"`
}

// ScheduleErrorPayload accompanies calibration.schedule-error.
type ScheduleErrorPayload struct {
	Message string `json:"message"`
}
