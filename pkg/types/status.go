// Package types holds the wire types shared between the daemon and the
// client: status reports, request bodies, and SSE payloads.
package types

import "time"

// Status is the daemon's composite view of the production system, returned
// by GET /status.
type Status struct {
	Simulation               bool     `json:"simulation"`
	HeatingCurrent           float64  `json:"heatingCurrent"`
	TemperatureSensorVoltage float64  `json:"temperatureSensorVoltage"`
	HeaterPosition           float64  `json:"heaterPosition"`
	HeaterTargetPosition     float64  `json:"heaterTargetPosition"`
	Locked                   bool     `json:"locked"`
	InSafeMode               bool     `json:"inSafeMode"`
	Calibrated               bool     `json:"calibrated"`
	BeingCalibrated          bool     `json:"beingCalibrated"`
	Measurements             int      `json:"measurements"`
	// Temperature is only known on a calibrated system.
	Temperature *float64 `json:"temperature,omitempty"`
	// TargetTemperature is set while the system heats towards a commanded
	// temperature rather than a plain current.
	TargetTemperature *float64 `json:"targetTemperature,omitempty"`
	// Calibration state and progress, present while a calibration runs.
	CalibrationState    string   `json:"calibrationState,omitempty"`
	CalibrationProgress *float64 `json:"calibrationProgress,omitempty"`
}

// Measurement is the wire form of one calibration measurement.
type Measurement struct {
	HeatingCurrent float64 `json:"heatingCurrent"`
	SensorVoltage  float64 `json:"sensorVoltage"`
	Temperature    float64 `json:"temperature"`
}

// ExtendedProgress reports per-stage and whole-procedure progress of a
// running calibration. The time estimates are omitted while they are still
// unknown (nothing has finished yet).
type ExtendedProgress struct {
	StageProgress     float64  `json:"stageProgress"`
	StageTimeLeftSecs *float64 `json:"stageTimeLeftSeconds,omitempty"`
	TotalProgress     float64  `json:"totalProgress"`
	TotalTimeLeftSecs *float64 `json:"totalTimeLeftSeconds,omitempty"`
	State             string   `json:"state"`
	HeatingStageIndex int      `json:"heatingStageIndex"`
	HeatingStageCount int      `json:"heatingStageCount"`
}

// Schedule describes the scheduled-calibration state.
type Schedule struct {
	Cron    string     `json:"cron,omitempty"`
	NextRun *time.Time `json:"nextRun,omitempty"`
}

// KeyedRequest carries the lock key for operations on a locked system. An
// empty key means the caller expects the system to be unlocked.
type KeyedRequest struct {
	Key string `json:"key,omitempty"`
}

// HeatingCurrentRequest commands a steady-state heating current, in mA.
type HeatingCurrentRequest struct {
	Current float64 `json:"current"`
	Key     string  `json:"key,omitempty"`
}

// TargetTemperatureRequest commands heating towards a temperature, in °C.
// Requires a calibrated system.
type TargetTemperatureRequest struct {
	Temperature float64 `json:"temperature"`
	Key         string  `json:"key,omitempty"`
}

// HeaterPositionRequest commands a heater movement. Position is a fraction
// of the way between the rearmost (0) and foremost (1) position.
type HeaterPositionRequest struct {
	Position float64 `json:"position"`
	Key      string  `json:"key,omitempty"`
}

// DataFileRequest names the calibration data file to save to or load from.
// An empty path means the configured default.
type DataFileRequest struct {
	Path string `json:"path,omitempty"`
}
