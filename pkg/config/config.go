// Package config holds the daemon configuration: device limits, operating
// currents, the calibration schedule, and where calibration data is kept
// on disk.
package config

import "github.com/sirupsen/logrus"

type Config interface {
	Simulation() bool
	MaxHeatingCurrent() float64
	MaxSafeTemperatureSensorVoltage() float64
	MaxSafeTemperature() float64
	HeatingCurrentInSafeMode() float64
	HeatingCurrentWhileIdle() float64
	CalibrationCurrents() []float64
	CalibrationSchedule() string
	CalibrationDataPath() string
	AllowNonRootAccess() bool

	SetSimulation(bool)
	SetMaxHeatingCurrent(float64)
	SetMaxSafeTemperatureSensorVoltage(float64)
	SetMaxSafeTemperature(float64)
	SetHeatingCurrentInSafeMode(float64)
	SetHeatingCurrentWhileIdle(float64)
	SetCalibrationCurrents([]float64)
	SetCalibrationSchedule(string)
	SetCalibrationDataPath(string)
	SetAllowNonRootAccess(bool)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error

	// LogrusFields returns the configuration as logrus fields, for logging.
	LogrusFields() logrus.Fields
}
