package config

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fibercal/fibercal/pkg/utils/ptr"
)

var defaultFileConfig = &RawFileConfig{
	Simulation:                      ptr.To(false),
	MaxHeatingCurrent:               ptr.To(28.0),
	MaxSafeTemperatureSensorVoltage: ptr.To(6.7),
	MaxSafeTemperature:              ptr.To(1700.0),
	HeatingCurrentInSafeMode:        ptr.To(4.0),
	HeatingCurrentWhileIdle:         ptr.To(4.0),
	// About a dozen currents give the estimation functions enough points
	// to fit properly.
	CalibrationCurrents: ptr.To([]float64{6, 8, 10, 12, 14, 16, 18, 20, 22, 24, 26, 28}),
	CalibrationSchedule: ptr.To(""),
	CalibrationDataPath: ptr.To("/var/lib/fibercal/device.cal"),
	AllowNonRootAccess:  ptr.To(false),
}

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = defaultFileConfig
	}

	return &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}
}

// RawFileConfig is the on-disk form. Pointer fields distinguish "absent"
// from zero values, so a partial file falls back to the defaults for the
// keys it omits.
type RawFileConfig struct {
	Simulation                      *bool      `json:"simulation,omitempty"`
	MaxHeatingCurrent               *float64   `json:"maxHeatingCurrent,omitempty"`
	MaxSafeTemperatureSensorVoltage *float64   `json:"maxSafeTemperatureSensorVoltage,omitempty"`
	MaxSafeTemperature              *float64   `json:"maxSafeTemperature,omitempty"`
	HeatingCurrentInSafeMode        *float64   `json:"heatingCurrentInSafeMode,omitempty"`
	HeatingCurrentWhileIdle         *float64   `json:"heatingCurrentWhileIdle,omitempty"`
	CalibrationCurrents             *[]float64 `json:"calibrationCurrents,omitempty"`
	CalibrationSchedule             *string    `json:"calibrationSchedule,omitempty"`
	CalibrationDataPath             *string    `json:"calibrationDataPath,omitempty"`
	AllowNonRootAccess              *bool      `json:"allowNonRootAccess,omitempty"`
}

func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	return &RawFileConfig{
		Simulation:                      ptr.To(c.Simulation()),
		MaxHeatingCurrent:               ptr.To(c.MaxHeatingCurrent()),
		MaxSafeTemperatureSensorVoltage: ptr.To(c.MaxSafeTemperatureSensorVoltage()),
		MaxSafeTemperature:              ptr.To(c.MaxSafeTemperature()),
		HeatingCurrentInSafeMode:        ptr.To(c.HeatingCurrentInSafeMode()),
		HeatingCurrentWhileIdle:         ptr.To(c.HeatingCurrentWhileIdle()),
		CalibrationCurrents:             ptr.To(c.CalibrationCurrents()),
		CalibrationSchedule:             ptr.To(c.CalibrationSchedule()),
		CalibrationDataPath:             ptr.To(c.CalibrationDataPath()),
		AllowNonRootAccess:              ptr.To(c.AllowNonRootAccess()),
	}, nil
}

// get returns *field if set, falling back to *def. The caller must hold
// at least a read lock.
func get[T any](field, def *T) T {
	if field != nil {
		return *field
	}
	return *def
}

func (f *File) Simulation() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return get(f.c.Simulation, defaultFileConfig.Simulation)
}

func (f *File) MaxHeatingCurrent() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return get(f.c.MaxHeatingCurrent, defaultFileConfig.MaxHeatingCurrent)
}

func (f *File) MaxSafeTemperatureSensorVoltage() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return get(f.c.MaxSafeTemperatureSensorVoltage, defaultFileConfig.MaxSafeTemperatureSensorVoltage)
}

func (f *File) MaxSafeTemperature() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return get(f.c.MaxSafeTemperature, defaultFileConfig.MaxSafeTemperature)
}

func (f *File) HeatingCurrentInSafeMode() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return get(f.c.HeatingCurrentInSafeMode, defaultFileConfig.HeatingCurrentInSafeMode)
}

func (f *File) HeatingCurrentWhileIdle() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return get(f.c.HeatingCurrentWhileIdle, defaultFileConfig.HeatingCurrentWhileIdle)
}

func (f *File) CalibrationCurrents() []float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	currents := get(f.c.CalibrationCurrents, defaultFileConfig.CalibrationCurrents)
	out := make([]float64, len(currents))
	copy(out, currents)
	return out
}

func (f *File) CalibrationSchedule() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return get(f.c.CalibrationSchedule, defaultFileConfig.CalibrationSchedule)
}

func (f *File) CalibrationDataPath() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return get(f.c.CalibrationDataPath, defaultFileConfig.CalibrationDataPath)
}

func (f *File) AllowNonRootAccess() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return get(f.c.AllowNonRootAccess, defaultFileConfig.AllowNonRootAccess)
}

func (f *File) SetSimulation(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Simulation = &b
}

func (f *File) SetMaxHeatingCurrent(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.MaxHeatingCurrent = &v
}

func (f *File) SetMaxSafeTemperatureSensorVoltage(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.MaxSafeTemperatureSensorVoltage = &v
}

func (f *File) SetMaxSafeTemperature(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.MaxSafeTemperature = &v
}

func (f *File) SetHeatingCurrentInSafeMode(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.HeatingCurrentInSafeMode = &v
}

func (f *File) SetHeatingCurrentWhileIdle(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.HeatingCurrentWhileIdle = &v
}

func (f *File) SetCalibrationCurrents(currents []float64) {
	c := make([]float64, len(currents))
	copy(c, currents)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.CalibrationCurrents = &c
}

func (f *File) SetCalibrationSchedule(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.CalibrationSchedule = &s
}

func (f *File) SetCalibrationDataPath(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.CalibrationDataPath = &s
}

func (f *File) SetAllowNonRootAccess(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.AllowNonRootAccess = &b
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		// If the file is empty, return the empty config.
		// Do not make f.c a nil.
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"simulation":          f.Simulation(),
		"maxHeatingCurrent":   f.MaxHeatingCurrent(),
		"maxSafeVoltage":      f.MaxSafeTemperatureSensorVoltage(),
		"maxSafeTemperature":  f.MaxSafeTemperature(),
		"safeModeCurrent":     f.HeatingCurrentInSafeMode(),
		"idleCurrent":         f.HeatingCurrentWhileIdle(),
		"calibrationCurrents": f.CalibrationCurrents(),
		"calibrationSchedule": f.CalibrationSchedule(),
		"calibrationDataPath": f.CalibrationDataPath(),
		"allowNonRootAccess":  f.AllowNonRootAccess(),
	}
}
