package daemon

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fibercal/fibercal/pkg/caldata"
	"github.com/fibercal/fibercal/pkg/calibration"
	"github.com/fibercal/fibercal/pkg/config"
	"github.com/fibercal/fibercal/pkg/device"
	"github.com/fibercal/fibercal/pkg/system"
	"github.com/fibercal/fibercal/pkg/types"
	"github.com/fibercal/fibercal/pkg/version"
)

// abortWithError maps domain errors onto HTTP status codes: state conflicts
// (locking, calibration lifecycle) become 409, invalid values 400,
// everything else 500.
func abortWithError(c *gin.Context, err error) {
	code := http.StatusInternalServerError

	switch {
	case errors.Is(err, system.ErrSystemLocked),
		errors.Is(err, system.ErrSystemNotLocked),
		errors.Is(err, system.ErrWrongKey),
		errors.Is(err, caldata.ErrNotCalibrated),
		errors.Is(err, calibration.ErrAlreadyStarted),
		errors.Is(err, calibration.ErrNotRunning),
		errors.Is(err, calibration.ErrNoTemperatureRequested):
		code = http.StatusConflict
	}

	var (
		badCurrent  *device.InvalidHeatingCurrentError
		badPosition *device.InvalidHeaterPositionError
		badFactor   *device.InvalidSpeedFactorError
		badTarget   *system.InvalidTargetTemperatureError
	)
	if errors.As(err, &badCurrent) || errors.As(err, &badPosition) ||
		errors.As(err, &badFactor) || errors.As(err, &badTarget) ||
		errors.Is(err, system.ErrRequiresSimulation) {
		code = http.StatusBadRequest
	}

	c.IndentedJSON(code, err.Error())
	_ = c.AbortWithError(code, err)
}

func getStatus(c *gin.Context) {
	st := types.Status{
		Simulation:               sys.IsSimulation(),
		HeatingCurrent:           sys.HeatingCurrent(),
		TemperatureSensorVoltage: sys.TemperatureSensorVoltage(),
		HeaterPosition:           sys.HeaterPosition(),
		HeaterTargetPosition:     sys.HeaterTargetPosition(),
		Locked:                   sys.IsLocked(),
		InSafeMode:               sys.IsInSafeMode(),
		Calibrated:               sys.IsCalibrated(),
		BeingCalibrated:          sys.IsBeingCalibrated(),
		Measurements:             sys.CalibrationData().Len(),
	}

	if t, err := sys.Temperature(); err == nil {
		st.Temperature = &t
	}
	if target, ok := sys.TargetTemperature(); ok {
		st.TargetTemperature = &target
	}
	if m := sys.CalibrationManager(); m != nil {
		st.CalibrationState = m.State().String()
		p := m.Progress()
		st.CalibrationProgress = &p
	}

	c.IndentedJSON(http.StatusOK, st)
}

func getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(conf)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

// setLimit binds a float64 body, validates it and stores it through set,
// which updates both the config and the running system.
func setLimit(c *gin.Context, name string, set func(float64)) {
	var v float64
	if err := c.BindJSON(&v); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if v <= 0 {
		err := fmt.Errorf("%s must be positive, got %g", name, v)
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	set(v)
	if err := conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	logrus.Infof("set %s to %g", name, v)
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("set %s to %g", name, v))
}

func setMaxHeatingCurrent(c *gin.Context) {
	setLimit(c, "max heating current", func(v float64) {
		conf.SetMaxHeatingCurrent(v)
		sys.SetMaxHeatingCurrent(v)
	})
}

func setMaxSafeVoltage(c *gin.Context) {
	setLimit(c, "max safe temperature sensor voltage", func(v float64) {
		conf.SetMaxSafeTemperatureSensorVoltage(v)
		sys.SetMaxSafeTemperatureSensorVoltage(v)
	})
}

func setMaxSafeTemperature(c *gin.Context) {
	setLimit(c, "max safe temperature", func(v float64) {
		conf.SetMaxSafeTemperature(v)
		sys.SetMaxSafeTemperature(v)
	})
}

func lockSystem(c *gin.Context) {
	key, err := sys.Lock()
	if err != nil {
		abortWithError(c, err)
		return
	}

	logrus.Info("system locked")
	c.IndentedJSON(http.StatusCreated, key)
}

func unlockSystem(c *gin.Context) {
	var key string
	if err := c.BindJSON(&key); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if err := sys.Unlock(key); err != nil {
		abortWithError(c, err)
		return
	}

	logrus.Info("system unlocked")
	c.IndentedJSON(http.StatusCreated, "ok")
}

func setHeatingCurrent(c *gin.Context) {
	var req types.HeatingCurrentRequest
	if err := c.BindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if err := sys.StartHeatingWithCurrent(req.Current, req.Key); err != nil {
		abortWithError(c, err)
		return
	}

	logrus.Infof("heating with %g mA", req.Current)
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("heating with %g mA", req.Current))
}

func setTargetTemperature(c *gin.Context) {
	var req types.TargetTemperatureRequest
	if err := c.BindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if err := sys.StartHeatingToTemperature(req.Temperature, req.Key); err != nil {
		abortWithError(c, err)
		return
	}

	logrus.Infof("heating towards %g °C with %g mA", req.Temperature, sys.HeatingCurrent())
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("heating towards %g °C", req.Temperature))
}

func setHeaterPosition(c *gin.Context) {
	var req types.HeaterPositionRequest
	if err := c.BindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if err := sys.StartHeaterMovement(req.Position, req.Key); err != nil {
		abortWithError(c, err)
		return
	}

	logrus.Infof("moving heater to %g", req.Position)
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("moving heater to %g", req.Position))
}

func idleSystem(c *gin.Context) {
	var req types.KeyedRequest
	if err := c.BindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if err := sys.Idle(req.Key); err != nil {
		abortWithError(c, err)
		return
	}

	logrus.Info("system idle")
	c.IndentedJSON(http.StatusCreated, "ok")
}

func startCalibration(c *gin.Context) {
	var currents []float64
	if err := c.BindJSON(&currents); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	if len(currents) == 0 {
		currents = conf.CalibrationCurrents()
	}

	m, err := sys.StartCalibration(currents)
	if err != nil {
		abortWithError(c, err)
		return
	}

	logrus.WithField("currents", m.Currents()).Info("calibration started")
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("calibrating with currents %v", m.Currents()))
}

func abortCalibration(c *gin.Context) {
	sys.AbortCalibration()
	c.IndentedJSON(http.StatusOK, "ok")
}

func getCalibrationProgress(c *gin.Context) {
	m := sys.CalibrationManager()
	if m == nil {
		abortWithError(c, calibration.ErrNotRunning)
		return
	}
	c.IndentedJSON(http.StatusOK, m.Progress())
}

func getExtendedProgress(c *gin.Context) {
	m := sys.CalibrationManager()
	if m == nil {
		abortWithError(c, calibration.ErrNotRunning)
		return
	}

	ep := m.ExtendedProgress()
	resp := types.ExtendedProgress{
		StageProgress:     ep.StageProgress,
		TotalProgress:     ep.TotalProgress,
		State:             m.State().String(),
		HeatingStageIndex: m.HeatingStageIndex(),
		HeatingStageCount: m.HeatingStageCount(),
	}
	if ep.StageTimeKnown {
		secs := ep.StageTimeLeft.Seconds()
		resp.StageTimeLeftSecs = &secs
	}
	if ep.TotalTimeKnown {
		secs := ep.TotalTimeLeft.Seconds()
		resp.TotalTimeLeftSecs = &secs
	}

	c.IndentedJSON(http.StatusOK, resp)
}

func reportTemperature(c *gin.Context) {
	var temperature float64
	if err := c.BindJSON(&temperature); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	m := sys.CalibrationManager()
	if m == nil {
		abortWithError(c, calibration.ErrNotRunning)
		return
	}

	if err := m.ReportTemperature(temperature); err != nil {
		abortWithError(c, err)
		return
	}

	logrus.Infof("temperature reported: %g °C", temperature)
	c.IndentedJSON(http.StatusCreated, "ok")
}

func getSchedule(c *gin.Context) {
	resp := types.Schedule{Cron: conf.CalibrationSchedule()}
	if next, running := scheduler.Status(); running && !next.IsZero() {
		resp.NextRun = &next
	}
	c.IndentedJSON(http.StatusOK, resp)
}

func setSchedule(c *gin.Context) {
	var expr string
	if err := c.BindJSON(&expr); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if expr == "" {
		conf.SetCalibrationSchedule("")
		if err := conf.Save(); err != nil {
			logrus.Errorf("saveConfig failed: %v", err)
			c.IndentedJSON(http.StatusInternalServerError, err.Error())
			_ = c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		scheduler.Stop()
		logrus.Info("calibration schedule disabled")
		c.IndentedJSON(http.StatusCreated, "calibration schedule disabled")
		return
	}

	if err := scheduler.Schedule(expr); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	conf.SetCalibrationSchedule(expr)
	if err := conf.Save(); err != nil {
		logrus.Errorf("saveConfig failed: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	scheduler.Start()

	next, _ := scheduler.Status()
	logrus.Infof("calibration scheduled, next run at %s", next.Format(time.DateTime))
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("next calibration at %s", next.Format(time.DateTime)))
}

func postponeCalibration(c *gin.Context) {
	var durationStr string
	if err := c.BindJSON(&durationStr); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if err := scheduler.Postpone(d); err != nil {
		abortWithError(c, err)
		return
	}

	logrus.Infof("next calibration postponed by %s", d)
	c.IndentedJSON(http.StatusCreated, "ok")
}

func skipCalibration(c *gin.Context) {
	if err := scheduler.Skip(); err != nil {
		abortWithError(c, err)
		return
	}

	logrus.Info("next calibration skipped")
	c.IndentedJSON(http.StatusCreated, "ok")
}

func getCalibrationData(c *gin.Context) {
	measurements := sys.CalibrationData().Measurements()
	resp := make([]types.Measurement, len(measurements))
	for i, m := range measurements {
		resp[i] = types.Measurement{
			HeatingCurrent: m.HeatingCurrent,
			SensorVoltage:  m.SensorVoltage,
			Temperature:    m.Temperature,
		}
	}
	c.IndentedJSON(http.StatusOK, resp)
}

func saveCalibrationData(c *gin.Context) {
	var req types.DataFileRequest
	if err := c.BindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	path := req.Path
	if path == "" {
		path = conf.CalibrationDataPath()
	}

	if err := sys.CalibrationData().SaveFile(path); err != nil {
		logrus.Errorf("failed to save calibration data: %v", err)
		c.IndentedJSON(http.StatusInternalServerError, err.Error())
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	logrus.Infof("calibration data saved to %s", path)
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("calibration data saved to %s", path))
}

func loadCalibrationData(c *gin.Context) {
	var req types.DataFileRequest
	if err := c.BindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	path := req.Path
	if path == "" {
		path = conf.CalibrationDataPath()
	}

	data, err := caldata.LoadFile(path)
	if err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	sys.SetCalibrationData(data)

	logrus.Infof("calibration data loaded from %s (%d measurements)", path, data.Len())
	c.IndentedJSON(http.StatusCreated, fmt.Sprintf("loaded %d measurements from %s", data.Len(), path))
}

func magicCalibration(c *gin.Context) {
	if err := sys.PerformMagicCalibration(); err != nil {
		abortWithError(c, err)
		return
	}

	logrus.Infof("magic calibration done, %d measurements", sys.CalibrationData().Len())
	c.IndentedJSON(http.StatusCreated, "ok")
}

func getSpeedFactor(c *gin.Context) {
	factor, err := sys.SpeedFactor()
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, factor)
}

func setSpeedFactor(c *gin.Context) {
	var factor float64
	if err := c.BindJSON(&factor); err != nil {
		c.IndentedJSON(http.StatusBadRequest, err.Error())
		_ = c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	if err := sys.SetSpeedFactor(factor); err != nil {
		abortWithError(c, err)
		return
	}

	logrus.Infof("set speed factor to %g", factor)
	c.IndentedJSON(http.StatusCreated, "ok")
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
