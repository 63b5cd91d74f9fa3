// Package daemon runs the control daemon: it owns the production system,
// serves the HTTP API on a unix socket, streams bus events over SSE, and
// drives scheduled calibrations.
package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fibercal/fibercal/pkg/caldata"
	"github.com/fibercal/fibercal/pkg/config"
	"github.com/fibercal/fibercal/pkg/device"
	"github.com/fibercal/fibercal/pkg/events"
	"github.com/fibercal/fibercal/pkg/system"
)

var (
	conf      config.Config
	sys       *system.ProductionSystem
	sseHub    *events.Hub
	scheduler *Scheduler
)

func setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logrus.StandardLogger()))
	router.GET("/status", getStatus)
	router.GET("/config", getConfig)
	router.PUT("/max-heating-current", setMaxHeatingCurrent)
	router.PUT("/max-safe-voltage", setMaxSafeVoltage)
	router.PUT("/max-safe-temperature", setMaxSafeTemperature)
	router.POST("/lock", lockSystem)
	router.POST("/unlock", unlockSystem)
	router.PUT("/heating-current", setHeatingCurrent)
	router.PUT("/target-temperature", setTargetTemperature)
	router.PUT("/heater-position", setHeaterPosition)
	router.POST("/idle", idleSystem)
	router.POST("/calibration", startCalibration)
	router.DELETE("/calibration", abortCalibration)
	router.GET("/calibration/progress", getCalibrationProgress)
	router.GET("/calibration/extended-progress", getExtendedProgress)
	router.POST("/calibration/temperature", reportTemperature)
	router.GET("/calibration/schedule", getSchedule)
	router.PUT("/calibration/schedule", setSchedule)
	router.POST("/calibration/postpone", postponeCalibration)
	router.POST("/calibration/skip", skipCalibration)
	router.GET("/calibration-data", getCalibrationData)
	router.POST("/calibration-data/save", saveCalibrationData)
	router.POST("/calibration-data/load", loadCalibrationData)
	router.POST("/magic-calibration", magicCalibration)
	router.GET("/speed-factor", getSpeedFactor)
	router.PUT("/speed-factor", setSpeedFactor)
	router.GET("/events", streamEvents)
	router.GET("/version", getVersion)

	return router
}

// newDevice picks the device backend. Only the simulation is built into
// this binary; driving real hardware needs the measurement-rack transport,
// which lives outside this repository.
func newDevice(c config.Config) (device.Interface, error) {
	if c.Simulation() {
		return device.NewSimulated(), nil
	}
	return nil, pkgerrors.New("no hardware backend in this build; set \"simulation\": true in the config")
}

// applyLimits pushes the configured safety limits and operating currents
// onto the production system.
func applyLimits() {
	sys.SetMaxHeatingCurrent(conf.MaxHeatingCurrent())
	sys.SetMaxSafeTemperatureSensorVoltage(conf.MaxSafeTemperatureSensorVoltage())
	sys.SetMaxSafeTemperature(conf.MaxSafeTemperature())
	sys.SetHeatingCurrentInSafeMode(conf.HeatingCurrentInSafeMode())
	sys.SetHeatingCurrentWhileIdle(conf.HeatingCurrentWhileIdle())
}

// applySchedule (re)arms the calibration scheduler from the config.
func applySchedule() {
	expr := conf.CalibrationSchedule()
	if expr == "" {
		scheduler.Stop()
		return
	}
	if err := scheduler.Schedule(expr); err != nil {
		logrus.WithError(err).Errorf("invalid calibration schedule %q", expr)
		return
	}
	scheduler.Start()
}

func loadCalibrationDataFile() {
	path := conf.CalibrationDataPath()
	if path == "" {
		return
	}
	data, err := caldata.LoadFile(path)
	if err != nil {
		if os.IsNotExist(pkgerrors.Cause(err)) {
			logrus.WithField("path", path).Info("no calibration data file yet")
			return
		}
		logrus.WithError(err).Warn("failed to load calibration data")
		return
	}
	sys.SetCalibrationData(data)
	logrus.WithFields(logrus.Fields{
		"path":         path,
		"measurements": data.Len(),
	}).Info("calibration data loaded")
}

// persistCalibrationData writes the current dataset back to the configured
// path. Called on every calibration-data change so a daemon restart keeps
// the measurements.
func persistCalibrationData(data *caldata.Data) {
	path := conf.CalibrationDataPath()
	if path == "" {
		return
	}
	if err := data.SaveFile(path); err != nil {
		logrus.WithError(err).Warn("failed to persist calibration data")
	}
}

func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	router := setupRoutes()

	var err error
	conf, err = config.NewFile(configPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	dev, err := newDevice(conf)
	if err != nil {
		return err
	}

	sys = system.New(dev, events.NewBus())
	applyLimits()
	loadCalibrationDataFile()

	sseHub = events.NewHub()
	bridgeEvents(sys.Bus(), sseHub)
	sys.Bus().Subscribe(func(e events.Event) {
		if changed, ok := e.(caldata.Changed); ok {
			persistCalibrationData(changed.Data)
		}
	})

	scheduler = NewScheduler(runScheduledCalibration, scheduledCalibrationPreCheck,
		notifyUpcomingCalibration, notifySchedulerError)
	applySchedule()

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			err := conf.Load()
			if err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			applyLimits()
			applySchedule()
			logrus.Infof("config reloaded")
		}
	}()

	srv := &http.Server{
		Handler: router,
	}

	// Create the socket to listen on:
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		logrus.Fatal(err)
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			logrus.Fatal(err)
		}
	}

	// Serve HTTP on unix socket
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	logrus.Info("shutting down http server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(ctx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	logrus.Info("stopping calibration scheduler")
	scheduler.Stop()

	sys.AbortCalibration()
	if err := sys.Idle(""); err != nil {
		logrus.Errorf("failed to idle the heater before exiting: %v", err)
	}

	logrus.Info("stopping safety monitor")
	sys.Close()

	logrus.Info("exiting")
	return nil
}
