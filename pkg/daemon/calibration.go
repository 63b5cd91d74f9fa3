package daemon

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fibercal/fibercal/pkg/types"
)

// Scheduler callbacks for cron-driven calibration runs. The run uses the
// configured default currents; the operator still answers the temperature
// requests through the API, guided by the SSE stream.

func runScheduledCalibration() error {
	currents := conf.CalibrationCurrents()
	logrus.WithField("currents", currents).Info("starting scheduled calibration")

	m, err := sys.StartCalibration(currents)
	if err != nil {
		return err
	}

	// The scheduler runs the task in its own goroutine, so waiting here
	// keeps "one run at a time" without blocking anything else.
	<-m.Done()
	logrus.Info("scheduled calibration over")
	return nil
}

// scheduledCalibrationPreCheck postpones a scheduled run while the system is
// busy. The scheduler retries for a while before giving up on this run.
func scheduledCalibrationPreCheck() error {
	if sys.IsBeingCalibrated() {
		return fmt.Errorf("a calibration is already running")
	}
	if sys.IsLocked() {
		return fmt.Errorf("the system is locked")
	}
	if sys.IsInSafeMode() {
		return fmt.Errorf("the system is in safe mode")
	}
	return nil
}

func notifyUpcomingCalibration(data any) {
	runAt, ok := data.(time.Time)
	if !ok {
		return
	}
	logrus.Infof("scheduled calibration upcoming at %s", runAt.Format(time.DateTime))
	sseHub.PublishMessage("calibration.upcoming", types.ScheduleNoticePayload{RunAt: runAt.Unix()})
}

func notifySchedulerError(data any) {
	err, ok := data.(error)
	if !ok {
		return
	}
	logrus.WithError(err).Warn("scheduled calibration")
	sseHub.PublishMessage("calibration.schedule-error", types.ScheduleErrorPayload{Message: err.Error()})
}
