package calibration

import (
	"math"
	"time"
)

// Progress estimates what fraction of the ongoing calibration stage has
// passed, in [0, 1]. Before the procedure starts it is 0; once it is done
// it is 1. During heating the estimate comes from the fitting worker's
// current model, so it stays at 0 until a first fit exists.
func (m *Manager) Progress() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progressLocked()
}

func (m *Manager) progressLocked() float64 {
	switch m.state {
	case StateNotYetStarted:
		return 0
	case StateMovingHeater:
		return heaterMovementProgress(m.system.HeaterPosition(), m.initialHeaterPosition)
	case StateHeating:
		solution, ok := m.worker.Solution()
		if !ok || len(m.times) == 0 {
			return 0
		}
		return heatingProgress(
			solution.StartingTemperature,
			solution.FinalTemperature,
			solution.Tau,
			m.times[len(m.times)-1])
	}
	return 1
}

func heaterMovementProgress(position, initialPosition float64) float64 {
	if initialPosition == 1.0 {
		return 1
	}
	return (position - initialPosition) / (1.0 - initialPosition)
}

// heatingProgress estimates the fraction of the heating stage that has
// passed, from the modeled exponential: the stage ends when the
// temperature is within progressTemperatureMargin of its final value.
func heatingProgress(t0, t1, tau, timePassed float64) float64 {
	var target float64
	switch {
	case t1 > t0:
		target = t1 - progressTemperatureMargin
	case t1 < t0:
		target = t1 + progressTemperatureMargin
	default:
		return 1
	}

	timeRequired := tau * -math.Log(1-(target-t0)/(t1-t0))
	return math.Min(1, timePassed/timeRequired)
}

// ExtendedProgress estimates the progress and remaining time of the
// ongoing stage and of the procedure as a whole. Remaining times are
// extrapolated from the time the finished stages took.
func (m *Manager) ExtendedProgress() ExtendedProgress {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateNotYetStarted:
		return ExtendedProgress{}
	case StateMovingHeater:
		return ExtendedProgress{StageProgress: m.progressLocked()}
	case StateDone:
		return ExtendedProgress{StageProgress: 1, TotalProgress: 1}
	}

	if len(m.times) == 0 {
		return ExtendedProgress{}
	}
	stageTimePassed := m.times[len(m.times)-1]
	return extendedHeatingProgress(
		m.progressLocked(),
		m.stageIndex,
		m.heatingStageCountLocked(),
		stageTimePassed,
		stageTimePassed+m.totalPreviousStageTime)
}

// extendedHeatingProgress combines the stage progress with the time spent
// so far. stageTimePassed and totalTimePassed are in seconds. When the
// stage progress is still zero the stage's own duration is unknown; past
// stages, if any, stand in for it.
func extendedHeatingProgress(stageProgress float64, stageIndex, stageCount int,
	stageTimePassed, totalTimePassed float64) ExtendedProgress {

	if stageProgress == 0 && stageIndex == 0 {
		return ExtendedProgress{}
	}

	var stageTimeNeeded float64
	if stageProgress > 0 {
		stageTimeNeeded = stageTimePassed / stageProgress
	} else {
		stageTimeNeeded = (totalTimePassed - stageTimePassed) / float64(stageIndex)
	}
	stageTimeLeft := stageTimeNeeded - stageTimePassed

	averageStageTime := (totalTimePassed - stageTimePassed + stageTimeNeeded) / float64(stageIndex+1)
	totalTimeLeft := stageTimeLeft + averageStageTime*float64(stageCount-stageIndex-1)
	totalProgress := totalTimePassed / (totalTimePassed + totalTimeLeft)

	return ExtendedProgress{
		StageProgress:  stageProgress,
		StageTimeLeft:  seconds(stageTimeLeft),
		StageTimeKnown: true,
		TotalProgress:  totalProgress,
		TotalTimeLeft:  seconds(totalTimeLeft),
		TotalTimeKnown: true,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
