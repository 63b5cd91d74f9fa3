package daemon

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleExpressions(t *testing.T) {
	s := NewScheduler(func() error { return nil }, nil, nil, nil)

	// The expressions the calibration schedule documentation suggests.
	for _, expr := range []string{"@every 10m", "@weekly", "0 3 * * 0"} {
		if err := s.Schedule(expr); err != nil {
			t.Errorf("Schedule(%q) returned error: %v", expr, err)
		}
	}
	if err := s.Schedule("not a cron"); err == nil {
		t.Error("Schedule accepted a malformed expression")
	}
}

func TestScheduleSetsNextRun(t *testing.T) {
	s := NewScheduler(func() error { return nil }, nil, nil, nil)

	if err := s.Schedule("@every 1m"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	next, running := s.Status()
	if running {
		t.Fatal("scheduler should not be running before Start")
	}
	if next.IsZero() {
		t.Fatal("next run should be set after scheduling")
	}
}

func TestSkipMovesNextRunForward(t *testing.T) {
	s := NewScheduler(func() error { return nil }, nil, nil, nil)
	if err := s.Schedule("@every 10m"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	orig, _ := s.Status()
	if orig.IsZero() {
		t.Fatal("expected next run after scheduling")
	}

	s.Start()
	defer s.Stop()

	if err := s.Skip(); err != nil {
		t.Fatalf("Skip returned error: %v", err)
	}
	skipped, _ := s.Status()
	if !skipped.After(orig) {
		t.Fatalf("expected skip to move the next calibration forward, got %v <= %v", skipped, orig)
	}
}

func TestScheduledCalibrationRuns(t *testing.T) {
	noticeCh := make(chan struct{}, 1)
	ranCh := make(chan struct{}, 1)
	errCh := make(chan error, 1)
	var preChecks int32

	startCalibration := func() error {
		ranCh <- struct{}{}
		return nil
	}

	systemReady := func() error {
		atomic.AddInt32(&preChecks, 1)
		return nil
	}

	onUpcoming := func(any) {
		noticeCh <- struct{}{}
	}

	onError := func(data any) {
		if err, ok := data.(error); ok {
			errCh <- err
		}
	}

	s := NewScheduler(startCalibration, systemReady, onUpcoming, onError)
	if err := s.Schedule("@every 1s"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	s.mu.Lock()
	s.nextRun = time.Now().Add(50 * time.Millisecond)
	s.mu.Unlock()

	s.Start()
	defer s.Stop()

	select {
	case <-noticeCh:
	case <-time.After(time.Second):
		t.Fatal("no upcoming-calibration notice before the run")
	}

	select {
	case <-ranCh:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled calibration did not start in time")
	}

	if atomic.LoadInt32(&preChecks) == 0 {
		t.Fatal("readiness precheck never ran")
	}

	select {
	case err := <-errCh:
		t.Fatalf("unexpected error callback: %v", err)
	default:
	}
}

func TestBusySystemBlocksScheduledCalibration(t *testing.T) {
	ranCh := make(chan struct{}, 1)
	errCh := make(chan error, 2)

	startCalibration := func() error {
		ranCh <- struct{}{}
		return nil
	}

	// The daemon's precheck reports the system busy while it is locked,
	// calibrating, or in safe mode.
	systemReady := func() error {
		return errors.New("system is locked")
	}

	onError := func(data any) {
		if err, ok := data.(error); ok {
			errCh <- err
		}
	}

	s := NewScheduler(startCalibration, systemReady, nil, onError)
	if err := s.Schedule("@every 1s"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	s.mu.Lock()
	s.nextRun = time.Now().Add(50 * time.Millisecond)
	s.mu.Unlock()

	s.Start()
	defer s.Stop()

	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatal("expected an error callback from the failed precheck")
	}

	select {
	case <-ranCh:
		t.Fatal("calibration must not start while the system is busy")
	default:
	}
}

func TestSchedulerRestartsAfterStop(t *testing.T) {
	ranCh := make(chan struct{}, 1)

	s := NewScheduler(func() error {
		select {
		case ranCh <- struct{}{}:
		default:
		}
		return nil
	}, nil, nil, nil)
	if err := s.Schedule("@every 1s"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	// Disabling and re-enabling the schedule, as a config reload does.
	s.Start()
	s.Stop()
	for {
		if _, running := s.Status(); !running {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.mu.Lock()
	s.nextRun = time.Now().Add(50 * time.Millisecond)
	s.mu.Unlock()

	s.Start()
	defer s.Stop()

	select {
	case <-ranCh:
	case <-time.After(2 * time.Second):
		t.Fatal("calibration did not run after a scheduler restart")
	}
}
