package calibration

import (
	"fmt"
	"testing"
	"time"

	"github.com/fibercal/fibercal/pkg/caldata"
	"github.com/fibercal/fibercal/pkg/events"
)

// fakeSystem is a hand-driven System: tests set the heater position and
// sensor voltage directly and inspect the commands the manager issued.
type fakeSystem struct {
	bus  *events.Bus
	data *caldata.Data

	max      float64
	safeMode bool

	locked  bool
	key     string
	nextKey int

	heaterPosition float64
	heaterTarget   float64
	current        float64
	voltage        float64

	idleCalls int
}

func newFakeSystem() *fakeSystem {
	return &fakeSystem{
		bus:  events.NewBus(),
		data: caldata.New(),
		max:  200,
	}
}

func (s *fakeSystem) Bus() *events.Bus { return s.bus }

func (s *fakeSystem) Lock() (string, error) {
	if s.locked {
		return "", fmt.Errorf("already locked")
	}
	s.nextKey++
	s.key = fmt.Sprintf("key-%d", s.nextKey)
	s.locked = true
	return s.key, nil
}

func (s *fakeSystem) Unlock(key string) error {
	if !s.locked || key != s.key {
		return fmt.Errorf("bad unlock")
	}
	s.locked = false
	return nil
}

func (s *fakeSystem) MaxHeatingCurrent() float64        { return s.max }
func (s *fakeSystem) IsInSafeMode() bool                { return s.safeMode }
func (s *fakeSystem) HeatingCurrent() float64           { return s.current }
func (s *fakeSystem) TemperatureSensorVoltage() float64 { return s.voltage }
func (s *fakeSystem) HeaterPosition() float64           { return s.heaterPosition }
func (s *fakeSystem) CalibrationData() *caldata.Data    { return s.data }

func (s *fakeSystem) StartHeaterMovement(target float64, key string) error {
	if !s.locked || key != s.key {
		return fmt.Errorf("bad key")
	}
	s.heaterTarget = target
	return nil
}

func (s *fakeSystem) StartHeatingWithCurrent(current float64, key string) error {
	if !s.locked || key != s.key {
		return fmt.Errorf("bad key")
	}
	s.current = current
	return nil
}

func (s *fakeSystem) Idle(key string) error {
	if !s.locked || key != s.key {
		return fmt.Errorf("bad key")
	}
	s.idleCalls++
	return nil
}

// recorder captures every event published on the bus.
type recorder struct {
	events []events.Event
}

func record(bus *events.Bus) *recorder {
	r := &recorder{}
	bus.Subscribe(func(e events.Event) { r.events = append(r.events, e) })
	return r
}

func (r *recorder) lastTemperatureRequest() (TemperatureRequested, bool) {
	for i := len(r.events) - 1; i >= 0; i-- {
		if req, ok := r.events[i].(TemperatureRequested); ok {
			return req, true
		}
	}
	return TemperatureRequested{}, false
}

func (r *recorder) calibrationOver() (CalibrationOver, bool) {
	for _, e := range r.events {
		if over, ok := e.(CalibrationOver); ok {
			return over, true
		}
	}
	return CalibrationOver{}, false
}

type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// newTestManager wires a manager to a fake system and clock. Tests drive
// it by calling begin and tick directly instead of running the loop.
func newTestManager(fs *fakeSystem, currents []float64, clock *fakeClock) *Manager {
	m := NewManager(fs, currents)
	m.Precision = 0.01
	m.StabilizationWindow = 5 * time.Second
	m.now = clock.now
	return m
}

// stabilize ticks with a constant voltage until the manager requests a
// temperature measurement.
func stabilize(t *testing.T, m *Manager, fs *fakeSystem, clock *fakeClock, rec *recorder) TemperatureRequested {
	t.Helper()
	fs.voltage = 1.0
	for i := 0; i < 20; i++ {
		clock.advance(time.Second)
		m.tick()
		if m.State() == StateWaitingForTemperature {
			req, ok := rec.lastTemperatureRequest()
			if !ok {
				t.Fatal("waiting for temperature without a TemperatureRequested event")
			}
			return req
		}
	}
	t.Fatal("voltage never counted as stable")
	return TemperatureRequested{}
}

func TestManagerSortsAndDeduplicatesCurrents(t *testing.T) {
	m := NewManager(newFakeSystem(), []float64{150, 50, 100, 50})
	got := m.Currents()
	want := []float64{50, 100, 150}
	if len(got) != len(want) {
		t.Fatalf("currents = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("currents = %v, want %v", got, want)
		}
	}
}

func TestManagerFullProcedure(t *testing.T) {
	fs := newFakeSystem()
	clock := newFakeClock()
	rec := record(fs.bus)
	m := newTestManager(fs, []float64{50, 100, 150}, clock)

	if err := m.begin(); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if m.State() != StateMovingHeater {
		t.Fatalf("state after start = %v, want moving-heater", m.State())
	}
	if !fs.locked {
		t.Fatal("system not locked during calibration")
	}
	if fs.heaterTarget != 1.0 {
		t.Fatalf("heater target = %g, want 1.0", fs.heaterTarget)
	}

	// Heater arrives; the first heating stage begins.
	fs.heaterPosition = 1.0
	clock.advance(time.Second)
	m.tick()
	if m.State() != StateHeating {
		t.Fatalf("state after heater arrival = %v, want heating", m.State())
	}
	if fs.current != 50 {
		t.Fatalf("heating current = %g, want 50", fs.current)
	}

	temperatures := []float64{36.5, 72.0, 110.0}
	for stage, want := range []float64{50, 100, 150} {
		if got := m.HeatingStageIndex(); got != stage {
			t.Fatalf("heating stage index = %d, want %d", got, stage)
		}
		if fs.current != want {
			t.Fatalf("stage %d heating current = %g, want %g", stage, fs.current, want)
		}

		req := stabilize(t, m, fs, clock, rec)
		if err := req.Report(temperatures[stage]); err != nil {
			t.Fatalf("reporting temperature for stage %d failed: %v", stage, err)
		}
	}

	if m.State() != StateDone {
		t.Fatalf("state after last measurement = %v, want done", m.State())
	}
	over, ok := rec.calibrationOver()
	if !ok {
		t.Fatal("no CalibrationOver event published")
	}
	if over.Status != StatusFinished {
		t.Errorf("status = %v, want finished", over.Status)
	}
	if len(over.UnusedCurrents) != 0 {
		t.Errorf("unused currents = %v, want none", over.UnusedCurrents)
	}
	if len(over.UsedCurrents) != 3 {
		t.Errorf("used currents = %v, want all three", over.UsedCurrents)
	}

	if fs.locked {
		t.Error("system still locked after calibration")
	}
	if fs.idleCalls != 1 {
		t.Errorf("idle called %d times, want 1", fs.idleCalls)
	}
	if fs.data.Len() != 3 {
		t.Errorf("recorded %d measurements, want 3", fs.data.Len())
	}
	got := fs.data.Measurements()
	for i, wantCurrent := range []float64{50, 100, 150} {
		if got[i].HeatingCurrent != wantCurrent || got[i].Temperature != temperatures[i] {
			t.Errorf("measurement %d = %+v", i, got[i])
		}
	}
}

func TestManagerAbortBeforeFirstStage(t *testing.T) {
	fs := newFakeSystem()
	clock := newFakeClock()
	rec := record(fs.bus)
	m := newTestManager(fs, []float64{50, 100}, clock)

	if err := m.begin(); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := m.Abort(); err != nil {
		t.Fatalf("abort failed: %v", err)
	}

	over, ok := rec.calibrationOver()
	if !ok {
		t.Fatal("no CalibrationOver event published")
	}
	if over.Status != StatusAborted {
		t.Errorf("status = %v, want aborted", over.Status)
	}
	if len(over.UsedCurrents) != 0 || len(over.UnusedCurrents) != 2 {
		t.Errorf("used = %v unused = %v, want none used", over.UsedCurrents, over.UnusedCurrents)
	}
	if fs.locked {
		t.Error("system still locked after abort")
	}

	if err := m.Abort(); err != ErrNotRunning {
		t.Errorf("second abort = %v, want ErrNotRunning", err)
	}
}

func TestManagerAbortMidProcedure(t *testing.T) {
	fs := newFakeSystem()
	clock := newFakeClock()
	rec := record(fs.bus)
	m := newTestManager(fs, []float64{50, 100, 150}, clock)

	if err := m.begin(); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	fs.heaterPosition = 1.0
	clock.advance(time.Second)
	m.tick()

	// Finish stage 0, then abort during stage 1.
	req := stabilize(t, m, fs, clock, rec)
	if err := req.Report(36.5); err != nil {
		t.Fatalf("reporting temperature failed: %v", err)
	}
	if err := m.Abort(); err != nil {
		t.Fatalf("abort failed: %v", err)
	}

	over, _ := rec.calibrationOver()
	if over.Status != StatusAborted {
		t.Errorf("status = %v, want aborted", over.Status)
	}
	wantUnused := []float64{100, 150}
	if len(over.UsedCurrents) != 1 || over.UsedCurrents[0] != 50 {
		t.Errorf("used currents = %v, want [50]", over.UsedCurrents)
	}
	if len(over.UnusedCurrents) != len(wantUnused) {
		t.Fatalf("unused currents = %v, want %v", over.UnusedCurrents, wantUnused)
	}
	for i := range wantUnused {
		if over.UnusedCurrents[i] != wantUnused[i] {
			t.Errorf("unused currents = %v, want %v", over.UnusedCurrents, wantUnused)
		}
	}
}

func TestManagerStopsAtInvalidCurrent(t *testing.T) {
	fs := newFakeSystem()
	fs.max = 80
	clock := newFakeClock()
	rec := record(fs.bus)
	m := newTestManager(fs, []float64{50, 100}, clock)

	if err := m.begin(); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	fs.heaterPosition = 1.0
	clock.advance(time.Second)
	m.tick()

	req := stabilize(t, m, fs, clock, rec)
	if err := req.Report(36.5); err != nil {
		t.Fatalf("reporting temperature failed: %v", err)
	}

	over, ok := rec.calibrationOver()
	if !ok {
		t.Fatal("no CalibrationOver event published")
	}
	if over.Status != StatusInvalidCurrent {
		t.Errorf("status = %v, want invalid-current", over.Status)
	}
	if len(over.UsedCurrents) != 1 || len(over.UnusedCurrents) != 1 || over.UnusedCurrents[0] != 100 {
		t.Errorf("used = %v unused = %v", over.UsedCurrents, over.UnusedCurrents)
	}
}

func TestManagerTerminatesOnSafeMode(t *testing.T) {
	fs := newFakeSystem()
	clock := newFakeClock()
	rec := record(fs.bus)
	m := newTestManager(fs, []float64{50}, clock)

	if err := m.begin(); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	fs.heaterPosition = 1.0
	clock.advance(time.Second)
	m.tick()

	fs.safeMode = true
	clock.advance(time.Second)
	m.tick()

	if m.State() != StateDone {
		t.Fatalf("state after safe mode = %v, want done", m.State())
	}
	over, _ := rec.calibrationOver()
	if over.Status != StatusSafeModeTriggered {
		t.Errorf("status = %v, want safe-mode-triggered", over.Status)
	}
	// Safe mode owns the heating current; the manager must not idle it.
	if fs.idleCalls != 0 {
		t.Errorf("idle called %d times during safe mode, want 0", fs.idleCalls)
	}
	if fs.locked {
		t.Error("system still locked after safe-mode termination")
	}
}

func TestManagerRejectsMisuse(t *testing.T) {
	fs := newFakeSystem()
	clock := newFakeClock()
	m := newTestManager(fs, []float64{50}, clock)

	if err := m.ReportTemperature(100); err != ErrNoTemperatureRequested {
		t.Errorf("unsolicited report = %v, want ErrNoTemperatureRequested", err)
	}
	if err := m.Abort(); err != ErrNotRunning {
		t.Errorf("abort before start = %v, want ErrNotRunning", err)
	}

	if err := m.begin(); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if err := m.begin(); err != ErrAlreadyStarted {
		t.Errorf("second start = %v, want ErrAlreadyStarted", err)
	}
}
