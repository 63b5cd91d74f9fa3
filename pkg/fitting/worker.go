package fitting

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultVoltagesRequired is the smallest number of sampled voltages
	// worth fitting. Calls to RefreshData with fewer samples are ignored.
	DefaultVoltagesRequired = 12

	// DefaultSleepInterval is how long the worker sleeps between fitting
	// attempts.
	DefaultSleepInterval = time.Second
)

// Worker runs the least-squares minimization in a background goroutine.
// One Worker serves one heating stage: it is created with that stage's
// starting estimates, fed samples through RefreshData, and stopped when the
// stage ends. The best solution found so far, the one with the lowest
// residual sum of squares, is available through Solution; each new fit
// starts from it, so estimates improve as samples accumulate. A fit on a
// newer data snapshot always replaces the stored solution, as residuals
// over different samples do not compare.
type Worker struct {
	// Set before Start if the defaults do not fit.
	VoltagesRequired int
	SleepInterval    time.Duration

	start Solution

	mu             sync.Mutex
	times          []float64
	voltages       []float64
	dataGen        int
	solution       *Solution
	solutionGen    int
	solutionsFound int

	wake     chan struct{}
	stopOnce sync.Once
	stopc    chan struct{}
	donec    chan struct{}
}

// NewWorker returns a worker seeded with the given starting estimates. The
// worker does nothing until Start is called.
func NewWorker(start Solution) *Worker {
	return &Worker{
		VoltagesRequired: DefaultVoltagesRequired,
		SleepInterval:    DefaultSleepInterval,
		start:            start,
		wake:             make(chan struct{}, 1),
		stopc:            make(chan struct{}),
		donec:            make(chan struct{}),
	}
}

// Start launches the background goroutine. A stopped worker cannot be
// restarted.
func (w *Worker) Start() {
	go w.run()
}

// Stop terminates the background goroutine. It may complete one last fit
// before exiting. Stop is idempotent and returns without waiting; use Done
// to wait for termination.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopc) })
}

// Done is closed once the background goroutine has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.donec
}

// RefreshData replaces the samples the minimization is based on. times are
// seconds from the start of the heating stage; voltages are the sensor
// voltages sampled at those times. Slices shorter than VoltagesRequired are
// ignored. The data is copied, so the caller may reuse the slices.
func (w *Worker) RefreshData(times, voltages []float64) error {
	if len(times) != len(voltages) {
		return errors.Errorf("mismatched sample lengths: %d times, %d voltages",
			len(times), len(voltages))
	}
	if len(voltages) < w.VoltagesRequired {
		return nil
	}

	w.mu.Lock()
	w.times = append(w.times[:0], times...)
	w.voltages = append(w.voltages[:0], voltages...)
	w.dataGen++
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// Solution returns the best solution found so far and whether one has been
// found yet.
func (w *Worker) Solution() (Solution, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.solution == nil {
		return Solution{}, false
	}
	return *w.solution, true
}

// SolutionsFound returns the number of solutions found so far.
func (w *Worker) SolutionsFound() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.solutionsFound
}

func (w *Worker) run() {
	defer close(w.donec)
	for {
		w.findSolution()

		timer := time.NewTimer(w.SleepInterval)
		select {
		case <-w.stopc:
			timer.Stop()
			return
		case <-w.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (w *Worker) findSolution() {
	w.mu.Lock()
	if w.times == nil {
		w.mu.Unlock()
		return
	}
	times := append([]float64(nil), w.times...)
	voltages := append([]float64(nil), w.voltages...)
	gen := w.dataGen
	start := w.start
	if w.solution != nil {
		start = *w.solution
	}
	w.mu.Unlock()

	solution, rss, ok := levenbergMarquardt(start, times, voltages)
	if !ok {
		return
	}
	solution.RSS = rss

	w.mu.Lock()
	if w.solution == nil || gen != w.solutionGen || rss <= w.solution.RSS {
		w.solution = &solution
		w.solutionGen = gen
	}
	w.solutionsFound++
	w.mu.Unlock()
}
