package display

import (
	"context"
	"log/slog"
	"sync"
	"time"

	Fr "github.com/maroda/fmdrisk/risk"
)

// RunFunc produces one study report.
type RunFunc func(ctx context.Context) (*Fr.Report, error)

// StudySupervisor runs the study in the background and publishes
// each report to its View. With a zero Interval it runs once per Start.
type StudySupervisor struct {
	View     *View
	Run      RunFunc
	Interval time.Duration
	Ticker   *time.Ticker
	StopChan chan struct{}
	WG       sync.WaitGroup

	mu      sync.Mutex
	cancel  context.CancelFunc
	runs    int
	lastErr error
	halted  bool // set by Stop, cleared by Start
}

// NewStudySupervisor is a wrapper around the View that manages study goroutines
// They are strongly coupled, one knows about the other
func (v *View) NewStudySupervisor(run RunFunc, interval time.Duration) *StudySupervisor {
	ss := &StudySupervisor{
		View:     v,
		Run:      run,
		Interval: interval,
	}
	v.Supervisor = ss
	return ss
}

// Start the StudySupervisor
func (s *StudySupervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halted = false
	s.start()
}

// start launches the study loop, mu must be held
func (s *StudySupervisor) start() {
	if s.StopChan != nil {
		return // already running
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	stop := make(chan struct{})
	s.StopChan = stop

	var ticker *time.Ticker
	var tick <-chan time.Time
	if s.Interval > 0 {
		ticker = time.NewTicker(s.Interval)
		s.Ticker = ticker
		tick = ticker.C
	}

	s.WG.Add(1)
	go func() {
		defer s.WG.Done()
		if ticker != nil {
			defer ticker.Stop()
		}

		s.runOnce(ctx)
		for {
			select {
			case <-tick:
				s.runOnce(ctx)
			case <-stop:
				return
			}
		}
	}()
}

func (s *StudySupervisor) runOnce(ctx context.Context) {
	report, err := s.Run(ctx)

	s.mu.Lock()
	s.runs++
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			slog.Error("Study failed", slog.String("model", s.View.Model), slog.Any("error", err))
		}
		return
	}
	s.View.SetReport(report)
}

// Stop the StudySupervisor, cancelling a study in flight.
// Restart does nothing after Stop until the next Start.
func (s *StudySupervisor) Stop() {
	s.mu.Lock()
	s.halted = true
	s.mu.Unlock()
	s.stop()
}

func (s *StudySupervisor) stop() {
	s.mu.Lock()
	stop, cancel := s.StopChan, s.cancel
	s.StopChan, s.cancel = nil, nil
	s.mu.Unlock()

	if stop != nil {
		cancel()
		close(stop)
		s.WG.Wait()
	}
}

// Restart cancels the study in flight and runs it again.
// It reports false when the supervisor was stopped.
func (s *StudySupervisor) Restart() bool {
	if s.Stopped() {
		return false
	}
	s.stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted {
		return false // stopped while the old loop wound down
	}
	s.start()
	return true
}

// Stopped reports whether Stop was called since the last Start.
func (s *StudySupervisor) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted
}

// Runs counts finished attempts, successful or not.
func (s *StudySupervisor) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Err is the outcome of the last attempt.
func (s *StudySupervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
