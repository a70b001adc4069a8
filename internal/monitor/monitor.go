package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/resourceflow/flowsim/internal/dispatcher"
	"github.com/resourceflow/flowsim/internal/logging"
	"github.com/resourceflow/flowsim/internal/session"
	"github.com/resourceflow/flowsim/internal/simulation"
	"github.com/resourceflow/flowsim/internal/worker"
	"github.com/resourceflow/flowsim/pkg/core"
)

// DefaultInterval is used when Dependencies.Interval is zero.
const DefaultInterval = time.Second

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Sim        *simulation.Context
	Recorder   *worker.Recorder
	Dispatcher *dispatcher.Dispatcher
	Session    *session.Session
	LogManager *logging.SlogManager
	Interval   time.Duration
	// StatusFile is rewritten with the latest status every interval. Empty
	// disables it.
	StatusFile string
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	if deps.Session == nil {
		deps.Session = session.New()
	}
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetProgramStatus returns the current status as indented JSON lines and the
// performance sample they were rendered from.
func (s *Service) GetProgramStatus(queues, lastTick bool) (output []string, perf core.Performance) {
	tick, simTime := s.deps.Session.Tick()
	perf = core.Performance{
		Timestamp: time.Now(),
		Tick:      tick,
		Time:      simTime,
	}
	if s.deps.Sim != nil {
		perf.Networks = s.deps.Sim.Len()
	}
	if rec := s.deps.Recorder; rec != nil {
		_, perf.TickDuration = rec.LastTick()
		perf.QueueDepth = rec.QueueDepth()
		perf.Dropped = rec.Dropped()
		perf.TickErrors = rec.TickErrors()
	}

	run := s.deps.Session.Run()
	header := map[string]any{
		"run":      run.Name,
		"tick":     perf.Tick,
		"time":     perf.Time,
		"networks": perf.Networks,
	}
	output = append(output, marshal(header))

	if queues {
		q := map[string]any{
			"queueDepth": perf.QueueDepth,
			"dropped":    perf.Dropped,
		}
		if d := s.deps.Dispatcher; d != nil {
			if stats := d.Stats(); len(stats) > 0 {
				q["commands"] = stats
			}
		}
		output = append(output, marshal(q))
	}
	if lastTick {
		output = append(output, marshal(map[string]any{
			"tickDurationMs": float64(perf.TickDuration) / float64(time.Millisecond),
			"tickErrors":     perf.TickErrors,
		}))
	}
	return output, perf
}

func marshal(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": "%s"}`, err)
	}
	return string(b)
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}

	var statusFile *os.File
	if s.deps.StatusFile != "" {
		f, err := os.Create(s.deps.StatusFile)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("error creating status file: %w", err)
		}
		statusFile = f
	}

	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()
		if statusFile != nil {
			defer statusFile.Close()
		}

		logger := s.deps.LogManager.Logger()
		logger.Debug("Starting status monitor goroutine", "function", "startStatusMonitor", "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.report(statusFile)
			}
		}
	}()

	return nil
}

func (s *Service) report(statusFile *os.File) {
	logger := s.deps.LogManager.Logger()
	statusStr, perf := s.GetProgramStatus(true, true)

	if statusFile != nil {
		if err := statusFile.Truncate(0); err != nil {
			logger.Error("Error truncating status file", "error", err)
			return
		}
		if _, err := statusFile.Seek(0, 0); err != nil {
			logger.Error("Error rewinding status file", "error", err)
			return
		}
		for _, line := range statusStr {
			if _, err := statusFile.WriteString(line + "\n"); err != nil {
				logger.Error("Error writing status file", "error", err)
				return
			}
		}
	}

	if s.deps.Recorder != nil {
		if err := s.deps.Recorder.RecordPerformance(perf); err != nil {
			logger.Error("Error recording performance sample", "error", err)
		}
	}
}

// Stop stops the status monitor and waits for the goroutine to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning || s.stopChan == nil {
		s.mu.Unlock()
		return
	}
	stop, done := s.stopChan, s.done
	s.stopChan = nil
	s.mu.Unlock()

	close(stop)
	<-done
}
