package session

import (
	"log/slog"
	"sync"

	"github.com/resourceflow/flowsim/pkg/core"
)

// Session holds the current run and the last completed tick
type Session struct {
	mu   sync.RWMutex
	run  *core.Run
	tick uint64
	time float64
}

// New creates a Session with a placeholder run
func New() *Session {
	return &Session{
		run: &core.Run{Name: "No run started"},
	}
}

// Run returns the current run
func (s *Session) Run() *core.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.run
}

// SetRun replaces the current run and resets the tick counter
func (s *Session) SetRun(run *core.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.run = run
	s.tick, s.time = 0, 0
}

// SetTick records the last completed tick
func (s *Session) SetTick(tick uint64, simTime float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick, s.time = tick, simTime
}

// Tick returns the last completed tick and simulated time
func (s *Session) Tick() (uint64, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tick, s.time
}

// LogAttrs is a logging.ContextProvider: every record gets the run name and tick.
func (s *Session) LogAttrs() []slog.Attr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return []slog.Attr{
		slog.String("run", s.run.Name),
		slog.Uint64("tick", s.tick),
	}
}
