package memory

import (
	"fmt"
	"sync"

	"github.com/resourceflow/flowsim/internal/config"
	"github.com/resourceflow/flowsim/pkg/core"
)

// VesselRecord groups a vessel with all its time-series data
type VesselRecord struct {
	Vessel     core.Vessel
	TankStates []core.TankState
	PipeFlows  []core.PipeFlow
}

// Backend keeps a run in memory and exports it to JSON when the run ends
type Backend struct {
	cfg config.MemoryConfig
	run *core.Run

	vessels     map[uint]*VesselRecord // keyed by storage ID
	order       []uint
	performance []core.Performance
	lastTick    uint64
	lastTime    float64

	idCounter      uint
	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:     cfg,
		vessels: make(map[uint]*VesselRecord),
	}
}

func (b *Backend) Init() error  { return nil }
func (b *Backend) Close() error { return nil }

// StartRun begins recording a new run, discarding anything recorded before.
func (b *Backend) StartRun(run *core.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.run = run
	b.vessels = make(map[uint]*VesselRecord)
	b.order = nil
	b.performance = nil
	b.lastTick, b.lastTime = 0, 0
	b.idCounter = 0
	return nil
}

// EndRun exports the run.
func (b *Backend) EndRun() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run == nil {
		return fmt.Errorf("no run started")
	}
	return b.exportJSON()
}

// AddVessel registers a vessel and assigns its ID.
func (b *Backend) AddVessel(v *core.Vessel) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.idCounter++
	v.ID = b.idCounter
	if b.run != nil {
		v.RunID = b.run.ID
	}

	b.vessels[v.ID] = &VesselRecord{Vessel: *v}
	b.order = append(b.order, v.ID)
	return nil
}

// GetVessel looks up a vessel by storage ID.
func (b *Backend) GetVessel(id uint) (*VesselRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.vessels[id]
	return r, ok
}

// RecordTankState appends a tank sample. Samples for unknown vessels are
// ignored.
func (b *Backend) RecordTankState(s *core.TankState) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r, ok := b.vessels[s.VesselID]; ok {
		r.TankStates = append(r.TankStates, *s)
		b.advance(s.Tick, s.Time)
	}
	return nil
}

// RecordPipeFlow appends a pipe transfer. Flows for unknown vessels are
// ignored.
func (b *Backend) RecordPipeFlow(f *core.PipeFlow) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r, ok := b.vessels[f.VesselID]; ok {
		r.PipeFlows = append(r.PipeFlows, *f)
		b.advance(f.Tick, f.Time)
	}
	return nil
}

func (b *Backend) RecordPerformance(p *core.Performance) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.performance = append(b.performance, *p)
	return nil
}

func (b *Backend) advance(tick uint64, t float64) {
	if tick > b.lastTick {
		b.lastTick = tick
		b.lastTime = t
	}
}
