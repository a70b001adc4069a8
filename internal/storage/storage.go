package storage

import (
	"fmt"
	"strings"

	"github.com/resourceflow/flowsim/pkg/core"
)

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Run management
	StartRun(run *core.Run) error
	EndRun() error

	// Vessel registration (assigns ID to the passed pointer)
	AddVessel(v *core.Vessel) error

	// State recording
	RecordTankState(s *core.TankState) error
	RecordPipeFlow(f *core.PipeFlow) error
	RecordPerformance(p *core.Performance) error
}

// Exportable is an optional interface for backends that write a file when
// a run ends.
type Exportable interface {
	ExportedFilePath() string
	ExportSummary() core.RunSummary
}

// QueueReporter is implemented by backends that buffer writes.
type QueueReporter interface {
	QueueDepth() int
	Dropped() uint64
}

var fileNameReplacer = strings.NewReplacer(" ", "_", ":", "_", "/", "_", "\\", "_")

// FileName builds the output file name for a run: <name>_<YYYYMMDD_HHMMSS><ext>.
func FileName(run core.Run, ext string) string {
	return fmt.Sprintf("%s_%s%s", fileNameReplacer.Replace(run.Name), run.StartTime.Format("20060102_150405"), ext)
}
