package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/resourceflow/flowsim/internal/storage"
	"github.com/resourceflow/flowsim/pkg/core"
)

// RunExport is the root JSON structure of an exported run
type RunExport struct {
	RunName     string       `json:"runName"`
	Version     string       `json:"version"`
	StartTime   string       `json:"startTime"`
	DT          float64      `json:"dt"`
	EndTick     uint64       `json:"endTick"`
	Duration    float64      `json:"duration"`
	Vessels     []VesselJSON `json:"vessels"`
	Performance [][]any      `json:"performance"`
}

// VesselJSON is one vessel with compact time series. Each tank row is
// [tick, time, tank, pressure, mass, fill, [[substance, mass], ...]], each
// pipe row is [tick, time, pipe, from, to, rate, mass, starved].
type VesselJSON struct {
	ID     string          `json:"id"`
	Source string          `json:"source,omitempty"`
	Tanks  []core.TankInfo `json:"tanks"`
	Pipes  []core.PipeInfo `json:"pipes"`
	States [][]any         `json:"states"`
	Flows  [][]any         `json:"flows"`
}

// exportJSON writes the run to a JSON file, gzipped if configured
func (b *Backend) exportJSON() error {
	export := b.buildExport()

	filename := storage.FileName(*b.run, ".json")
	if b.cfg.CompressOutput {
		filename += ".gz"
	}
	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var err error
	if b.cfg.CompressOutput {
		err = writeGzipJSON(outputPath, export)
	} else {
		err = writeJSON(outputPath, export)
	}
	if err != nil {
		return err
	}

	b.lastExportPath = outputPath
	return nil
}

func (b *Backend) buildExport() RunExport {
	export := RunExport{
		RunName:     b.run.Name,
		Version:     b.run.Version,
		StartTime:   b.run.StartTime.UTC().Format("2006-01-02T15:04:05Z"),
		DT:          b.run.DT,
		EndTick:     b.lastTick,
		Duration:    b.lastTime,
		Vessels:     make([]VesselJSON, 0, len(b.order)),
		Performance: make([][]any, 0, len(b.performance)),
	}

	for _, id := range b.order {
		r := b.vessels[id]
		v := VesselJSON{
			ID:     r.Vessel.VesselID,
			Source: r.Vessel.Source,
			Tanks:  r.Vessel.Tanks,
			Pipes:  r.Vessel.Pipes,
			States: make([][]any, 0, len(r.TankStates)),
			Flows:  make([][]any, 0, len(r.PipeFlows)),
		}
		for _, s := range r.TankStates {
			contents := make([][]any, 0, len(s.Contents))
			for _, c := range s.Contents {
				contents = append(contents, []any{c.Substance, c.Mass})
			}
			v.States = append(v.States, []any{s.Tick, s.Time, s.TankIndex, s.Pressure, s.Mass, s.Fill, contents})
		}
		for _, f := range r.PipeFlows {
			v.Flows = append(v.Flows, []any{f.Tick, f.Time, f.PipeIndex, f.FromTank, f.ToTank, f.Rate, f.Mass, f.Starved})
		}
		export.Vessels = append(export.Vessels, v)
	}

	for _, p := range b.performance {
		export.Performance = append(export.Performance, []any{p.Tick, p.TickDuration.Seconds(), p.Networks, p.QueueDepth, p.Dropped})
	}
	return export
}

// ExportedFilePath returns the path of the last export.
func (b *Backend) ExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

// ExportSummary describes the run as last exported.
func (b *Backend) ExportSummary() core.RunSummary {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := core.RunSummary{Ticks: b.lastTick, Duration: b.lastTime, Vessels: len(b.order)}
	if b.run != nil {
		s.RunName = b.run.Name
	}
	return s
}

func writeJSON(path string, data RunExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(data)
}

func writeGzipJSON(path string, data RunExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(data); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}
