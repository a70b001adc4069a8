// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/resourceflow/flowsim/internal/model"
	"github.com/resourceflow/flowsim/pkg/core"
	"gorm.io/datatypes"
)

// SimTime turns a simulated time offset into a wall clock timestamp
// anchored at the run start.
func SimTime(start time.Time, seconds float64) time.Time {
	return start.Add(time.Duration(seconds * float64(time.Second)))
}

// contentsToJSON converts tank contents to datatypes.JSON for DB storage.
func contentsToJSON(contents []core.SubstanceMass) datatypes.JSON {
	if len(contents) == 0 {
		return datatypes.JSON("[]")
	}
	data, _ := json.Marshal(contents)
	return datatypes.JSON(data)
}

// CoreToRun converts a core.Run to a GORM model.Run.
func CoreToRun(r core.Run) model.Run {
	m := model.Run{
		Name:      r.Name,
		StartTime: r.StartTime,
		DT:        r.DT,
		Parallel:  r.Parallel,
		Version:   r.Version,
		Build:     r.Build,
	}
	m.ID = r.ID
	return m
}

// CoreToVessel converts a core.Vessel, with its tank and pipe descriptions,
// to a GORM model.Vessel.
func CoreToVessel(v core.Vessel) model.Vessel {
	m := model.Vessel{
		RunID:   v.RunID,
		Name:    v.VesselID,
		Source:  v.Source,
		AddedAt: v.AddedAt,
		Tanks:   make([]model.Tank, 0, len(v.Tanks)),
		Pipes:   make([]model.Pipe, 0, len(v.Pipes)),
	}
	m.ID = v.ID
	for _, t := range v.Tanks {
		m.Tanks = append(m.Tanks, model.Tank{
			Index:     t.Index,
			Name:      t.Name,
			Shape:     t.Shape,
			MaxVolume: t.MaxVolume,
			Inlets:    t.Inlets,
		})
	}
	for _, p := range v.Pipes {
		m.Pipes = append(m.Pipes, model.Pipe{
			Index:           p.Index,
			Name:            p.Name,
			FromTank:        p.FromTank,
			FromInlet:       p.FromInlet,
			ToTank:          p.ToTank,
			ToInlet:         p.ToInlet,
			BaseConductance: p.BaseConductance,
			Modifiers:       p.Modifiers,
		})
	}
	return m
}

// CoreToTankState converts a core.TankState to a GORM model.TankState.
// start is the run start used to timestamp the row.
func CoreToTankState(s core.TankState, runID uint, start time.Time) model.TankState {
	return model.TankState{
		Time:      SimTime(start, s.Time),
		RunID:     runID,
		VesselID:  s.VesselID,
		TankIndex: s.TankIndex,
		Tick:      s.Tick,
		SimTime:   s.Time,
		Pressure:  s.Pressure,
		Mass:      s.Mass,
		Fill:      s.Fill,
		Contents:  contentsToJSON(s.Contents),
	}
}

// CoreToPipeFlow converts a core.PipeFlow to a GORM model.PipeFlow.
func CoreToPipeFlow(f core.PipeFlow, runID uint, start time.Time) model.PipeFlow {
	return model.PipeFlow{
		Time:          SimTime(start, f.Time),
		RunID:         runID,
		VesselID:      f.VesselID,
		PipeIndex:     f.PipeIndex,
		Tick:          f.Tick,
		SimTime:       f.Time,
		FromTank:      f.FromTank,
		ToTank:        f.ToTank,
		DeltaPressure: f.DeltaPressure,
		Rate:          f.Rate,
		Mass:          f.Mass,
		Starved:       f.Starved,
	}
}

// CoreToPerformance converts a core.Performance to a GORM model.Performance.
func CoreToPerformance(p core.Performance, runID uint) model.Performance {
	return model.Performance{
		Time:           p.Timestamp,
		RunID:          runID,
		Tick:           p.Tick,
		SimTime:        p.Time,
		Networks:       p.Networks,
		TickDurationMs: float64(p.TickDuration) / float64(time.Millisecond),
		QueueDepth:     p.QueueDepth,
		Dropped:        p.Dropped,
		TickErrors:     p.TickErrors,
	}
}

// TankStateToCore converts a stored model.TankState back to a core.TankState.
// Vessel and tank names are not stored on the row and stay empty.
func TankStateToCore(m model.TankState) (core.TankState, error) {
	var contents []core.SubstanceMass
	if len(m.Contents) > 0 {
		if err := json.Unmarshal(m.Contents, &contents); err != nil {
			return core.TankState{}, fmt.Errorf("tank state %d: decoding contents: %w", m.ID, err)
		}
	}
	return core.TankState{
		VesselID:  m.VesselID,
		TankIndex: m.TankIndex,
		Tick:      m.Tick,
		Time:      m.SimTime,
		Pressure:  m.Pressure,
		Mass:      m.Mass,
		Fill:      m.Fill,
		Contents:  contents,
	}, nil
}

// PipeFlowToCore converts a stored model.PipeFlow back to a core.PipeFlow.
func PipeFlowToCore(m model.PipeFlow) core.PipeFlow {
	return core.PipeFlow{
		VesselID:      m.VesselID,
		PipeIndex:     m.PipeIndex,
		Tick:          m.Tick,
		Time:          m.SimTime,
		FromTank:      m.FromTank,
		ToTank:        m.ToTank,
		DeltaPressure: m.DeltaPressure,
		Rate:          m.Rate,
		Mass:          m.Mass,
		Starved:       m.Starved,
	}
}
