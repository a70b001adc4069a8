package worker

import (
	"github.com/resourceflow/flowsim/internal/flow"
	"github.com/resourceflow/flowsim/internal/substance"
	"github.com/resourceflow/flowsim/pkg/core"
)

// VesselInfo describes a network's arena for storage.
func VesselInfo(net *flow.Network, source string) core.Vessel {
	v := core.Vessel{
		VesselID: net.VesselID(),
		Source:   source,
		Tanks:    make([]core.TankInfo, len(net.Tanks())),
		Pipes:    make([]core.PipeInfo, len(net.Pipes())),
	}
	for i, t := range net.Tanks() {
		v.Tanks[i] = core.TankInfo{
			Index:     i,
			Name:      t.Name,
			Shape:     t.Shape.String(),
			MaxVolume: t.MaxVolume(),
			Inlets:    len(t.Inlets()),
		}
	}
	for i, p := range net.Pipes() {
		v.Pipes[i] = core.PipeInfo{
			Index:           i,
			Name:            p.Name,
			FromTank:        p.A.Tank,
			FromInlet:       p.A.Inlet,
			ToTank:          p.B.Tank,
			ToInlet:         p.B.Inlet,
			BaseConductance: p.BaseConductance,
			Modifiers:       len(p.Modifiers),
		}
	}
	return v
}

// TankState converts a post-tick tank sample.
func TankState(vessel string, id uint, tick uint64, simTime float64, s flow.TankSample) core.TankState {
	return core.TankState{
		VesselID:  id,
		Vessel:    vessel,
		TankIndex: s.Tank,
		Tank:      s.Name,
		Tick:      tick,
		Time:      simTime,
		Pressure:  s.Pressure,
		Mass:      s.Mass,
		Fill:      s.Fill,
		Contents:  Contents(s.Contents),
	}
}

// PipeFlow converts what one pipe moved during a tick.
func PipeFlow(vessel string, id uint, tick uint64, simTime float64, f flow.PipeFlow) core.PipeFlow {
	return core.PipeFlow{
		VesselID:      id,
		Vessel:        vessel,
		PipeIndex:     f.Pipe,
		Pipe:          f.Name,
		Tick:          tick,
		Time:          simTime,
		FromTank:      f.From,
		ToTank:        f.To,
		DeltaPressure: f.DeltaPressure,
		Rate:          f.Rate,
		Mass:          f.Mass,
		Starved:       f.Starved,
	}
}

// Contents lists a collection by substance id, in ledger order.
func Contents(c substance.Collection) []core.SubstanceMass {
	if c.IsEmpty() {
		return nil
	}
	out := make([]core.SubstanceMass, 0, c.SubstanceCount())
	for _, s := range c.States() {
		out = append(out, core.SubstanceMass{Substance: s.Substance.ID, Mass: s.MassAmount})
	}
	return out
}
