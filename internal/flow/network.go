package flow

import (
	"fmt"
	"math"

	"github.com/resourceflow/flowsim/internal/substance"
)

// Network is the flattened tank and pipe graph of one vessel. Its shape is
// fixed once built; a changed part hierarchy produces a new Network.
type Network struct {
	vesselID string
	tanks    []*Tank
	pipes    []*Pipe

	// pressures[t][i] is the sample at inlet i of tank t for the current tick
	pressures [][]float64
}

// PipeFlow describes what one pipe moved during a tick.
type PipeFlow struct {
	Pipe          int
	Name          string
	From, To      int     // tank indices in transfer direction
	DeltaPressure float64 // pA + head - pB, Pa
	Rate          float64 // signed candidate rate, kg/s, positive A to B
	Mass          float64 // mass actually moved, kg
	Starved       bool    // transfer was cut down to what the source held
}

// TankSample is a tank's post-tick state.
type TankSample struct {
	Tank     int
	Name     string
	Pressure float64
	Mass     float64
	Fill     float64
	Contents substance.Collection // copy, safe to keep after the tick
}

// TickResult summarizes one solve.
type TickResult struct {
	VesselID string
	DT       float64
	Flows    []PipeFlow
	Tanks    []TankSample
}

// NewNetwork builds a network over the given arena. Pipe endpoints must
// reference existing tanks and inlets.
func NewNetwork(vesselID string, tanks []*Tank, pipes []*Pipe) (*Network, error) {
	for i, p := range pipes {
		for _, ep := range []Endpoint{p.A, p.B} {
			if ep.Tank < 0 || ep.Tank >= len(tanks) {
				return nil, fmt.Errorf("pipe %d (%s): tank index %d out of range: %w", i, p.Name, ep.Tank, ErrInvalidTopology)
			}
			if ep.Inlet < 0 || ep.Inlet >= len(tanks[ep.Tank].inlets) {
				return nil, fmt.Errorf("pipe %d (%s): tank %s has no inlet %d: %w", i, p.Name, tanks[ep.Tank].Name, ep.Inlet, ErrInvalidTopology)
			}
		}
	}

	pressures := make([][]float64, len(tanks))
	for i, t := range tanks {
		pressures[i] = make([]float64, len(t.inlets))
	}

	return &Network{
		vesselID:  vesselID,
		tanks:     tanks,
		pipes:     pipes,
		pressures: pressures,
	}, nil
}

// VesselID identifies the vessel the network belongs to.
func (n *Network) VesselID() string { return n.vesselID }

// Tanks returns the tank arena.
func (n *Network) Tanks() []*Tank { return n.tanks }

// Pipes returns the pipes in declaration order.
func (n *Network) Pipes() []*Pipe { return n.pipes }

// Tank finds a tank by name.
func (n *Network) Tank(name string) (*Tank, bool) {
	for _, t := range n.tanks {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// TotalMass sums the contents of every tank.
func (n *Network) TotalMass() float64 {
	var m float64
	for _, t := range n.tanks {
		m += t.contents.TotalMass()
	}
	return m
}

// Solve advances the network by dt seconds in a single pass:
//
//  1. sample every tank's inlet pressures
//  2. recompute every pipe's working parameters
//  3. for each pipe in declaration order, move mass down the pressure
//     difference, capped at what the source currently holds
//
// Pressures are sampled once at the start of the tick; pipes sharing a tank
// see the transfers of earlier pipes only through the source cap. If any tank
// cannot be sampled no mass moves.
func (n *Network) Solve(dt float64) (TickResult, error) {
	if dt < 0 || math.IsNaN(dt) || math.IsInf(dt, 0) {
		return TickResult{}, fmt.Errorf("vessel %s: invalid tick length %v", n.vesselID, dt)
	}

	if err := n.samplePressures(); err != nil {
		return TickResult{}, err
	}

	for _, p := range n.pipes {
		p.Recompute()
	}

	result := TickResult{
		VesselID: n.vesselID,
		DT:       dt,
		Flows:    make([]PipeFlow, 0, len(n.pipes)),
	}
	for i, p := range n.pipes {
		result.Flows = append(result.Flows, n.transport(i, p, dt))
	}

	result.Tanks = make([]TankSample, len(n.tanks))
	for i, t := range n.tanks {
		result.Tanks[i] = TankSample{
			Tank:     i,
			Name:     t.Name,
			Pressure: t.fluidState.Pressure,
			Mass:     t.contents.TotalMass(),
			Fill:     t.FillFraction(),
			Contents: t.contents.Clone(),
		}
	}
	return result, nil
}

// samplePressures fills n.pressures and only then commits each tank's
// pressure, so a failed sample leaves every tank as it was.
func (n *Network) samplePressures() error {
	uniform := make([]float64, len(n.tanks))
	for ti, t := range n.tanks {
		if len(t.inlets) == 0 {
			p, err := t.sample(-1)
			if err != nil {
				return fmt.Errorf("vessel %s tank %s: %w", n.vesselID, t.Name, err)
			}
			uniform[ti] = p
			continue
		}
		for ii := range t.inlets {
			p, err := t.sample(ii)
			if err != nil {
				return fmt.Errorf("vessel %s tank %s inlet %d: %w", n.vesselID, t.Name, ii, err)
			}
			n.pressures[ti][ii] = p
		}
		// tank-uniform: every inlet sees the same state
		uniform[ti] = n.pressures[ti][0]
	}
	for ti, t := range n.tanks {
		t.fluidState.Pressure = uniform[ti]
	}
	return nil
}

func (n *Network) transport(index int, p *Pipe, dt float64) PipeFlow {
	dp := n.pressures[p.A.Tank][p.A.Inlet] + p.workingHeadAdded - n.pressures[p.B.Tank][p.B.Inlet]
	rate := dp * p.workingConductance

	f := PipeFlow{
		Pipe:          index,
		Name:          p.Name,
		From:          p.A.Tank,
		To:            p.B.Tank,
		DeltaPressure: dp,
		Rate:          rate,
	}
	if rate < 0 {
		f.From, f.To = p.B.Tank, p.A.Tank
	}

	candidate := math.Abs(rate) * dt
	if candidate == 0 || f.From == f.To {
		return f
	}

	source := n.tanks[f.From]
	available := source.contents.TotalMass()
	if available <= 0 {
		f.Starved = true
		return f
	}

	var moved substance.Collection
	if candidate >= available {
		// take everything so the source lands on exactly zero
		moved = source.contents.Clone()
		f.Mass = available
		f.Starved = candidate > available
	} else {
		moved = source.contents.Scaled(candidate / available)
		f.Mass = candidate
	}

	source.contents.Add(moved, -1)
	source.contents.Clamp()
	source.contents.Compact()
	n.tanks[f.To].contents.Add(moved, 1)
	return f
}
