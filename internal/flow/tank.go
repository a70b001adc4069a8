// Package flow implements the per-vessel tank and pipe network and its
// per-tick transport solve.
package flow

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/resourceflow/flowsim/internal/shape"
	"github.com/resourceflow/flowsim/internal/substance"
)

// Inlet binds a pipe attachment point to one of the tank's nodes.
type Inlet struct {
	NodeIndex        int
	CrossSectionArea float64 // m²
}

// FluidState is the derived, tank-uniform state written by the solve.
type FluidState struct {
	Pressure    float64 // Pa
	Temperature float64 // K
	Velocity    mgl64.Vec3
}

// Tank is a passive container record. The solve reads and mutates it;
// external consumers may draw or add substances between ticks.
type Tank struct {
	Name  string
	Shape shape.Kind

	maxVolume float64
	contents  substance.Collection

	nodes  []mgl64.Vec3
	inlets []Inlet

	fluidAcceleration mgl64.Vec3
	fluidState        FluidState
}

// NewTank creates a tank holding a private copy of contents.
func NewTank(name string, kind shape.Kind, maxVolume float64, contents substance.Collection) *Tank {
	return &Tank{
		Name:       name,
		Shape:      kind,
		maxVolume:  maxVolume,
		contents:   contents.Clone(),
		fluidState: FluidState{Temperature: substance.ReferenceTemperature},
	}
}

// SetNodes replaces the tank's attachment nodes and inlets. Every inlet must
// reference an existing node.
func (t *Tank) SetNodes(nodes []mgl64.Vec3, inlets []Inlet) error {
	for i, in := range inlets {
		if in.NodeIndex < 0 || in.NodeIndex >= len(nodes) {
			return fmt.Errorf("tank %s inlet %d: node index %d out of range [0,%d): %w",
				t.Name, i, in.NodeIndex, len(nodes), ErrInvalidTopology)
		}
	}
	t.nodes = append([]mgl64.Vec3(nil), nodes...)
	t.inlets = append([]Inlet(nil), inlets...)
	return nil
}

// Nodes returns the local attachment positions.
func (t *Tank) Nodes() []mgl64.Vec3 { return t.nodes }

// Inlets returns the inlet bindings.
func (t *Tank) Inlets() []Inlet { return t.inlets }

// InletPosition returns the local position of inlet i.
func (t *Tank) InletPosition(i int) (mgl64.Vec3, error) {
	if i < 0 || i >= len(t.inlets) {
		return mgl64.Vec3{}, fmt.Errorf("tank %s: inlet %d out of range: %w", t.Name, i, ErrInvalidTopology)
	}
	return t.nodes[t.inlets[i].NodeIndex], nil
}

// Contents returns the live mass ledger.
func (t *Tank) Contents() *substance.Collection { return &t.contents }

// MaxVolume returns the tank capacity in m³.
func (t *Tank) MaxVolume() float64 { return t.maxVolume }

// SetMaxVolume changes the capacity.
func (t *Tank) SetMaxVolume(v float64) { t.maxVolume = v }

// FluidAcceleration is the tank-local effective acceleration supplied by the
// host physics each tick.
func (t *Tank) FluidAcceleration() mgl64.Vec3 { return t.fluidAcceleration }

// SetFluidAcceleration stores the acceleration the next solve samples with.
func (t *Tank) SetFluidAcceleration(a mgl64.Vec3) { t.fluidAcceleration = a }

// FluidState returns the state computed by the last solve.
func (t *Tank) FluidState() FluidState { return t.fluidState }

// FillFraction returns occupied volume over capacity in [0,1].
func (t *Tank) FillFraction() float64 { return shape.FillFraction(t) }

// Draw removes up to mass kg of s and returns the amount actually removed.
func (t *Tank) Draw(s *substance.Substance, mass float64) float64 {
	if mass <= 0 {
		return 0
	}
	available := t.contents.MassOf(s)
	if available <= 0 {
		return 0
	}
	if mass > available {
		mass = available
	}
	t.contents.Add(substance.Of(s, mass), -1)
	t.contents.Compact()
	return mass
}

// Fill adds up to mass kg of s, limited by the free volume, and returns the
// amount actually added.
func (t *Tank) Fill(s *substance.Substance, mass float64) float64 {
	if mass <= 0 || s.ReferenceDensity <= 0 {
		return 0
	}
	free := t.maxVolume - t.contents.Volume()
	if free <= 0 {
		return 0
	}
	if limit := free * s.ReferenceDensity; mass > limit {
		mass = limit
	}
	t.contents.Add(substance.Of(s, mass), 1)
	return mass
}

// sample computes the pressure at inlet i from the tank's current contents.
func (t *Tank) sample(i int) (float64, error) {
	pos := mgl64.Vec3{}
	area := 0.0
	if i >= 0 && i < len(t.inlets) {
		pos = t.nodes[t.inlets[i].NodeIndex]
		area = t.inlets[i].CrossSectionArea
	}
	return t.Shape.Sample(pos, t.fluidAcceleration, area, t)
}
