// Package topology describes vessels as a tree of parts, some of which carry
// tanks, plus the pipes between them. Vessels are read from HCL files and
// flattened into flow networks.
package topology

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/resourceflow/flowsim/internal/flow"
	"github.com/resourceflow/flowsim/internal/shape"
	"github.com/resourceflow/flowsim/internal/substance"
)

// StandardGravity is exposed to vessel files as g0.
const StandardGravity = 9.80665

// Vessel is a loaded vessel definition.
type Vessel struct {
	ID    string
	Root  *Part
	Pipes []PipeDef
}

// Part is a node of the vessel's part tree.
type Part struct {
	Name     string
	Children []*Part
	Tank     *TankDef
}

// TankDef holds the parameters a tank is built from.
type TankDef struct {
	Shape        shape.Kind
	MaxVolume    float64
	Acceleration mgl64.Vec3
	Nodes        []mgl64.Vec3
	Inlets       []flow.Inlet
	Contents     substance.Collection
}

// PartInlet addresses an inlet of the tank carried by a part.
type PartInlet struct {
	Part  string
	Inlet int
}

// PipeDef is a pipe between two part inlets.
type PipeDef struct {
	Name        string
	From, To    PartInlet
	Conductance float64
	Modifiers   []flow.Modifier
}

// Build flattens the vessel into a fresh network.
func (v *Vessel) Build() (*flow.Network, error) {
	return BuildSnapshot(v.ID, v.Root, v.Pipes)
}

// Walk visits every part reachable from the root once, depth first in
// declaration order.
func (v *Vessel) Walk(fn func(*Part)) {
	walk(v.Root, make(map[*Part]bool), fn)
}

func walk(p *Part, seen map[*Part]bool, fn func(*Part)) {
	if p == nil || seen[p] {
		return
	}
	seen[p] = true
	fn(p)
	for _, c := range p.Children {
		walk(c, seen, fn)
	}
}

// BuildSnapshot walks the part tree from root and builds a network over the
// tank-carrying parts. Pipes with an endpoint outside the tree are left out.
// Every call creates new tanks seeded from the definitions.
func BuildSnapshot(vesselID string, root *Part, pipes []PipeDef) (*flow.Network, error) {
	if root == nil {
		return nil, fmt.Errorf("vessel %s: no root part: %w", vesselID, flow.ErrInvalidTopology)
	}

	var (
		tanks   []*flow.Tank
		index   = make(map[string]int)
		walkErr error
	)
	walk(root, make(map[*Part]bool), func(p *Part) {
		if p.Tank == nil || walkErr != nil {
			return
		}
		def := p.Tank
		t := flow.NewTank(p.Name, def.Shape, def.MaxVolume, def.Contents)
		if err := t.SetNodes(def.Nodes, def.Inlets); err != nil {
			walkErr = fmt.Errorf("vessel %s part %s: %w", vesselID, p.Name, err)
			return
		}
		t.SetFluidAcceleration(def.Acceleration)
		index[p.Name] = len(tanks)
		tanks = append(tanks, t)
	})
	if walkErr != nil {
		return nil, walkErr
	}

	var built []*flow.Pipe
	for _, pd := range pipes {
		a, okA := index[pd.From.Part]
		b, okB := index[pd.To.Part]
		if !okA || !okB {
			continue
		}
		mods := append([]flow.Modifier(nil), pd.Modifiers...)
		built = append(built, flow.NewPipe(pd.Name,
			flow.Endpoint{Tank: a, Inlet: pd.From.Inlet},
			flow.Endpoint{Tank: b, Inlet: pd.To.Inlet},
			pd.Conductance, mods...))
	}

	return flow.NewNetwork(vesselID, tanks, built)
}
