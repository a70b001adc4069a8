package flow

// Endpoint addresses an inlet of a tank in the network arena.
type Endpoint struct {
	Tank  int
	Inlet int
}

// Pipe connects two tank inlets. It carries parameters only; transport is
// computed by the network solve.
type Pipe struct {
	Name string
	A, B Endpoint

	// BaseConductance converts a pressure difference into a mass flow rate,
	// kg/(s·Pa). It is never modified by the solve.
	BaseConductance float64
	// Modifiers are applied in order; valve and pump chains do not commute.
	Modifiers []Modifier

	workingConductance float64
	workingHeadAdded   float64
}

// NewPipe creates a pipe from a to b.
func NewPipe(name string, a, b Endpoint, conductance float64, modifiers ...Modifier) *Pipe {
	p := &Pipe{
		Name:            name,
		A:               a,
		B:               b,
		BaseConductance: conductance,
		Modifiers:       modifiers,
	}
	p.Recompute()
	return p
}

// Recompute derives this tick's working parameters from the base conductance
// and the modifier chain. It starts from scratch every call, so repeated
// ticks never compound a valve's scaling.
func (p *Pipe) Recompute() {
	p.workingConductance = p.BaseConductance
	p.workingHeadAdded = 0
	for _, m := range p.Modifiers {
		m.Apply(p)
	}
}

// WorkingConductance is the conductance in effect for the current tick.
func (p *Pipe) WorkingConductance() float64 { return p.workingConductance }

// WorkingHeadAdded is the pump head in effect for the current tick.
func (p *Pipe) WorkingHeadAdded() float64 { return p.workingHeadAdded }
