package substance

import "fmt"

// State is a mass of one substance.
// MassAmount may be negative only transiently, inside ledger arithmetic.
type State struct {
	Substance  *Substance
	MassAmount float64
}

// Collection is an ordered mass ledger with at most one entry per substance.
// The zero value is empty and ready to use.
type Collection struct {
	states []State
}

// Empty returns a new zero-substance collection.
func Empty() Collection { return Collection{} }

// NewCollection builds a collection from states, merging duplicates.
func NewCollection(states ...State) Collection {
	var c Collection
	for _, s := range states {
		c.addMass(s.Substance, s.MassAmount)
	}
	return c
}

// Of is shorthand for a single-substance collection.
func Of(s *Substance, mass float64) Collection {
	return NewCollection(State{Substance: s, MassAmount: mass})
}

// SubstanceCount returns the number of distinct substances held.
func (c *Collection) SubstanceCount() int {
	return len(c.states)
}

// At returns the i-th entry in insertion order.
func (c *Collection) At(i int) State {
	return c.states[i]
}

// IsEmpty reports whether the collection holds no substance entries.
func (c *Collection) IsEmpty() bool {
	return len(c.states) == 0
}

// Add merges other scaled by dt into c. dt=1 adds mass, dt=-1 subtracts it.
// The result is not clamped; a subtraction can leave negative masses behind.
func (c *Collection) Add(other Collection, dt float64) {
	for _, s := range other.states {
		c.addMass(s.Substance, s.MassAmount*dt)
	}
}

func (c *Collection) addMass(s *Substance, mass float64) {
	for i := range c.states {
		if c.states[i].Substance == s {
			c.states[i].MassAmount += mass
			return
		}
	}
	c.states = append(c.states, State{Substance: s, MassAmount: mass})
}

// Clone returns a deep copy that shares only the Substance pointers.
func (c *Collection) Clone() Collection {
	if len(c.states) == 0 {
		return Collection{}
	}
	states := make([]State, len(c.states))
	copy(states, c.states)
	return Collection{states: states}
}

// Scaled returns a copy of c with every mass multiplied by k.
func (c *Collection) Scaled(k float64) Collection {
	out := c.Clone()
	for i := range out.states {
		out.states[i].MassAmount *= k
	}
	return out
}

// MassOf returns the mass held of s, or 0.
func (c *Collection) MassOf(s *Substance) float64 {
	for _, st := range c.states {
		if st.Substance == s {
			return st.MassAmount
		}
	}
	return 0
}

// Find looks an entry up by substance id.
func (c *Collection) Find(id string) (State, bool) {
	for _, st := range c.states {
		if st.Substance != nil && st.Substance.ID == id {
			return st, true
		}
	}
	return State{}, false
}

// TotalMass sums all entries.
func (c *Collection) TotalMass() float64 {
	var total float64
	for _, st := range c.states {
		total += st.MassAmount
	}
	return total
}

// Volume is the space the contents occupy at their reference densities, m³.
func (c *Collection) Volume() float64 {
	var v float64
	for _, st := range c.states {
		if st.Substance == nil || st.Substance.ReferenceDensity <= 0 {
			continue
		}
		v += st.MassAmount / st.Substance.ReferenceDensity
	}
	return v
}

// Clamp raises negative masses to zero and returns the mass that was added
// to do so.
func (c *Collection) Clamp() float64 {
	var corrected float64
	for i := range c.states {
		if c.states[i].MassAmount < 0 {
			corrected -= c.states[i].MassAmount
			c.states[i].MassAmount = 0
		}
	}
	return corrected
}

// Compact drops entries whose mass is zero or less.
func (c *Collection) Compact() {
	kept := c.states[:0]
	for _, st := range c.states {
		if st.MassAmount > 0 {
			kept = append(kept, st)
		}
	}
	clear(c.states[len(kept):])
	c.states = kept
}

// Held returns a copy of the entries holding positive mass.
func (c *Collection) Held() []State {
	var out []State
	for _, st := range c.states {
		if st.MassAmount > 0 {
			out = append(out, st)
		}
	}
	return out
}

// States returns a copy of the entries.
func (c *Collection) States() []State {
	out := make([]State, len(c.states))
	copy(out, c.states)
	return out
}

func (c Collection) String() string {
	s := "{"
	for i, st := range c.states {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%g %s", st.MassAmount, st.Substance)
	}
	return s + "}"
}
