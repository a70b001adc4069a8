package flow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

// ModifierKind selects how a modifier changes a pipe's working parameters.
type ModifierKind int

const (
	Pump ModifierKind = iota
	Valve
)

// Modifier is a closed variant over the supported pipe modifiers. Only the
// field matching Kind is read.
type Modifier struct {
	Kind        ModifierKind
	HeadAdded   float64 // Pump, Pa
	PercentOpen float64 // Valve, [0,1]
}

var modifierAppliers = [...]func(Modifier, *Pipe){
	Pump:  applyPump,
	Valve: applyValve,
}

var modifierNames = [...]string{
	Pump:  "pump",
	Valve: "valve",
}

func (k ModifierKind) String() string {
	if k < 0 || int(k) >= len(modifierNames) {
		return fmt.Sprintf("modifier(%d)", int(k))
	}
	return modifierNames[k]
}

// ParseModifierKind resolves "pump" or "valve".
func ParseModifierKind(name string) (ModifierKind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for k, kn := range modifierNames {
		if kn == n {
			return ModifierKind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown pipe modifier: %q", name)
}

// PumpModifier adds head to the A side of a pipe.
func PumpModifier(headAdded float64) Modifier {
	return Modifier{Kind: Pump, HeadAdded: headAdded}
}

// ValveModifier scales a pipe's working conductance.
func ValveModifier(percentOpen float64) Modifier {
	return Modifier{Kind: Valve, PercentOpen: percentOpen}
}

// Apply folds the modifier into the pipe's working parameters for this tick.
// Out-of-range parameters are clamped here; Validate reports them.
func (m Modifier) Apply(p *Pipe) {
	if m.Kind < 0 || int(m.Kind) >= len(modifierAppliers) {
		return
	}
	modifierAppliers[m.Kind](m, p)
}

func applyPump(m Modifier, p *Pipe) {
	p.workingHeadAdded += max(m.HeadAdded, 0)
}

func applyValve(m Modifier, p *Pipe) {
	p.workingConductance *= mgl64.Clamp(m.PercentOpen, 0, 1)
}

// Validate returns a warning for parameters that Apply will clamp, or for an
// unknown kind. None of these stop the solve.
func (m Modifier) Validate() error {
	switch m.Kind {
	case Pump:
		if m.HeadAdded < 0 {
			return fmt.Errorf("pump head %v is negative, treated as 0", m.HeadAdded)
		}
	case Valve:
		if m.PercentOpen < 0 || m.PercentOpen > 1 {
			return fmt.Errorf("valve opening %v outside [0,1], clamped", m.PercentOpen)
		}
	default:
		return fmt.Errorf("unknown modifier kind %d, ignored", int(m.Kind))
	}
	return nil
}

// ValidateModifiers collects the warnings of every modifier on every pipe.
func ValidateModifiers(pipes []*Pipe) error {
	var errs []error
	for _, p := range pipes {
		for i, m := range p.Modifiers {
			if err := m.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("pipe %s modifier %d: %w", p.Name, i, err))
			}
		}
	}
	return errors.Join(errs...)
}
