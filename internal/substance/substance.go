// Package substance holds material definitions and the per-tank mass ledger.
package substance

import (
	"fmt"
	"strings"
)

// Phase is the physical state a substance is modelled in.
type Phase int

const (
	Liquid Phase = iota
	Gas
)

// universal gas constant, J/(mol·K)
const gasConstant = 8.314462618

// ReferenceTemperature is the temperature gases are evaluated at. The model
// carries no thermal state yet.
const ReferenceTemperature = 293.15

// StandardPressure is one atmosphere in Pa.
const StandardPressure = 101325.0

func (p Phase) String() string {
	switch p {
	case Liquid:
		return "liquid"
	case Gas:
		return "gas"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ParsePhase converts "liquid" or "gas" (case-insensitive) to a Phase.
func ParsePhase(s string) (Phase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "liquid":
		return Liquid, nil
	case "gas":
		return Gas, nil
	default:
		return 0, fmt.Errorf("unknown phase: %q", s)
	}
}

// Substance describes a material. Values are shared by pointer and must not
// be modified once registered; states match substances by pointer identity.
type Substance struct {
	ID    string
	Name  string
	Color string // display only

	Phase             Phase
	ReferenceDensity  float64 // kg/m³ at ReferencePressure
	ReferencePressure float64 // Pa

	BulkModulus float64 // Pa, liquids
	MolarMass   float64 // kg/mol, gases
}

// Density returns the density in kg/m³ at the given absolute pressure.
// Liquids use a linear bulk-modulus model, gases the ideal gas law.
func (s *Substance) Density(pressure float64) float64 {
	switch s.Phase {
	case Gas:
		if s.MolarMass <= 0 {
			return s.ReferenceDensity
		}
		return pressure * s.MolarMass / (gasConstant * ReferenceTemperature)
	default:
		if s.BulkModulus <= 0 {
			return s.ReferenceDensity
		}
		return s.ReferenceDensity * (1 + (pressure-s.ReferencePressure)/s.BulkModulus)
	}
}

// Validate reports definition errors that would make the solve meaningless.
func (s *Substance) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("substance has no id")
	}
	if s.ReferenceDensity <= 0 {
		return fmt.Errorf("substance %s: reference density must be positive, got %v", s.ID, s.ReferenceDensity)
	}
	if s.Phase == Gas && s.MolarMass <= 0 {
		return fmt.Errorf("substance %s: gas requires a positive molar mass", s.ID)
	}
	return nil
}

func (s *Substance) String() string {
	if s == nil {
		return "<nil>"
	}
	return s.ID
}
