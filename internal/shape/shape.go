// Package shape converts a container's fill state and local acceleration into
// a hydrostatic pressure sample.
//
// Shapes form a closed set of kinds dispatched through a table rather than an
// interface, keeping the per-tick sampling loop free of dynamic dispatch.
package shape

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/resourceflow/flowsim/internal/substance"
)

// ErrUnsupportedConfiguration is returned when sampling a container whose
// contents mix more than one substance. Multi-substance sampling is not
// implemented; callers must not approximate it.
var ErrUnsupportedConfiguration = errors.New("unsupported configuration")

// Kind selects a container geometry.
type Kind int

const (
	Spherical Kind = iota
	Box
)

// Container is the view of a tank a shape needs to sample it.
type Container interface {
	Contents() *substance.Collection
	MaxVolume() float64
}

// heightSolver maps a fill fraction in [0,1] to a liquid column height in [0,2].
type heightSolver func(fillFraction float64) float64

var heightSolvers = [...]heightSolver{
	Spherical: SolveHeightOfTruncatedSphere,
	Box:       solveHeightOfBox,
}

var kindNames = [...]string{
	Spherical: "spherical",
	Box:       "box",
}

func (k Kind) valid() bool {
	return k >= 0 && int(k) < len(heightSolvers)
}

func (k Kind) String() string {
	if !k.valid() {
		return fmt.Sprintf("shape(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind resolves a shape name such as "spherical".
func ParseKind(name string) (Kind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for k, kn := range kindNames {
		if kn == n {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown container shape: %q", name)
}

// FillFraction returns occupied volume over capacity, clamped to [0,1].
func FillFraction(c Container) float64 {
	capacity := c.MaxVolume()
	if capacity <= 0 {
		return 0
	}
	return mgl64.Clamp(c.Contents().Volume()/capacity, 0, 1)
}

// Height returns the column height for the given fill fraction.
func (k Kind) Height(fillFraction float64) (float64, error) {
	if !k.valid() {
		return 0, fmt.Errorf("unknown container shape %d", int(k))
	}
	return heightSolvers[k](mgl64.Clamp(fillFraction, 0, 1)), nil
}

// Sample returns the pressure seen at localPosition through a hole of the
// given cross section. The tank is treated as uniform, so position and hole
// size do not yet change the result.
func (k Kind) Sample(localPosition, localAcceleration mgl64.Vec3, holeCrossSection float64, c Container) (float64, error) {
	held := c.Contents().Held()
	switch len(held) {
	case 0:
		return 0, nil
	case 1:
	default:
		return 0, fmt.Errorf("sampling %d substances: %w", len(held), ErrUnsupportedConfiguration)
	}

	height, err := k.Height(FillFraction(c))
	if err != nil {
		return 0, err
	}

	density := held[0].Substance.ReferenceDensity
	return localAcceleration.Len() * density * height, nil
}
