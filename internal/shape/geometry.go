package shape

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// unit sphere, r = 1
const unitSphereVolume = 4.0 / 3.0 * math.Pi

// SolveHeightOfTruncatedSphere inverts the spherical cap volume formula for a
// unit sphere. It returns the cap height in [0,2] for a fill fraction in [0,1].
func SolveHeightOfTruncatedSphere(fillFraction float64) float64 {
	a := 1 - (3*unitSphereVolume*fillFraction)/(2*math.Pi)
	// rounding can push a just outside arccos's domain at the ends
	theta := math.Acos(mgl64.Clamp(a, -1, 1)) / 3
	return math.Sqrt(3)*math.Sin(theta) - math.Cos(theta) + 1
}

// solveHeightOfBox is the prism case: height grows linearly to 2.
func solveHeightOfBox(fillFraction float64) float64 {
	return 2 * fillFraction
}
