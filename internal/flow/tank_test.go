package flow

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resourceflow/flowsim/internal/shape"
	"github.com/resourceflow/flowsim/internal/substance"
)

func TestSetNodes_OutOfRange(t *testing.T) {
	tank := NewTank("t", shape.Spherical, 1, substance.Empty())

	err := tank.SetNodes([]mgl64.Vec3{{0, 0, 0}}, []Inlet{{NodeIndex: 1}})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTopology)
	assert.Empty(t, tank.Inlets(), "a rejected binding must not be applied")
}

func TestSetNodes_NegativeIndex(t *testing.T) {
	tank := NewTank("t", shape.Spherical, 1, substance.Empty())

	err := tank.SetNodes([]mgl64.Vec3{{0, 0, 0}}, []Inlet{{NodeIndex: -1}})

	assert.ErrorIs(t, err, ErrInvalidTopology)
}

func TestSetNodes_Valid(t *testing.T) {
	tank := NewTank("t", shape.Spherical, 1, substance.Empty())
	nodes := []mgl64.Vec3{{0, 1, 0}, {0, -1, 0}}

	require.NoError(t, tank.SetNodes(nodes, []Inlet{{NodeIndex: 1, CrossSectionArea: 0.02}}))

	pos, err := tank.InletPosition(0)
	require.NoError(t, err)
	assert.Equal(t, mgl64.Vec3{0, -1, 0}, pos)

	_, err = tank.InletPosition(1)
	assert.ErrorIs(t, err, ErrInvalidTopology)

	// caller's slice is copied
	nodes[1] = mgl64.Vec3{9, 9, 9}
	assert.Equal(t, mgl64.Vec3{0, -1, 0}, tank.Nodes()[1])
}

func TestNewTank_CopiesContents(t *testing.T) {
	contents := substance.Of(water, 10)
	tank := NewTank("t", shape.Spherical, 1, contents)

	tank.Contents().Add(substance.Of(water, 5), 1)

	assert.Equal(t, 10.0, contents.MassOf(water))
	assert.Equal(t, 15.0, tank.Contents().MassOf(water))
	assert.Equal(t, substance.ReferenceTemperature, tank.FluidState().Temperature)
}

func TestDraw(t *testing.T) {
	tank := NewTank("t", shape.Spherical, 1, substance.Of(water, 10))

	assert.Equal(t, 4.0, tank.Draw(water, 4))
	assert.Equal(t, 6.0, tank.Draw(water, 100))
	assert.Equal(t, 0.0, tank.Draw(water, 1))
	assert.Equal(t, 0.0, tank.Contents().MassOf(water))
	assert.Equal(t, 0.0, tank.Draw(oil, 1))
}

func TestDraw_ExhaustedEntryRemoved(t *testing.T) {
	tank := NewTank("t", shape.Spherical, 1, substance.Of(water, 10))

	tank.Draw(water, 10)
	assert.True(t, tank.Contents().IsEmpty())

	tank.Fill(oil, 5)
	require.Equal(t, 1, tank.Contents().SubstanceCount())
	assert.Same(t, oil, tank.Contents().At(0).Substance)
}

func TestFill_LimitedByFreeVolume(t *testing.T) {
	tank := NewTank("t", shape.Spherical, 1, substance.Of(water, 900))

	added := tank.Fill(water, 500)

	assert.InDelta(t, 100.0, added, 1e-9)
	assert.InDelta(t, 1.0, tank.FillFraction(), 1e-12)
	assert.InDelta(t, 0.0, tank.Fill(water, 1), 1e-9)
}

func TestFluidAcceleration(t *testing.T) {
	tank := NewTank("t", shape.Box, 2, substance.Empty())
	tank.SetFluidAcceleration(mgl64.Vec3{1, 2, 3})

	assert.Equal(t, mgl64.Vec3{1, 2, 3}, tank.FluidAcceleration())
	assert.Equal(t, 2.0, tank.MaxVolume())
}
