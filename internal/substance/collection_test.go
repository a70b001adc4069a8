package substance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSubstance(id string) *Substance {
	return &Substance{ID: id, Name: id, Phase: Liquid, ReferenceDensity: 1000, ReferencePressure: 101325}
}

func TestEmpty(t *testing.T) {
	e := Empty()
	assert.True(t, e.IsEmpty())
	assert.Equal(t, 0, e.SubstanceCount())
}

func TestAdd_SameSubstance(t *testing.T) {
	sbs := testSubstance("sbs")

	c := Of(sbs, 50)
	c.Add(Of(sbs, 50), 1)

	require.Equal(t, 1, c.SubstanceCount())
	assert.Equal(t, 100.0, c.At(0).MassAmount)
	assert.Same(t, sbs, c.At(0).Substance)
}

func TestAdd_NegativeOtherCancels(t *testing.T) {
	sbs := testSubstance("sbs")

	c := Of(sbs, 50)
	c.Add(Of(sbs, -50), 1)

	require.Equal(t, 1, c.SubstanceCount())
	assert.Equal(t, 0.0, c.At(0).MassAmount)
}

func TestAdd_Subtract(t *testing.T) {
	sbs := testSubstance("sbs")

	c := Of(sbs, 100)
	c.Add(Of(sbs, 50), -1)

	require.Equal(t, 1, c.SubstanceCount())
	assert.Equal(t, 50.0, c.At(0).MassAmount)
}

func TestAdd_FourSubstancesAnyOrder(t *testing.T) {
	a, b, c, d := testSubstance("a"), testSubstance("b"), testSubstance("c"), testSubstance("d")

	left := NewCollection(
		State{Substance: a, MassAmount: 50},
		State{Substance: b, MassAmount: 30},
		State{Substance: c, MassAmount: 20},
		State{Substance: d, MassAmount: 10},
	)
	right := NewCollection(
		State{Substance: d, MassAmount: 10},
		State{Substance: c, MassAmount: 20},
		State{Substance: b, MassAmount: 30},
		State{Substance: a, MassAmount: 50},
	)

	left.Add(right, 1)

	require.Equal(t, 4, left.SubstanceCount())
	assert.Equal(t, 100.0, left.MassOf(a))
	assert.Equal(t, 60.0, left.MassOf(b))
	assert.Equal(t, 40.0, left.MassOf(c))
	assert.Equal(t, 20.0, left.MassOf(d))
	// insertion order of the receiver is kept
	assert.Same(t, a, left.At(0).Substance)
	assert.Same(t, d, left.At(3).Substance)
}

func TestAdd_IntoEmpty(t *testing.T) {
	sbs := testSubstance("sbs")

	c := Empty()
	c.Add(Of(sbs, 50), 1)

	require.Equal(t, 1, c.SubstanceCount())
	assert.Equal(t, 50.0, c.At(0).MassAmount)
	e := Empty()
	assert.True(t, e.IsEmpty(), "each Empty call returns a fresh ledger")
}

func TestAdd_SubtractFromEmptyIsNotClamped(t *testing.T) {
	sbs := testSubstance("sbs")

	var c Collection
	c.Add(Of(sbs, 50), -1)

	require.Equal(t, 1, c.SubstanceCount())
	assert.Equal(t, -50.0, c.At(0).MassAmount)
}

func TestAdd_MatchesByIdentityNotValue(t *testing.T) {
	first := testSubstance("same")
	second := testSubstance("same")

	c := Of(first, 10)
	c.Add(Of(second, 5), 1)

	assert.Equal(t, 2, c.SubstanceCount())
}

func TestAdd_ScalesByDt(t *testing.T) {
	sbs := testSubstance("sbs")

	var c Collection
	c.Add(Of(sbs, 10), 0.5)

	assert.InDelta(t, 5.0, c.MassOf(sbs), 1e-12)
}

func TestNewCollection_MergesDuplicates(t *testing.T) {
	sbs := testSubstance("sbs")

	c := NewCollection(State{Substance: sbs, MassAmount: 1}, State{Substance: sbs, MassAmount: 2})

	require.Equal(t, 1, c.SubstanceCount())
	assert.Equal(t, 3.0, c.At(0).MassAmount)
}

func TestClone_IsIndependent(t *testing.T) {
	sbs := testSubstance("sbs")
	c := Of(sbs, 10)

	clone := c.Clone()
	clone.Add(Of(sbs, 5), 1)

	assert.Equal(t, 10.0, c.MassOf(sbs))
	assert.Equal(t, 15.0, clone.MassOf(sbs))
}

func TestScaled(t *testing.T) {
	a, b := testSubstance("a"), testSubstance("b")
	c := NewCollection(State{Substance: a, MassAmount: 10}, State{Substance: b, MassAmount: 30})

	half := c.Scaled(0.5)

	assert.Equal(t, 5.0, half.MassOf(a))
	assert.Equal(t, 15.0, half.MassOf(b))
	assert.Equal(t, 40.0, c.TotalMass())
}

func TestVolume(t *testing.T) {
	sbs := testSubstance("sbs")
	c := Of(sbs, 500)

	assert.InDelta(t, 0.5, c.Volume(), 1e-12)
}

func TestClamp(t *testing.T) {
	a, b := testSubstance("a"), testSubstance("b")
	c := NewCollection(State{Substance: a, MassAmount: -3}, State{Substance: b, MassAmount: 4})

	corrected := c.Clamp()

	assert.Equal(t, 3.0, corrected)
	assert.Equal(t, 0.0, c.MassOf(a))
	assert.Equal(t, 4.0, c.MassOf(b))
}

func TestFind(t *testing.T) {
	sbs := testSubstance("sbs")
	c := Of(sbs, 7)

	st, ok := c.Find("sbs")
	require.True(t, ok)
	assert.Equal(t, 7.0, st.MassAmount)

	_, ok = c.Find("missing")
	assert.False(t, ok)
}

func TestCompact_DropsExhaustedEntries(t *testing.T) {
	water, oil := testSubstance("water"), testSubstance("oil")
	c := NewCollection(State{Substance: water, MassAmount: 10}, State{Substance: oil, MassAmount: 5})

	c.Add(Of(water, 10), -1)
	require.Equal(t, 2, c.SubstanceCount())
	c.Compact()

	require.Equal(t, 1, c.SubstanceCount())
	assert.Same(t, oil, c.At(0).Substance)
	assert.Equal(t, 5.0, c.TotalMass())
}

func TestHeld(t *testing.T) {
	water, oil := testSubstance("water"), testSubstance("oil")
	c := NewCollection(State{Substance: water, MassAmount: 0}, State{Substance: oil, MassAmount: 5})

	held := c.Held()

	require.Len(t, held, 1)
	assert.Same(t, oil, held[0].Substance)
	assert.Equal(t, 2, c.SubstanceCount(), "Held does not modify the ledger")
}
