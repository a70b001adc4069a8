package convert

import (
	"testing"
	"time"

	"github.com/resourceflow/flowsim/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

var runStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestSimTime(t *testing.T) {
	assert.Equal(t, runStart.Add(1500*time.Millisecond), SimTime(runStart, 1.5))
	assert.Equal(t, runStart, SimTime(runStart, 0))
}

func TestCoreToRun(t *testing.T) {
	m := CoreToRun(core.Run{ID: 4, Name: "probe", StartTime: runStart, DT: 0.02, Parallel: 2, Version: "1.0.0"})

	assert.Equal(t, uint(4), m.ID)
	assert.Equal(t, "probe", m.Name)
	assert.Equal(t, 0.02, m.DT)
	assert.False(t, m.EndTime.Valid)
}

func TestCoreToVessel(t *testing.T) {
	v := core.Vessel{
		ID:       3,
		RunID:    1,
		VesselID: "probe",
		Tanks: []core.TankInfo{
			{Index: 0, Name: "a", Shape: "box", MaxVolume: 2, Inlets: 1},
			{Index: 1, Name: "b", Shape: "spherical", MaxVolume: 1, Inlets: 2},
		},
		Pipes: []core.PipeInfo{{Index: 0, Name: "a-b", FromTank: 0, ToTank: 1, ToInlet: 1, BaseConductance: 0.002, Modifiers: 2}},
	}

	m := CoreToVessel(v)

	assert.Equal(t, uint(3), m.ID)
	assert.Equal(t, "probe", m.Name)
	require.Len(t, m.Tanks, 2)
	assert.Equal(t, "spherical", m.Tanks[1].Shape)
	require.Len(t, m.Pipes, 1)
	assert.Equal(t, 1, m.Pipes[0].ToInlet)
	assert.Equal(t, 2, m.Pipes[0].Modifiers)
}

func TestTankState_RoundTrip(t *testing.T) {
	s := core.TankState{
		VesselID:  3,
		TankIndex: 1,
		Tick:      10,
		Time:      0.2,
		Pressure:  9806.65,
		Mass:      150,
		Fill:      0.15,
		Contents:  []core.SubstanceMass{{Substance: "water", Mass: 100}, {Substance: "rp1", Mass: 50}},
	}

	m := CoreToTankState(s, 1, runStart)
	assert.Equal(t, runStart.Add(200*time.Millisecond), m.Time)
	assert.JSONEq(t, `[{"substance":"water","mass":100},{"substance":"rp1","mass":50}]`, string(m.Contents))

	back, err := TankStateToCore(m)
	require.NoError(t, err)
	assert.Equal(t, s, back)
}

func TestTankState_EmptyContents(t *testing.T) {
	m := CoreToTankState(core.TankState{}, 1, runStart)
	assert.Equal(t, "[]", string(m.Contents))
	back, err := TankStateToCore(m)
	require.NoError(t, err)
	assert.Empty(t, back.Contents)
}

func TestTankState_CorruptContents(t *testing.T) {
	m := CoreToTankState(core.TankState{}, 1, runStart)
	m.Contents = datatypes.JSON(`{"substance":`)

	_, err := TankStateToCore(m)
	assert.ErrorContains(t, err, "decoding contents")
}

func TestPipeFlow_RoundTrip(t *testing.T) {
	f := core.PipeFlow{VesselID: 3, PipeIndex: 0, Tick: 2, Time: 0.04, FromTank: 0, ToTank: 1, DeltaPressure: 500, Rate: 1, Mass: 0.02, Starved: true}

	m := CoreToPipeFlow(f, 1, runStart)
	assert.Equal(t, uint(1), m.RunID)
	assert.Equal(t, f, PipeFlowToCore(m))
}

func TestCoreToPerformance(t *testing.T) {
	m := CoreToPerformance(core.Performance{Timestamp: runStart, Tick: 50, Networks: 3, TickDuration: 2500 * time.Microsecond, QueueDepth: 7}, 9)

	assert.Equal(t, uint(9), m.RunID)
	assert.Equal(t, 2.5, m.TickDurationMs)
	assert.Equal(t, 7, m.QueueDepth)
}
