package gormstorage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/resourceflow/flowsim/internal/cache"
	"github.com/resourceflow/flowsim/internal/database"
	"github.com/resourceflow/flowsim/internal/model"
	"github.com/resourceflow/flowsim/internal/storage"
	"github.com/resourceflow/flowsim/pkg/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.GetSqliteDB(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// newTestBackend uses a long flush interval so tests control writes via Flush.
func newTestBackend(t *testing.T, limit int) *Backend {
	t.Helper()
	b := New(Dependencies{
		DB:            openTestDB(t),
		VesselCache:   cache.NewVesselCache(),
		Logger:        zerolog.Nop(),
		QueueLimit:    limit,
		FlushInterval: time.Hour,
	})
	require.NoError(t, b.Init())
	t.Cleanup(func() { b.Close() })
	return b
}

func startProbeRun(t *testing.T, b *Backend) (*core.Run, *core.Vessel) {
	t.Helper()
	run := &core.Run{Name: "probe", StartTime: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), DT: 0.02}
	require.NoError(t, b.StartRun(run))

	v := &core.Vessel{
		VesselID: "probe",
		Tanks: []core.TankInfo{
			{Index: 0, Name: "a", Shape: "spherical", MaxVolume: 1, Inlets: 1},
			{Index: 1, Name: "b", Shape: "box", MaxVolume: 1, Inlets: 1},
		},
		Pipes: []core.PipeInfo{{Index: 0, Name: "a-b", ToTank: 1, BaseConductance: 0.002}},
	}
	require.NoError(t, b.AddVessel(v))
	return run, v
}

func TestInit_NoDB(t *testing.T) {
	b := New(Dependencies{Logger: zerolog.Nop()})
	assert.Error(t, b.Init())
	assert.NoError(t, b.Close())
}

func TestStartRun_AssignsID(t *testing.T) {
	b := newTestBackend(t, 0)
	run, v := startProbeRun(t, b)

	assert.NotZero(t, run.ID)
	assert.NotZero(t, v.ID)
	assert.Equal(t, run.ID, v.RunID)

	id, ok := b.deps.VesselCache.Get("probe")
	require.True(t, ok)
	assert.Equal(t, v.ID, id)

	var stored model.Vessel
	require.NoError(t, b.DB().Preload("Tanks").Preload("Pipes").First(&stored, v.ID).Error)
	assert.Len(t, stored.Tanks, 2)
	assert.Len(t, stored.Pipes, 1)
	assert.Equal(t, "box", stored.Tanks[1].Shape)
}

func TestRecord_QueuesUntilFlush(t *testing.T) {
	b := newTestBackend(t, 0)
	run, v := startProbeRun(t, b)

	for tick := uint64(1); tick <= 3; tick++ {
		require.NoError(t, b.RecordTankState(&core.TankState{
			VesselID: v.ID, TankIndex: 0, Tick: tick, Time: float64(tick) * 0.02, Mass: 100,
			Contents: []core.SubstanceMass{{Substance: "water", Mass: 100}},
		}))
		require.NoError(t, b.RecordPipeFlow(&core.PipeFlow{VesselID: v.ID, Tick: tick, Rate: 1}))
	}
	require.NoError(t, b.RecordPerformance(&core.Performance{Tick: 3, Networks: 1}))

	assert.Equal(t, 7, b.QueueDepth())

	var count int64
	b.DB().Model(&model.TankState{}).Count(&count)
	assert.Zero(t, count)

	require.NoError(t, b.Flush())
	assert.Equal(t, 0, b.QueueDepth())

	var states []model.TankState
	require.NoError(t, b.DB().Order("tick").Find(&states).Error)
	require.Len(t, states, 3)
	assert.Equal(t, run.ID, states[0].RunID)
	assert.Equal(t, run.StartTime.Add(40*time.Millisecond).Unix(), states[1].Time.Unix())
	assert.JSONEq(t, `[{"substance":"water","mass":100}]`, string(states[0].Contents))

	b.DB().Model(&model.PipeFlow{}).Count(&count)
	assert.Equal(t, int64(3), count)
	b.DB().Model(&model.Performance{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestRecord_BoundedQueueDrops(t *testing.T) {
	b := newTestBackend(t, 2)
	_, v := startProbeRun(t, b)

	for tick := uint64(1); tick <= 5; tick++ {
		require.NoError(t, b.RecordTankState(&core.TankState{VesselID: v.ID, Tick: tick}))
	}

	assert.Equal(t, 2, b.QueueDepth())
	assert.Equal(t, uint64(3), b.Dropped())

	require.NoError(t, b.Flush())
	var ticks []uint64
	require.NoError(t, b.DB().Model(&model.TankState{}).Order("tick").Pluck("tick", &ticks).Error)
	assert.Equal(t, []uint64{4, 5}, ticks)
}

func TestEndRun_FlushesAndStampsEnd(t *testing.T) {
	b := newTestBackend(t, 0)
	run, v := startProbeRun(t, b)
	require.NoError(t, b.RecordTankState(&core.TankState{VesselID: v.ID, Tick: 1}))

	require.NoError(t, b.EndRun())
	assert.Equal(t, 0, b.QueueDepth())

	var stored model.Run
	require.NoError(t, b.DB().First(&stored, run.ID).Error)
	assert.True(t, stored.EndTime.Valid)

	assert.Error(t, b.EndRun(), "second EndRun has no run to close")
}

func TestWriterLoop_Drains(t *testing.T) {
	b := New(Dependencies{
		DB:            openTestDB(t),
		Logger:        zerolog.Nop(),
		FlushInterval: 10 * time.Millisecond,
	})
	require.NoError(t, b.Init())
	t.Cleanup(func() { b.Close() })

	_, v := startProbeRun(t, b)
	require.NoError(t, b.RecordPipeFlow(&core.PipeFlow{VesselID: v.ID, Tick: 1}))

	assert.Eventually(t, func() bool { return b.QueueDepth() == 0 }, time.Second, 10*time.Millisecond)
}
