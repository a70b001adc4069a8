package handlers

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resourceflow/flowsim/internal/config"
	"github.com/resourceflow/flowsim/internal/dispatcher"
	"github.com/resourceflow/flowsim/internal/influx"
	"github.com/resourceflow/flowsim/internal/logging"
	"github.com/resourceflow/flowsim/internal/session"
	"github.com/resourceflow/flowsim/internal/simulation"
	"github.com/resourceflow/flowsim/internal/storage/memory"
	"github.com/resourceflow/flowsim/internal/topology"
	"github.com/resourceflow/flowsim/internal/worker"
)

const probeVessel = `
vessel "probe" {
  root = "core"
}

part "core" {
  children = ["tank_a", "tank_b"]
}

part "tank_a" {
  tank {
    shape        = "spherical"
    max_volume   = 1
    acceleration = [0, -g0, 0]
    node {
      position = [0, -1, 0]
    }
    inlet {
      node = 0
      area = 0.01
    }
    contents {
      substance = "water"
      mass      = 100
    }
  }
}

part "tank_b" {
  tank {
    shape        = "box"
    max_volume   = 1
    acceleration = [0, -g0, 0]
    node {
      position = [0, -1, 0]
    }
    inlet {
      node = 0
    }
  }
}

pipe "a_to_b" {
  from        = { part = "tank_a", inlet = 0 }
  to          = { part = "tank_b", inlet = 0 }
  conductance = 0.001
}
`

type testEnv struct {
	svc      *Service
	d        *dispatcher.Dispatcher
	sim      *simulation.Context
	backend  *memory.Backend
	recorder *worker.Recorder
	logs     *bytes.Buffer
	file     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	sim, err := simulation.New()
	require.NoError(t, err)

	sess := session.New()
	backend := memory.New(config.MemoryConfig{OutputDir: t.TempDir()})
	rec := worker.NewRecorder(worker.Dependencies{Backend: backend, Session: sess})
	sim.OnTick(rec.Observe)

	var logs bytes.Buffer
	logManager := logging.NewSlogManager()
	logManager.Setup(&logs, "debug", nil)

	svc := NewService(context.Background(), Dependencies{
		Sim:        sim,
		Loader:     topology.NewLoader(nil, nil),
		Recorder:   rec,
		Session:    sess,
		LogManager: logManager,
		DT:         0.5,
		Version:    "1.2.3",
		Build:      "abc123",
	})

	d, err := dispatcher.New(logging.NewZerologAdapter(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(d.Close)
	svc.Register(d)

	file := filepath.Join(t.TempDir(), "probe.hcl")
	require.NoError(t, os.WriteFile(file, []byte(probeVessel), 0o644))

	return &testEnv{svc: svc, d: d, sim: sim, backend: backend, recorder: rec, logs: &logs, file: file}
}

func (env *testEnv) run(t *testing.T, line string) (any, error) {
	t.Helper()
	e, ok := dispatcher.ParseLine(line)
	require.True(t, ok, "not a command: %q", line)
	return env.d.Dispatch(e)
}

func (env *testEnv) mustRun(t *testing.T, line string) any {
	t.Helper()
	out, err := env.run(t, line)
	require.NoError(t, err, line)
	return out
}

func (env *testEnv) load(t *testing.T) {
	t.Helper()
	assert.Equal(t, []string{"probe"}, env.mustRun(t, ":VESSEL:LOAD: "+env.file))
}

func (env *testEnv) tankMass(t *testing.T, tank string) float64 {
	t.Helper()
	net, ok := env.sim.Network("probe")
	require.True(t, ok)
	tk, ok := net.Tank(tank)
	require.True(t, ok)
	return tk.Contents().TotalMass()
}

func TestRegister_Commands(t *testing.T) {
	env := newTestEnv(t)

	for _, cmd := range []string{":VERSION:", ":STATUS:", ":VESSEL:LOAD:", ":VESSEL:UNLOAD:", ":RUN:START:",
		":RUN:END:", ":TICK:", ":ACCEL:", ":DRAW:", ":FILL:", ":METRIC:", ":LOG:"} {
		assert.True(t, env.d.HasHandler(cmd), cmd)
	}
}

func TestVersion(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, []string{"1.2.3", "abc123"}, env.mustRun(t, ":VERSION:"))
}

func TestLoad_RegistersNetworkAndRecorderVessel(t *testing.T) {
	env := newTestEnv(t)
	env.load(t)

	assert.Equal(t, []string{"probe"}, env.sim.Vessels())
	v, ok := env.recorder.Vessel("probe")
	require.True(t, ok)
	assert.Equal(t, env.file, v.Source)
	assert.Len(t, v.Tanks, 2)

	// loading again replaces the network with a fresh one
	old, _ := env.sim.Network("probe")
	env.load(t)
	fresh, _ := env.sim.Network("probe")
	assert.NotSame(t, old, fresh)
	assert.Equal(t, 1, env.sim.Len())
	assert.Contains(t, env.logs.String(), "replaced network of vessel probe")
}

func TestLoad_Errors(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, ":VESSEL:LOAD:")
	assert.Error(t, err)

	_, err = env.run(t, ":VESSEL:LOAD: "+filepath.Join(t.TempDir(), "missing.hcl"))
	assert.Error(t, err)
	assert.Zero(t, env.sim.Len())
}

func TestUnload(t *testing.T) {
	env := newTestEnv(t)
	env.load(t)

	assert.Equal(t, "probe", env.mustRun(t, ":VESSEL:UNLOAD: probe"))
	assert.Zero(t, env.sim.Len())
	_, ok := env.recorder.Vessel("probe")
	assert.False(t, ok)

	_, err := env.run(t, ":VESSEL:UNLOAD: probe")
	assert.ErrorIs(t, err, simulation.ErrUnknownVessel)
}

func TestTick_AdvancesAndConserves(t *testing.T) {
	env := newTestEnv(t)
	env.load(t)

	assert.Equal(t, "tick=2 time=1", env.mustRun(t, ":TICK: 0.5 2"))
	assert.Equal(t, "tick=3 time=1.5", env.mustRun(t, ":TICK:"))

	a, b := env.tankMass(t, "tank_a"), env.tankMass(t, "tank_b")
	assert.Greater(t, b, 0.0)
	assert.InDelta(t, 100.0, a+b, 1e-9)

	_, err := env.run(t, ":TICK: -1")
	assert.Error(t, err)
}

func TestTick_CancelledContext(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	env.svc.ctx = ctx
	cancel()

	_, err := env.run(t, ":TICK:")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDrawAndFill(t *testing.T) {
	env := newTestEnv(t)
	env.load(t)

	assert.Equal(t, 10.0, env.mustRun(t, ":DRAW: probe tank_a water 10"))
	assert.InDelta(t, 90.0, env.tankMass(t, "tank_a"), 1e-9)

	// draw is capped at what the tank holds
	assert.InDelta(t, 90.0, env.mustRun(t, ":DRAW: probe tank_a water 500").(float64), 1e-9)
	assert.Zero(t, env.mustRun(t, ":DRAW: probe tank_a water 1"))

	assert.Equal(t, 5.0, env.mustRun(t, ":FILL: probe tank_b water 5"))
	// fill is capped by the free volume
	filled := env.mustRun(t, ":FILL: probe tank_b water 1e6").(float64)
	assert.Less(t, filled, 1e6)
	assert.Greater(t, filled, 0.0)
}

func TestDraw_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.load(t)

	tests := []struct {
		line string
		want error
	}{
		{":DRAW: probe tank_a unobtainium 1", ErrUnknownSubstance},
		{":DRAW: probe ghost water 1", ErrUnknownTank},
		{":FILL: ghost tank_a water 1", simulation.ErrUnknownVessel},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			_, err := env.run(t, tt.line)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := env.run(t, ":DRAW: probe tank_a water -1")
	assert.Error(t, err)
}

func TestAccel(t *testing.T) {
	env := newTestEnv(t)
	env.load(t)

	env.mustRun(t, ":ACCEL: probe * 0 0 0")
	env.mustRun(t, ":TICK: 1 5")
	assert.Zero(t, env.tankMass(t, "tank_b"), "no acceleration, no head")

	env.mustRun(t, ":ACCEL: probe tank_a [0,-9.81,0]")
	net, _ := env.sim.Network("probe")
	tank, _ := net.Tank("tank_a")
	assert.Equal(t, -9.81, tank.FluidAcceleration().Y())

	_, err := env.run(t, ":ACCEL: probe ghost 0 0 0")
	assert.ErrorIs(t, err, ErrUnknownTank)
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	env.load(t)
	env.mustRun(t, ":TICK: 0.5 2")

	lines := env.mustRun(t, ":STATUS:").([]string)
	require.Len(t, lines, 3)
	assert.Equal(t, `run="No run started" tick=2 time=1 vessels=1`, lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "probe/tank_a fill="), lines[1])
	assert.Contains(t, lines[1], "water")
	assert.True(t, strings.HasPrefix(lines[2], "probe/tank_b fill="), lines[2])

	lines = env.mustRun(t, ":STATUS: probe").([]string)
	assert.Len(t, lines, 2)

	_, err := env.run(t, ":STATUS: ghost")
	assert.ErrorIs(t, err, simulation.ErrUnknownVessel)
}

func TestRunLifecycle(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, ":RUN:END:")
	assert.ErrorIs(t, err, worker.ErrNoRun)

	env.mustRun(t, ":RUN:START: lifecycle test")
	env.load(t)
	env.mustRun(t, ":TICK: 0.5 4")
	env.mustRun(t, ":RUN:END:")

	summary := env.backend.ExportSummary()
	assert.Equal(t, "lifecycle test", summary.RunName)
	assert.Equal(t, uint64(4), summary.Ticks)
	assert.Equal(t, 1, summary.Vessels)
	_, err = os.Stat(env.backend.ExportedFilePath())
	assert.NoError(t, err)
}

func TestMetric(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.handleMetric(dispatcher.Event{Args: []string{"flow_state", "custom", "field::int::n::1"}})
	assert.ErrorIs(t, err, influx.ErrDisabled)

	backup := filepath.Join(t.TempDir(), "influx.gz")
	m := influx.NewManager(zerolog.Nop(), backup)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Connect(ctx, config.InfluxConfig{Enabled: true, Protocol: "http", Host: "127.0.0.1", Port: "1", Org: "flowsim"}))
	env.svc.deps.Influx = m

	_, err = env.svc.handleMetric(dispatcher.Event{Args: []string{"flow_state", "custom", "tag::vessel::probe", "field::float::dv::1.5"}})
	require.NoError(t, err)
	_, err = env.svc.handleMetric(dispatcher.Event{Args: []string{"flow_state"}})
	assert.Error(t, err)
	require.NoError(t, m.Close())

	f, err := os.Open(backup)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "custom,vessel=probe dv=1.5 "), string(data))
}

func TestLog(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.handleLog(dispatcher.Event{Args: []string{"warn", "pressure", "spike"}})
	require.NoError(t, err)
	assert.Contains(t, env.logs.String(), "pressure spike")
	assert.Contains(t, env.logs.String(), "level=WARN")

	_, err = env.svc.handleLog(dispatcher.Event{Args: []string{"info"}})
	assert.Error(t, err)
}
