// Package handlers implements the line command surface on top of the
// simulation context: loading vessels, ticking, moving substance in and out
// of tanks and reporting their state.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/resourceflow/flowsim/internal/dispatcher"
	"github.com/resourceflow/flowsim/internal/flow"
	"github.com/resourceflow/flowsim/internal/influx"
	"github.com/resourceflow/flowsim/internal/logging"
	"github.com/resourceflow/flowsim/internal/parser"
	"github.com/resourceflow/flowsim/internal/session"
	"github.com/resourceflow/flowsim/internal/simulation"
	"github.com/resourceflow/flowsim/internal/substance"
	"github.com/resourceflow/flowsim/internal/topology"
	"github.com/resourceflow/flowsim/internal/worker"
	"github.com/resourceflow/flowsim/pkg/core"
)

var (
	// ErrUnknownTank is returned when a command names a tank the vessel lacks.
	ErrUnknownTank = errors.New("unknown tank")
	// ErrUnknownSubstance is returned for substance ids missing from the catalog.
	ErrUnknownSubstance = errors.New("unknown substance")
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Sim        *simulation.Context
	Loader     *topology.Loader
	Parser     *parser.Parser
	Recorder   *worker.Recorder
	Session    *session.Session
	Influx     *influx.Manager // optional, used by :METRIC:
	LogManager *logging.SlogManager

	DT       float64 // default tick length stamped on new runs
	Parallel int
	Version  string
	Build    string
}

// Service provides handler methods for the command surface
type Service struct {
	ctx          context.Context
	deps         Dependencies
	writeLogFunc func(functionName, data, level string)
}

// NewService creates a new handler service. ctx bounds every tick the
// service runs.
func NewService(ctx context.Context, deps Dependencies) *Service {
	if deps.Session == nil {
		deps.Session = session.New()
	}
	if deps.Parser == nil {
		deps.Parser = parser.NewParser(nil, deps.DT)
	}
	if deps.Loader == nil {
		deps.Loader = topology.NewLoader(nil, nil)
	}
	s := &Service{ctx: ctx, deps: deps}
	s.writeLogFunc = func(functionName, data, level string) {
		if deps.LogManager != nil {
			deps.LogManager.WriteLog(functionName, data, level)
		}
	}
	return s
}

func (s *Service) writeLog(functionName, data, level string) {
	s.writeLogFunc(functionName, data, level)
}

// Register adds every command to the dispatcher.
func (s *Service) Register(d *dispatcher.Dispatcher) {
	d.Register(":VERSION:", s.handleVersion)
	d.Register(":STATUS:", s.handleStatus)

	// topology and run lifecycle, sync so the caller sees the result
	d.Register(":VESSEL:LOAD:", s.handleLoad, dispatcher.Logged())
	d.Register(":VESSEL:UNLOAD:", s.handleUnload, dispatcher.Logged())
	d.Register(":RUN:START:", s.handleRunStart, dispatcher.Logged())
	d.Register(":RUN:END:", s.handleRunEnd, dispatcher.Logged())

	d.Register(":TICK:", s.handleTick, dispatcher.Logged())
	d.Register(":ACCEL:", s.handleAccel)
	d.Register(":DRAW:", s.handleDraw, dispatcher.Logged())
	d.Register(":FILL:", s.handleFill, dispatcher.Logged())

	// fire and forget
	d.Register(":METRIC:", s.handleMetric, dispatcher.Buffered(1000))
	d.Register(":LOG:", s.handleLog, dispatcher.Buffered(1000))
}

func (s *Service) handleVersion(dispatcher.Event) (any, error) {
	return []string{s.deps.Version, s.deps.Build}, nil
}

func (s *Service) handleLoad(e dispatcher.Event) (any, error) {
	cmd, err := s.deps.Parser.ParseLoad(e.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to parse load: %w", err)
	}
	vessels, err := s.deps.Loader.Load(cmd.Paths...)
	if err != nil {
		return nil, err
	}

	source := strings.Join(cmd.Paths, ",")
	var (
		loaded []string
		errs   []error
	)
	for _, v := range vessels {
		if err := s.loadVessel(v, source); err != nil {
			errs = append(errs, err)
			continue
		}
		loaded = append(loaded, v.ID)
	}
	return loaded, errors.Join(errs...)
}

// loadVessel builds the vessel's network and activates it, replacing any
// network the vessel already had.
func (s *Service) loadVessel(v *topology.Vessel, source string) error {
	net, err := v.Build()
	if err != nil {
		return fmt.Errorf("failed to build vessel %s: %w", v.ID, err)
	}
	if err := flow.ValidateModifiers(net.Pipes()); err != nil {
		s.writeLog(":VESSEL:LOAD:", fmt.Sprintf("vessel %s: %v", v.ID, err), "WARN")
	}
	if replaced := s.deps.Sim.Register(net); replaced != nil {
		s.writeLog(":VESSEL:LOAD:", fmt.Sprintf("replaced network of vessel %s", v.ID), "INFO")
	}
	if s.deps.Recorder != nil {
		if err := s.deps.Recorder.AddVessel(net, source); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) handleUnload(e dispatcher.Event) (any, error) {
	cmd, err := s.deps.Parser.ParseUnload(e.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to parse unload: %w", err)
	}
	if !s.deps.Sim.UnregisterVessel(cmd.Vessel) {
		return nil, fmt.Errorf("vessel %s: %w", cmd.Vessel, simulation.ErrUnknownVessel)
	}
	if s.deps.Recorder != nil {
		s.deps.Recorder.RemoveVessel(cmd.Vessel)
	}
	return cmd.Vessel, nil
}

func (s *Service) handleRunStart(e dispatcher.Event) (any, error) {
	if s.deps.Recorder == nil {
		return nil, errors.New("no recorder configured")
	}
	name := strings.Join(e.Args, " ")
	if name == "" {
		name = "run"
	}
	run := &core.Run{
		Name:      name,
		StartTime: time.Now(),
		DT:        s.deps.DT,
		Parallel:  s.deps.Parallel,
		Version:   s.deps.Version,
		Build:     s.deps.Build,
	}
	if err := s.deps.Recorder.StartRun(run); err != nil {
		return nil, err
	}
	return run.ID, nil
}

func (s *Service) handleRunEnd(dispatcher.Event) (any, error) {
	if s.deps.Recorder == nil {
		return nil, errors.New("no recorder configured")
	}
	return nil, s.deps.Recorder.EndRun()
}

func (s *Service) handleTick(e dispatcher.Event) (any, error) {
	cmd, err := s.deps.Parser.ParseTick(e.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tick: %w", err)
	}

	var (
		report   simulation.TickReport
		failed   int
		firstErr error
	)
	for i := 0; i < cmd.Count; i++ {
		report, err = s.deps.Sim.Tick(s.ctx, cmd.DT)
		if err != nil {
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	out := fmt.Sprintf("tick=%d time=%g", report.Tick, report.Time)
	if failed > 0 {
		return out, fmt.Errorf("%d of %d ticks had failing networks: %w", failed, cmd.Count, firstErr)
	}
	return out, nil
}

func (s *Service) handleAccel(e dispatcher.Event) (any, error) {
	cmd, err := s.deps.Parser.ParseAccel(e.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to parse accel: %w", err)
	}
	err = s.deps.Sim.With(cmd.Vessel, func(n *flow.Network) error {
		if cmd.Tank == parser.AllTanks {
			for _, t := range n.Tanks() {
				t.SetFluidAcceleration(cmd.Acceleration)
			}
			return nil
		}
		t, ok := n.Tank(cmd.Tank)
		if !ok {
			return fmt.Errorf("vessel %s tank %s: %w", cmd.Vessel, cmd.Tank, ErrUnknownTank)
		}
		t.SetFluidAcceleration(cmd.Acceleration)
		return nil
	})
	return nil, err
}

func (s *Service) handleDraw(e dispatcher.Event) (any, error) {
	return s.transfer(e.Args, (*flow.Tank).Draw)
}

func (s *Service) handleFill(e dispatcher.Event) (any, error) {
	return s.transfer(e.Args, (*flow.Tank).Fill)
}

// transfer applies move to the named tank and returns the mass actually moved.
func (s *Service) transfer(args []string, move func(*flow.Tank, *substance.Substance, float64) float64) (any, error) {
	cmd, err := s.deps.Parser.ParseTransfer(args)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transfer: %w", err)
	}
	sub, ok := s.deps.Loader.Catalog.Get(cmd.Substance)
	if !ok {
		return nil, fmt.Errorf("%s: %w", cmd.Substance, ErrUnknownSubstance)
	}

	var moved float64
	err = s.deps.Sim.With(cmd.Vessel, func(n *flow.Network) error {
		t, ok := n.Tank(cmd.Tank)
		if !ok {
			return fmt.Errorf("vessel %s tank %s: %w", cmd.Vessel, cmd.Tank, ErrUnknownTank)
		}
		moved = move(t, sub, cmd.Mass)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

func (s *Service) handleStatus(e dispatcher.Event) (any, error) {
	cmd, err := s.deps.Parser.ParseStatus(e.Args)
	if err != nil {
		return nil, fmt.Errorf("failed to parse status: %w", err)
	}

	var lines []string
	vessels := []string{cmd.Vessel}
	if cmd.Vessel == "" {
		tick, simTime := s.deps.Session.Tick()
		lines = append(lines, fmt.Sprintf("run=%q tick=%d time=%g vessels=%d",
			s.deps.Session.Run().Name, tick, simTime, s.deps.Sim.Len()))
		vessels = s.deps.Sim.Vessels()
	}

	for _, id := range vessels {
		err := s.deps.Sim.With(id, func(n *flow.Network) error {
			lines = append(lines, StatusLines(n)...)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return lines, nil
}

// StatusLines renders one line per tank: fill, pressure, mass and contents.
func StatusLines(n *flow.Network) []string {
	lines := make([]string, 0, len(n.Tanks()))
	for _, t := range n.Tanks() {
		lines = append(lines, fmt.Sprintf("%s/%s fill=%.3f pressure=%.1f mass=%.3f %s",
			n.VesselID(), t.Name, t.FillFraction(), t.FluidState().Pressure, t.Contents().TotalMass(), t.Contents().String()))
	}
	return lines
}

func (s *Service) handleMetric(e dispatcher.Event) (any, error) {
	if s.deps.Influx == nil {
		return nil, influx.ErrDisabled
	}
	bucket, point, err := influx.ParseMetric(e.Args)
	if err != nil {
		return nil, err
	}
	return nil, s.deps.Influx.WritePoint(bucket, point)
}

// handleLog writes ":LOG: level message..." through the log manager.
func (s *Service) handleLog(e dispatcher.Event) (any, error) {
	if len(e.Args) < 2 {
		return nil, fmt.Errorf("log needs a level and a message: %w", parser.ErrArgs)
	}
	s.writeLog(":LOG:", strings.Join(e.Args[1:], " "), strings.ToUpper(e.Args[0]))
	return nil, nil
}
