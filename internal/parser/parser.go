// Package parser converts raw command arguments into typed commands. It has
// no dependencies on the simulation so handlers stay thin.
package parser

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

// AllTanks selects every tank of a vessel in :ACCEL:.
const AllTanks = "*"

// ErrArgs is returned for a wrong number of arguments.
var ErrArgs = errors.New("wrong number of arguments")

// parseFloat parses a finite float.
func parseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("parseFloat: %q is not finite", s)
	}
	return f, nil
}

// parseUintFromFloat parses "32" or "32.00" into uint64. Fractions and
// negatives are rejected.
func parseUintFromFloat(s string) (uint64, error) {
	if v, err := strconv.ParseUint(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := parseFloat(s)
	if err != nil {
		return 0, err
	}
	if f < 0 || f != math.Trunc(f) {
		return 0, fmt.Errorf("parseUintFromFloat: %q is not a valid uint64", s)
	}
	return uint64(f), nil
}

// parseVec3 accepts either three separate arguments or a single
// "[x,y,z]" / "x,y,z" argument.
func parseVec3(args []string) (mgl64.Vec3, error) {
	if len(args) == 1 {
		args = strings.Split(strings.Trim(args[0], "[]"), ",")
	}
	if len(args) != 3 {
		return mgl64.Vec3{}, fmt.Errorf("vector needs 3 components, got %d", len(args))
	}
	var v mgl64.Vec3
	for i, a := range args {
		f, err := parseFloat(strings.TrimSpace(a))
		if err != nil {
			return mgl64.Vec3{}, fmt.Errorf("component %d: %w", i, err)
		}
		v[i] = f
	}
	return v, nil
}

func checkArgs(args []string, min, max int) error {
	if len(args) < min || (max >= 0 && len(args) > max) {
		return fmt.Errorf("%w: got %d", ErrArgs, len(args))
	}
	return nil
}

// Parser provides pure []string -> command struct conversion.
type Parser struct {
	logger    *slog.Logger
	defaultDT float64
}

// NewParser creates a parser. defaultDT is used by :TICK: without arguments.
func NewParser(logger *slog.Logger, defaultDT float64) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger, defaultDT: defaultDT}
}

// ParseLoad parses ":VESSEL:LOAD: path [path...]".
func (p *Parser) ParseLoad(args []string) (LoadCommand, error) {
	if err := checkArgs(args, 1, -1); err != nil {
		return LoadCommand{}, err
	}
	return LoadCommand{Paths: args}, nil
}

// ParseUnload parses ":VESSEL:UNLOAD: vessel".
func (p *Parser) ParseUnload(args []string) (UnloadCommand, error) {
	if err := checkArgs(args, 1, 1); err != nil {
		return UnloadCommand{}, err
	}
	return UnloadCommand{Vessel: args[0]}, nil
}

// ParseTick parses ":TICK: [dt] [count]".
func (p *Parser) ParseTick(args []string) (TickCommand, error) {
	if err := checkArgs(args, 0, 2); err != nil {
		return TickCommand{}, err
	}
	cmd := TickCommand{DT: p.defaultDT, Count: 1}
	if len(args) > 0 {
		dt, err := parseFloat(args[0])
		if err != nil {
			return TickCommand{}, fmt.Errorf("dt: %w", err)
		}
		if dt <= 0 {
			return TickCommand{}, fmt.Errorf("dt must be positive, got %g", dt)
		}
		cmd.DT = dt
	}
	if len(args) > 1 {
		n, err := parseUintFromFloat(args[1])
		if err != nil {
			return TickCommand{}, fmt.Errorf("count: %w", err)
		}
		cmd.Count = int(n)
	}
	p.logger.Debug("parsed tick", "dt", cmd.DT, "count", cmd.Count)
	return cmd, nil
}

// ParseAccel parses ":ACCEL: vessel tank x y z". tank may be AllTanks.
func (p *Parser) ParseAccel(args []string) (AccelCommand, error) {
	if err := checkArgs(args, 3, 5); err != nil {
		return AccelCommand{}, err
	}
	accel, err := parseVec3(args[2:])
	if err != nil {
		return AccelCommand{}, fmt.Errorf("acceleration: %w", err)
	}
	return AccelCommand{Vessel: args[0], Tank: args[1], Acceleration: accel}, nil
}

// ParseTransfer parses ":DRAW:" and ":FILL:" arguments: vessel tank substance mass.
func (p *Parser) ParseTransfer(args []string) (TransferCommand, error) {
	if err := checkArgs(args, 4, 4); err != nil {
		return TransferCommand{}, err
	}
	mass, err := parseFloat(args[3])
	if err != nil {
		return TransferCommand{}, fmt.Errorf("mass: %w", err)
	}
	if mass < 0 {
		return TransferCommand{}, fmt.Errorf("mass must not be negative, got %g", mass)
	}
	return TransferCommand{Vessel: args[0], Tank: args[1], Substance: args[2], Mass: mass}, nil
}

// ParseStatus parses ":STATUS: [vessel]".
func (p *Parser) ParseStatus(args []string) (StatusCommand, error) {
	if err := checkArgs(args, 0, 1); err != nil {
		return StatusCommand{}, err
	}
	var cmd StatusCommand
	if len(args) == 1 {
		cmd.Vessel = args[0]
	}
	return cmd, nil
}
