package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/resourceflow/flowsim/internal/config"
)

// flagKeys maps command line flags onto config keys. A flag only overrides
// the config file when it is set.
var flagKeys = map[string]string{
	"ticks":     "sim.ticks",
	"dt":        "sim.dt",
	"storage":   "storage.type",
	"log-level": "logLevel",
}

func newFlagSet(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configDir := fs.StringP("config", "c", ".", "directory holding "+config.FileName)
	fs.String("storage", "memory", "storage backend: memory, sqlite, postgres or websocket")
	fs.String("log-level", "info", "log level")
	return fs, configDir
}

// loadConfig reads the config file and binds the flags that were set. A
// missing file is reported but not fatal.
func loadConfig(dir string, fs *pflag.FlagSet) (warning error, err error) {
	if err := config.Load(dir); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		warning = err
	}
	for name, key := range flagKeys {
		if f := fs.Lookup(name); f != nil {
			if err := viper.BindPFlag(key, f); err != nil {
				return warning, err
			}
		}
	}
	return warning, nil
}

// runCommand loads vessels, simulates sim.ticks ticks as one recorded run
// and prints the final status.
func runCommand(ctx context.Context, args []string, stdout io.Writer) error {
	fs, configDir := newFlagSet("run")
	fs.Int("ticks", 500, "number of ticks to simulate")
	fs.Float64("dt", 0.02, "tick length in seconds")
	name := fs.String("name", "", "run name, defaults to the first path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("run needs at least one vessel file or directory")
	}

	warning, err := loadConfig(*configDir, fs)
	if err != nil {
		return err
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	if warning != nil {
		a.logger.Warn("Failed to load config, using defaults!", "error", warning)
	}

	runName := *name
	if runName == "" {
		runName = strings.TrimSuffix(filepath.Base(fs.Arg(0)), filepath.Ext(fs.Arg(0)))
	}
	simCfg := config.GetSimConfig()

	lines := []string{
		":RUN:START: " + runName,
		":VESSEL:LOAD: " + strings.Join(fs.Args(), " "),
		fmt.Sprintf(":TICK: %g %d", simCfg.DT, simCfg.Ticks),
		":STATUS:",
		":RUN:END:",
	}
	var runErr error
	for _, line := range lines {
		out, _, err := a.exec(line)
		if err != nil {
			runErr = fmt.Errorf("%s: %w", strings.Fields(line)[0], err)
			break
		}
		if status, ok := out.([]string); ok && strings.HasPrefix(line, ":STATUS:") {
			for _, s := range status {
				fmt.Fprintln(stdout, s)
			}
		}
	}
	return errors.Join(runErr, a.close())
}

// serveCommand answers command lines from stdin until EOF, ":QUIT:" or
// cancellation.
func serveCommand(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	fs, configDir := newFlagSet("serve")
	if err := fs.Parse(args); err != nil {
		return err
	}
	warning, err := loadConfig(*configDir, fs)
	if err != nil {
		return err
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	if warning != nil {
		a.logger.Warn("Failed to load config, using defaults!", "error", warning)
	}
	return errors.Join(a.serve(ctx, stdin, stdout), a.close())
}

func (a *app) serve(ctx context.Context, r io.Reader, w io.Writer) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, open := <-lines:
			if !open {
				return <-scanErr
			}
			if cmd := strings.ToUpper(strings.TrimSpace(line)); cmd == ":QUIT:" || cmd == ":EXIT:" {
				return nil
			}
			out, ok, err := a.exec(line)
			if !ok {
				continue
			}
			writeResult(w, strings.ToUpper(strings.Fields(line)[0]), out, err)
		}
	}
}

// writeResult prints "<command> OK [result]" or "<command> ERROR <message>".
// List results follow on their own lines.
func writeResult(w io.Writer, cmd string, out any, err error) {
	if err != nil {
		fmt.Fprintf(w, "%s ERROR %v\n", cmd, err)
		return
	}
	switch v := out.(type) {
	case nil:
		fmt.Fprintf(w, "%s OK\n", cmd)
	case []string:
		fmt.Fprintf(w, "%s OK %d\n", cmd, len(v))
		for _, line := range v {
			fmt.Fprintln(w, line)
		}
	default:
		fmt.Fprintf(w, "%s OK %v\n", cmd, v)
	}
}
