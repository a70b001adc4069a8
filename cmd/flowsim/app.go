package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/resourceflow/flowsim/internal/api"
	"github.com/resourceflow/flowsim/internal/cache"
	"github.com/resourceflow/flowsim/internal/config"
	"github.com/resourceflow/flowsim/internal/dispatcher"
	"github.com/resourceflow/flowsim/internal/handlers"
	"github.com/resourceflow/flowsim/internal/influx"
	"github.com/resourceflow/flowsim/internal/logging"
	"github.com/resourceflow/flowsim/internal/monitor"
	intOtel "github.com/resourceflow/flowsim/internal/otel"
	"github.com/resourceflow/flowsim/internal/parser"
	"github.com/resourceflow/flowsim/internal/session"
	"github.com/resourceflow/flowsim/internal/simulation"
	"github.com/resourceflow/flowsim/internal/storage"
	gormstorage "github.com/resourceflow/flowsim/internal/storage/gorm"
	"github.com/resourceflow/flowsim/internal/topology"
	"github.com/resourceflow/flowsim/internal/worker"
)

// app wires the simulation, its recorder and the command surface together.
type app struct {
	startTime time.Time
	level     string
	logsDir   string

	logManager   *logging.SlogManager
	logger       *slog.Logger
	logFile      *os.File
	otelProvider *intOtel.Provider
	influx       *influx.Manager

	backend    storage.Backend
	sim        *simulation.Context
	session    *session.Session
	recorder   *worker.Recorder
	handlers   *handlers.Service
	dispatcher *dispatcher.Dispatcher
	monitor    *monitor.Service
}

// newApp builds every service from the loaded configuration. The returned
// app must be closed.
func newApp(ctx context.Context) (a *app, err error) {
	a = &app{
		startTime:  time.Now(),
		level:      config.GetString("logLevel"),
		logsDir:    config.GetString("logsDir"),
		logManager: logging.NewSlogManager(),
		session:    session.New(),
	}
	defer func() {
		if err != nil {
			_ = a.close()
			a = nil
		}
	}()

	if err := a.setupLogging(); err != nil {
		return a, err
	}
	a.setupInflux(ctx)

	simCfg := config.GetSimConfig()
	vesselCache := cache.NewVesselCache()

	storageCfg := config.GetStorageConfig()
	a.backend, err = createStorageBackend(storageCfg, gormstorage.Dependencies{
		VesselCache: vesselCache,
		Logger:      a.zerolog("storage"),
		QueueLimit:  simCfg.RecorderQueue,
	}, a.logger)
	if err != nil {
		a.logger.Error("Failed to create storage backend", "error", err)
		return a, err
	}
	if err := a.backend.Init(); err != nil {
		a.logger.Error("Failed to initialize storage backend", "error", err)
		return a, fmt.Errorf("failed to initialize %s storage: %w", storageCfg.Type, err)
	}
	a.logger.Info("Storage backend initialized", "type", storageCfg.Type)

	a.sim, err = simulation.New(simulation.Parallel(simCfg.Parallel), simulation.WithLogger(a.logger))
	if err != nil {
		return a, err
	}

	a.recorder = worker.NewRecorder(worker.Dependencies{
		Backend:     a.backend,
		Influx:      a.influx,
		Uploader:    a.uploader(ctx),
		UploadTag:   config.GetString("api.tag"),
		Session:     a.session,
		VesselCache: vesselCache,
		Logger:      a.logger,
		RecordEvery: simCfg.RecordEvery,
		QueueLimit:  simCfg.RecorderQueue,
	})
	a.sim.OnTick(a.recorder.Observe)
	a.recorder.Start()

	a.dispatcher, err = dispatcher.New(logging.NewZerologAdapter(a.zerolog("dispatcher")))
	if err != nil {
		return a, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	a.handlers = handlers.NewService(ctx, handlers.Dependencies{
		Sim:        a.sim,
		Loader:     topology.NewLoader(nil, a.logger),
		Parser:     parser.NewParser(a.logger, simCfg.DT),
		Recorder:   a.recorder,
		Session:    a.session,
		Influx:     a.influx,
		LogManager: a.logManager,
		DT:         simCfg.DT,
		Parallel:   simCfg.Parallel,
		Version:    CurrentVersion,
		Build:      BuildDate,
	})
	a.handlers.Register(a.dispatcher)

	a.monitor = monitor.NewService(monitor.Dependencies{
		Sim:        a.sim,
		Recorder:   a.recorder,
		Dispatcher: a.dispatcher,
		Session:    a.session,
		LogManager: a.logManager,
		Interval:   simCfg.StatusEvery,
		StatusFile: filepath.Join(a.logsDir, "status.txt"),
	})
	if err := a.monitor.Start(); err != nil {
		a.logger.Warn("Status monitor not started", "error", err)
	}

	a.logger.Info("Started", "version", CurrentVersion, "build", BuildDate, "commands", len(a.dispatcher.Commands()))
	return a, nil
}

func (a *app) setupLogging() error {
	if err := os.MkdirAll(a.logsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs dir: %w", err)
	}

	path := logging.LogFilePath(a.logsDir, AppName, a.startTime)
	if _, err := os.Stat(path); err == nil {
		_ = os.Rename(path, path+".old")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	a.logFile = f

	opts := logging.Options{Level: a.level, File: f, Context: a.session.LogAttrs}

	var warnings []error
	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		var metricWriter io.Writer
		if otelCfg.Metrics {
			metricWriter = f
		}
		a.otelProvider, err = intOtel.New(intOtel.Config{
			Enabled:        otelCfg.Enabled,
			ServiceName:    otelCfg.ServiceName,
			ServiceVersion: CurrentVersion,
			BatchTimeout:   otelCfg.BatchTimeout,
			LogWriter:      f,
			Endpoint:       otelCfg.Endpoint,
			Insecure:       otelCfg.Insecure,
			MetricWriter:   metricWriter,
			MetricInterval: config.GetSimConfig().StatusEvery,
		})
		if err != nil {
			warnings = append(warnings, fmt.Errorf("otel: %w", err))
		} else {
			opts.Provider = a.otelProvider.LoggerProvider()
		}
	}
	if config.GetBool("graylog.enabled") {
		w, err := logging.GELFWriter(config.GetString("graylog.address"))
		if err != nil {
			warnings = append(warnings, err)
		} else {
			opts.GELF = w
		}
	}

	a.logManager.SetupWith(opts)
	a.logger = a.logManager.Logger()
	a.logger.Info("Logging to file", "path", path)
	for _, w := range warnings {
		a.logger.Warn("Logging output disabled", "error", w)
	}
	return nil
}

// setupInflux connects telemetry when enabled. An unreachable server falls
// back to the backup file inside Connect; only configuration errors leave
// influx off.
func (a *app) setupInflux(ctx context.Context) {
	cfg := config.GetInfluxConfig()
	if !cfg.Enabled {
		return
	}
	backup := filepath.Join(a.logsDir, fmt.Sprintf("%s_influx_%s.lp.gz", AppName, a.startTime.Format("20060102_150405")))
	m := influx.NewManager(a.zerolog("influx"), backup)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.Connect(ctx, cfg); err != nil {
		a.logger.Error("InfluxDB disabled", "error", err)
		return
	}
	a.influx = m
}

// uploader returns the results server client, or nil when api.serverUrl is
// empty.
func (a *app) uploader(ctx context.Context) worker.Uploader {
	serverURL := config.GetString("api.serverUrl")
	if serverURL == "" {
		return nil
	}
	client := api.New(serverURL, config.GetString("api.apiKey"))

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Healthcheck(ctx); err != nil {
		a.logger.Info("Results server is offline", "url", serverURL, "error", err)
	} else {
		a.logger.Info("Results server is online", "url", serverURL)
	}
	return client
}

func (a *app) zerolog(component string) zerolog.Logger {
	if a.logFile == nil {
		return zerolog.Nop()
	}
	return logging.NewZerolog(a.logFile, strings.ToLower(a.level), component)
}

// exec dispatches a single command line. ok is false for blank lines and
// comments.
func (a *app) exec(line string) (out any, ok bool, err error) {
	e, ok := dispatcher.ParseLine(line)
	if !ok {
		return nil, false, nil
	}
	out, err = a.dispatcher.Dispatch(e)
	return out, true, err
}

// close shuts services down in reverse start order. An active run is ended
// so its export is written.
func (a *app) close() error {
	var errs []error
	if a.monitor != nil {
		a.monitor.Stop()
	}
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.recorder != nil {
		if a.recorder.Recording() {
			errs = append(errs, a.recorder.EndRun())
		}
		errs = append(errs, a.recorder.Stop())
	}
	if a.backend != nil {
		errs = append(errs, a.backend.Close())
	}
	if a.influx != nil {
		errs = append(errs, a.influx.Close())
	}
	if a.sim != nil {
		errs = append(errs, a.sim.Close())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.logger != nil {
		a.logger.Info("Shutting down")
	}
	errs = append(errs, a.logManager.Flush(ctx))
	if a.otelProvider != nil {
		errs = append(errs, a.otelProvider.Shutdown(ctx))
	}
	if a.logFile != nil {
		errs = append(errs, a.logFile.Close())
	}
	return errors.Join(errs...)
}
