// Package otel builds the OpenTelemetry log and metric pipelines for a
// simulator process.
package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ErrNoSink is returned when OTel is enabled without anywhere to export to.
var ErrNoSink = errors.New("otel enabled but no log writer, endpoint or metric writer configured")

// Config holds OTel configuration
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	BatchTimeout   time.Duration

	// Log records go to LogWriter (pretty JSON) and/or an OTLP/HTTP endpoint.
	LogWriter io.Writer
	Endpoint  string
	Insecure  bool

	// MetricWriter receives periodic metric snapshots and becomes the
	// global meter provider. Nil leaves the global meter a no-op.
	MetricWriter   io.Writer
	MetricInterval time.Duration
}

// Provider owns the log and meter providers built from a Config.
type Provider struct {
	logProvider   *sdklog.LoggerProvider
	meterProvider *sdkmetric.MeterProvider
}

// New builds the configured pipelines. A disabled config yields a provider
// whose methods are no-ops.
func New(cfg Config) (*Provider, error) {
	p := &Provider{}
	if !cfg.Enabled {
		return p, nil
	}
	if cfg.LogWriter == nil && cfg.Endpoint == "" && cfg.MetricWriter == nil {
		return nil, ErrNoSink
	}

	ctx := context.Background()
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	processors, err := logProcessors(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if len(processors) > 0 {
		opts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}
		for _, proc := range processors {
			opts = append(opts, sdklog.WithProcessor(proc))
		}
		p.logProvider = sdklog.NewLoggerProvider(opts...)
	}

	if cfg.MetricWriter != nil {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.MetricWriter))
		if err != nil {
			return nil, fmt.Errorf("failed to create metric exporter: %w", err)
		}
		interval := cfg.MetricInterval
		if interval <= 0 {
			interval = time.Minute
		}
		p.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
		)
		// simulation and dispatcher instruments use the global meter
		otel.SetMeterProvider(p.meterProvider)
	}

	return p, nil
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceName(cfg.ServiceName))}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(cfg.ServiceVersion)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func logProcessors(ctx context.Context, cfg Config) ([]sdklog.Processor, error) {
	var out []sdklog.Processor
	batch := func(exp sdklog.Exporter) sdklog.Processor {
		return sdklog.NewBatchProcessor(exp, sdklog.WithExportTimeout(cfg.BatchTimeout))
	}

	if cfg.LogWriter != nil {
		exp, err := stdoutlog.New(stdoutlog.WithWriter(cfg.LogWriter), stdoutlog.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create file log exporter: %w", err)
		}
		out = append(out, batch(exp))
	}
	if cfg.Endpoint != "" {
		opts := []otlploghttp.Option{otlploghttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		exp, err := otlploghttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
		}
		out = append(out, batch(exp))
	}
	return out, nil
}

// LoggerProvider is nil unless a log sink is configured.
func (p *Provider) LoggerProvider() *sdklog.LoggerProvider {
	return p.logProvider
}

// Meter returns a meter with the given name. It is a no-op unless a
// metric writer was configured.
func (p *Provider) Meter(name string) metric.Meter {
	if p.meterProvider == nil {
		return noop.Meter{}
	}
	return p.meterProvider.Meter(name)
}

// Flush exports everything pending, e.g. when a run ends.
func (p *Provider) Flush(ctx context.Context) error {
	return p.each(func(name string, s stage) error {
		if err := s.ForceFlush(ctx); err != nil {
			return fmt.Errorf("%s flush failed: %w", name, err)
		}
		return nil
	})
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.each(func(name string, s stage) error {
		if err := s.Shutdown(ctx); err != nil {
			return fmt.Errorf("%s shutdown failed: %w", name, err)
		}
		return nil
	})
}

type stage interface {
	ForceFlush(context.Context) error
	Shutdown(context.Context) error
}

func (p *Provider) each(fn func(string, stage) error) error {
	var errs []error
	if p.logProvider != nil {
		errs = append(errs, fn("log", p.logProvider))
	}
	if p.meterProvider != nil {
		errs = append(errs, fn("metric", p.meterProvider))
	}
	return errors.Join(errs...)
}
