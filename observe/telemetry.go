package observe

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// TelemetryConfig configures the telemetry plane for one process.
type TelemetryConfig struct {
	// ServiceName identifies the process in exported telemetry. Required.
	ServiceName string

	// Version is the service version attribute. Optional.
	Version string

	// MetricsExporter selects where pattern events land:
	// otlp | prometheus | stdout. Empty or "none" keeps metrics
	// in-process only (the counting listener still runs).
	MetricsExporter string

	// TraceExporter selects where guard spans land: otlp | stdout.
	// Empty or "none" disables tracing.
	TraceExporter string

	// TraceSamplePct is the trace sampling ratio, 0.0-1.0.
	TraceSamplePct float64

	// LogLevel enables the structured logger at debug|info|warn|error.
	// Empty discards log output.
	LogLevel string
}

// Telemetry is the assembled observability plane for a set of resilience
// patterns: one event bus with the counting listener (and, when a metrics
// exporter is configured, the OTel listener) attached, a logger, and a
// tracer for the HTTP middleware.
//
// Nothing is installed globally. Hand Bus() to every pattern config,
// Tracer() and Logger() to the guard middleware; Counts() exposes the
// in-process event counters.
type Telemetry struct {
	bus    *Bus
	counts *CountingListener
	logger Logger
	tracer trace.Tracer

	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
}

// NewTelemetry wires the exporters, providers, bus listeners, and logger
// for one process.
func NewTelemetry(ctx context.Context, cfg TelemetryConfig) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		return nil, errors.New("observe: service name is required")
	}
	if cfg.TraceSamplePct < 0 || cfg.TraceSamplePct > 1.0 {
		return nil, fmt.Errorf("observe: trace sample percentage must be between 0.0 and 1.0, got %f", cfg.TraceSamplePct)
	}
	switch cfg.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("observe: unknown log level: %q", cfg.LogLevel)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	t := &Telemetry{
		bus:    NewBus(),
		counts: NewCountingListener(),
	}
	// The counting listener always runs, so Counts() works regardless of
	// exporter configuration.
	t.bus.Subscribe(t.counts)

	reader, err := newMetricsReader(ctx, cfg.MetricsExporter)
	if err != nil {
		return nil, err
	}
	if reader != nil {
		t.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		)
		otl, err := NewOTelListener(t.meterProvider.Meter(cfg.ServiceName))
		if err != nil {
			return nil, err
		}
		t.bus.Subscribe(otl)
	}

	spans, err := newSpanExporter(ctx, cfg.TraceExporter)
	if err != nil {
		return nil, err
	}
	if spans != nil {
		t.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler(cfg.TraceSamplePct)),
			sdktrace.WithBatcher(spans),
		)
		t.tracer = t.tracerProvider.Tracer(cfg.ServiceName)
	} else {
		t.tracer = tracenoop.NewTracerProvider().Tracer("noop")
	}

	if cfg.LogLevel != "" {
		t.logger = NewLogger(cfg.LogLevel)
	} else {
		t.logger = NopLogger()
	}

	return t, nil
}

// Bus returns the event bus for pattern configs.
func (t *Telemetry) Bus() *Bus {
	return t.bus
}

// Counts returns the in-process counters for the control plane.
func (t *Telemetry) Counts() *CountingListener {
	return t.counts
}

// Logger returns the configured logger.
func (t *Telemetry) Logger() Logger {
	return t.logger
}

// Tracer returns the configured tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// Shutdown flushes and stops the providers. Idempotent.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
		t.tracerProvider = nil
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter shutdown: %w", err))
		}
		t.meterProvider = nil
	}

	return errors.Join(errs...)
}

func sampler(pct float64) sdktrace.Sampler {
	switch {
	case pct >= 1.0:
		return sdktrace.AlwaysSample()
	case pct <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(pct)
	}
}

// newMetricsReader builds the reader for the named exporter, or nil when
// metrics export is disabled.
func newMetricsReader(ctx context.Context, name string) (sdkmetric.Reader, error) {
	switch name {
	case "", "none":
		return nil, nil

	case "stdout":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stdout))
		if err != nil {
			return nil, fmt.Errorf("observe: stdout metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil

	case "prometheus":
		exp, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
		}
		return exp, nil

	case "otlp":
		if err := requireOTLPEndpoint("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"); err != nil {
			return nil, err
		}
		exp, err := otlpmetricgrpc.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("observe: OTLP metrics exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exp), nil

	default:
		return nil, fmt.Errorf("observe: unknown metrics exporter: %q", name)
	}
}

// newSpanExporter builds the span exporter for the named exporter, or nil
// when tracing is disabled.
func newSpanExporter(ctx context.Context, name string) (sdktrace.SpanExporter, error) {
	switch name {
	case "", "none":
		return nil, nil

	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(os.Stdout))

	case "otlp":
		if err := requireOTLPEndpoint("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"); err != nil {
			return nil, err
		}
		return otlptracegrpc.New(ctx)

	default:
		return nil, fmt.Errorf("observe: unknown trace exporter: %q", name)
	}
}

// requireOTLPEndpoint rejects OTLP configuration with no reachable
// endpoint rather than letting the exporter dial a default silently.
func requireOTLPEndpoint(signalVar string) error {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" || os.Getenv(signalVar) != "" {
		return nil
	}
	return fmt.Errorf("observe: OTLP endpoint not configured: set OTEL_EXPORTER_OTLP_ENDPOINT or %s", signalVar)
}
