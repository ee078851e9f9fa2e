// Package observe provides telemetry plumbing for resilience patterns.
//
// Patterns publish named counter events to a [Bus]; listeners subscribe at
// startup and forward events to their backend of choice. Two listeners ship
// with the package:
//
//   - [OTelListener]: bridges events onto OpenTelemetry counters, exported
//     via OTLP, Prometheus, or stdout depending on the configured reader.
//   - [CountingListener]: keeps in-process counters with snapshot and reset,
//     read through [Telemetry.Counts] and in tests. The control-plane metrics
//     endpoints do not read it; they serve each pattern's own snapshot
//     through the registry.
//
// The package also carries the structured JSON [Logger] used across the
// module and [Telemetry], which assembles the whole plane for one process:
// a bus with the counting listener attached (plus the OTel listener when a
// metrics exporter is configured), the logger, and a tracer for the guard
// middleware.
//
// # Quick Start
//
//	tel, err := observe.NewTelemetry(ctx, observe.TelemetryConfig{
//	    ServiceName:     "payments",
//	    MetricsExporter: "prometheus",
//	    LogLevel:        "info",
//	})
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	rl := resilience.NewRateLimiter(resilience.RateLimiterConfig{
//	    Name: "orders",
//	    Bus:  tel.Bus(),
//	})
//
// # Event Naming
//
// Events carry the pattern kind and instance name plus a short metric name,
// e.g. (ratelimit, "orders", "rejected"). The OTel listener renders these as
// failsafe.<kind>.<metric> with pattern.kind and pattern.name attributes.
package observe
