// Package oteladapters provides OpenTelemetry implementations of the exportsource observability interfaces.
//
// The composite and the PostgreSQL sources accept any Logger, ContextualLogger, MetricsCollector and
// TracingCollector. This module plugs them into an OpenTelemetry setup:
//
//	meter := otel.Meter("pricing-export")
//	tracer := otel.Tracer("pricing-export")
//
//	c, err := composite.NewComposite(
//		sources.All(),
//		composite.WithMetrics(oteladapters.NewMetricsCollector(meter)),
//		composite.WithTracing(oteladapters.NewTracingCollector(tracer)),
//		composite.WithContextualLogger(oteladapters.NewSlogBridgeLogger("pricing-export")),
//	)
//
// It lives in its own module so the core packages stay free of OpenTelemetry dependencies.
package oteladapters
