// Package testdoubles provides test doubles (spies) for the exportsource observability interfaces.
//
//   - MetricsCollectorSpy: captures metrics recording calls for verification
//   - TracingCollectorSpy: captures tracing spans with their start and end attributes
//   - ContextualLoggerSpy: captures context-aware log calls
//   - LogHandlerSpy: a slog.Handler capturing records, for code that logs through *slog.Logger
//
// All spies are safe for concurrent use, since the composite logs and records metrics
// from several goroutines.
package testdoubles
