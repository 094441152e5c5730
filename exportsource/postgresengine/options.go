package postgresengine

import (
	"github.com/AntonStoeckl/composite-export-go/exportsource"
)

// TableNames holds the names of the three pricing tables.
type TableNames struct {
	Pricelists  string
	Assignments string
	Prices      string
}

// DefaultTableNames returns the table names used when WithTableNames is not supplied.
func DefaultTableNames() TableNames {
	return TableNames{
		Pricelists:  defaultPricelistTableName,
		Assignments: defaultAssignmentTableName,
		Prices:      defaultPriceTableName,
	}
}

// Option defines a functional option for configuring the pricing Sources.
type Option func(*Sources) error

// WithTableNames sets the table names for the pricing Sources.
// The source names, which identify the sources in a composite cursor, do not change.
func WithTableNames(names TableNames) Option {
	return func(s *Sources) error {
		if names.Pricelists == "" || names.Assignments == "" || names.Prices == "" {
			return exportsource.ErrEmptyTableName
		}

		s.tableNames = names

		return nil
	}
}

// WithLogger sets the logger for the pricing Sources.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL queries with execution timing (development use)
// Info level: Row counts, durations (production-safe)
// Warn level: Non-critical issues like cleanup failures
// Error level: Critical failures that cause operation failures.
func WithLogger(logger exportsource.Logger) Option {
	return func(s *Sources) error {
		s.logger = logger
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the pricing Sources.
// The contextual logger will receive log messages with context information including
// automatic trace/span correlation when tracing is enabled.
func WithContextualLogger(logger exportsource.ContextualLogger) Option {
	return func(s *Sources) error {
		s.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the pricing Sources.
// It will receive query durations, fetched row counts and database errors, labeled by source.
func WithMetrics(collector exportsource.MetricsCollector) Option {
	return func(s *Sources) error {
		s.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the pricing Sources.
// Every count and fetch gets its own span, which is a child of the composite's span if there is one.
func WithTracing(collector exportsource.TracingCollector) Option {
	return func(s *Sources) error {
		s.tracingCollector = collector
		return nil
	}
}
