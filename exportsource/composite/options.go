package composite

import (
	"github.com/AntonStoeckl/composite-export-go/exportsource"
)

const defaultPageSize = 50

// Option defines a functional option for configuring a Composite.
type Option func(*Composite) error

// WithPageSize sets the global page size. The default is 50.
func WithPageSize(pageSize int) Option {
	return func(c *Composite) error {
		if pageSize <= 0 {
			return exportsource.ErrInvalidPageSize
		}

		c.pageSize = pageSize

		return nil
	}
}

// WithMaxConcurrency limits how many sources are queried at the same time.
// The default is the number of registered sources, so every source gets its own goroutine.
func WithMaxConcurrency(limit int) Option {
	return func(c *Composite) error {
		if limit <= 0 {
			return exportsource.ErrInvalidMaxConcurrency
		}

		c.maxConcurrency = limit

		return nil
	}
}

// WithLogger sets the logger for the Composite.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: Per-source page allocations and count drift
// Info level: Counts, page sizes, durations
// Warn level: Sources that delivered less than they declared
// Error level: Failed counts and fetches.
func WithLogger(logger exportsource.Logger) Option {
	return func(c *Composite) error {
		c.logger = logger
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the Composite.
// It receives the same messages as the Logger, with the context of the operation for trace correlation.
func WithContextualLogger(logger exportsource.ContextualLogger) Option {
	return func(c *Composite) error {
		c.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Composite.
// It will receive count/fetch durations, items fetched per source, and error counts.
func WithMetrics(collector exportsource.MetricsCollector) Option {
	return func(c *Composite) error {
		c.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the Composite.
// Spans are created for count and fetch_page operations; the span context is passed on to the sources.
func WithTracing(collector exportsource.TracingCollector) Option {
	return func(c *Composite) error {
		c.tracingCollector = collector
		return nil
	}
}
