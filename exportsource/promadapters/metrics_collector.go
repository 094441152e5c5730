// Package promadapters provides a Prometheus implementation of exportsource.MetricsCollector.
//
// The composite and the PostgreSQL sources record their metrics by name with a label map.
// MetricsCollector turns each metric name into a Prometheus vector on first use:
//   - RecordDuration -> HistogramVec in seconds
//   - IncrementCounter -> CounterVec
//   - RecordValue -> GaugeVec
//
// The label names of a vector are fixed by the first measurement recorded for it.
// Later measurements are mapped onto those label names: unknown labels are dropped
// and missing labels are recorded as the empty string.
package promadapters

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AntonStoeckl/composite-export-go/exportsource"
)

const (
	helpDuration = "Export operation duration in seconds"
	helpCounter  = "Export operation counter"
	helpValue    = "Export operation value"
)

// ErrNilRegisterer is returned when NewMetricsCollector is called without a registerer.
var ErrNilRegisterer = errors.New("prometheus registerer must not be nil")

// DefaultDurationBuckets covers 1ms up to roughly 16s, which spans single-page queries and full counts.
var DefaultDurationBuckets = prometheus.ExponentialBuckets(0.001, 2, 15)

// MetricsCollector implements exportsource.MetricsCollector on top of a Prometheus registerer.
type MetricsCollector struct {
	registerer prometheus.Registerer
	namespace  string
	buckets    []float64

	mu         sync.Mutex
	histograms map[string]labeledVec[*prometheus.HistogramVec]
	counters   map[string]labeledVec[*prometheus.CounterVec]
	gauges     map[string]labeledVec[*prometheus.GaugeVec]
	failures   map[string]error
}

type labeledVec[V any] struct {
	vec        V
	labelNames []string
}

// Option configures a MetricsCollector.
type Option func(*MetricsCollector)

// WithNamespace prefixes every metric name with namespace and an underscore.
func WithNamespace(namespace string) Option {
	return func(m *MetricsCollector) {
		m.namespace = namespace
	}
}

// WithDurationBuckets replaces DefaultDurationBuckets for all duration histograms.
func WithDurationBuckets(buckets []float64) Option {
	return func(m *MetricsCollector) {
		m.buckets = buckets
	}
}

// NewMetricsCollector creates a MetricsCollector that registers its vectors with registerer.
func NewMetricsCollector(registerer prometheus.Registerer, options ...Option) (*MetricsCollector, error) {
	if registerer == nil {
		return nil, ErrNilRegisterer
	}

	m := &MetricsCollector{
		registerer: registerer,
		buckets:    DefaultDurationBuckets,
		histograms: make(map[string]labeledVec[*prometheus.HistogramVec]),
		counters:   make(map[string]labeledVec[*prometheus.CounterVec]),
		gauges:     make(map[string]labeledVec[*prometheus.GaugeVec]),
		failures:   make(map[string]error),
	}

	for _, option := range options {
		option(m)
	}

	return m, nil
}

// RecordDuration observes duration in seconds on the histogram named metricName.
func (m *MetricsCollector) RecordDuration(metricName string, duration time.Duration, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.histograms[metricName]
	if !ok {
		labelNames := sortedKeys(labels)
		vec := prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: m.namespace,
				Name:      metricName,
				Help:      helpDuration,
				Buckets:   m.buckets,
			},
			labelNames,
		)

		if !m.register(metricName, vec) {
			return
		}

		entry = labeledVec[*prometheus.HistogramVec]{vec: vec, labelNames: labelNames}
		m.histograms[metricName] = entry
	}

	entry.vec.WithLabelValues(labelValues(entry.labelNames, labels)...).Observe(duration.Seconds())
}

// IncrementCounter adds one to the counter named metricName.
func (m *MetricsCollector) IncrementCounter(metricName string, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.counters[metricName]
	if !ok {
		labelNames := sortedKeys(labels)
		vec := prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: m.namespace, Name: metricName, Help: helpCounter},
			labelNames,
		)

		if !m.register(metricName, vec) {
			return
		}

		entry = labeledVec[*prometheus.CounterVec]{vec: vec, labelNames: labelNames}
		m.counters[metricName] = entry
	}

	entry.vec.WithLabelValues(labelValues(entry.labelNames, labels)...).Inc()
}

// RecordValue sets the gauge named metricName to value.
func (m *MetricsCollector) RecordValue(metricName string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.gauges[metricName]
	if !ok {
		labelNames := sortedKeys(labels)
		vec := prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: m.namespace, Name: metricName, Help: helpValue},
			labelNames,
		)

		if !m.register(metricName, vec) {
			return
		}

		entry = labeledVec[*prometheus.GaugeVec]{vec: vec, labelNames: labelNames}
		m.gauges[metricName] = entry
	}

	entry.vec.WithLabelValues(labelValues(entry.labelNames, labels)...).Set(value)
}

// RegistrationFailures returns the metric names whose vectors the registerer rejected, with the reason.
// Measurements for those metrics are dropped.
func (m *MetricsCollector) RegistrationFailures() map[string]error {
	m.mu.Lock()
	defer m.mu.Unlock()

	failures := make(map[string]error, len(m.failures))
	for name, err := range m.failures {
		failures[name] = err
	}

	return failures
}

// register must be called with m.mu held.
func (m *MetricsCollector) register(metricName string, collector prometheus.Collector) bool {
	if _, failed := m.failures[metricName]; failed {
		return false
	}

	if err := m.registerer.Register(collector); err != nil {
		m.failures[metricName] = err
		return false
	}

	return true
}

func sortedKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}

	slices.Sort(keys)

	return keys
}

func labelValues(labelNames []string, labels map[string]string) []string {
	values := make([]string, len(labelNames))
	for i, name := range labelNames {
		values[i] = labels[name]
	}

	return values
}

var _ exportsource.MetricsCollector = (*MetricsCollector)(nil)
