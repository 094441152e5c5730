package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AntonStoeckl/composite-export-go/exportsource/promadapters"
)

var errWritingMetricsFailed = errors.New("writing metrics file failed")

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// newLogger builds the slog logger that is handed to the composite and the sources as ContextualLogger.
func newLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	level, _ := parseLogLevel(cfg.Level) // validated with the config
	options := &slog.HandlerOptions{Level: level}

	if cfg.Format == logFormatJSON {
		return slog.New(slog.NewJSONHandler(w, options))
	}

	return slog.New(slog.NewTextHandler(w, options))
}

// metrics bundles the Prometheus registry with the collector that feeds it.
// A zero metrics value, used when no metrics file is configured, records nothing.
type metrics struct {
	file      string
	registry  *prometheus.Registry
	collector *promadapters.MetricsCollector
}

func newMetrics(cfg MetricsConfig) (metrics, error) {
	if cfg.File == "" {
		return metrics{}, nil
	}

	registry := prometheus.NewRegistry()

	var options []promadapters.Option
	if cfg.Namespace != "" {
		options = append(options, promadapters.WithNamespace(cfg.Namespace))
	}

	collector, err := promadapters.NewMetricsCollector(registry, options...)
	if err != nil {
		return metrics{}, err
	}

	return metrics{file: cfg.File, registry: registry, collector: collector}, nil
}

func (m metrics) enabled() bool {
	return m.collector != nil
}

// write stores all gathered metrics in the Prometheus text format, e.g. for the node exporter textfile collector.
func (m metrics) write() error {
	if !m.enabled() {
		return nil
	}

	if err := prometheus.WriteToTextfile(m.file, m.registry); err != nil {
		return errors.Join(errWritingMetricsFailed, err)
	}

	return nil
}
