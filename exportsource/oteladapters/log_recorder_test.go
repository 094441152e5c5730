package oteladapters_test

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/embedded"
)

type emittedRecord struct {
	ctx    context.Context
	record log.Record
}

func (r emittedRecord) attributes() map[string]log.Value {
	attrs := make(map[string]log.Value)
	r.record.WalkAttributes(func(kv log.KeyValue) bool {
		attrs[kv.Key] = kv.Value

		return true
	})

	return attrs
}

// recordingLogger is an OpenTelemetry logger that keeps every emitted record.
type recordingLogger struct {
	embedded.Logger

	mu      sync.Mutex
	records []emittedRecord
}

func (l *recordingLogger) Emit(ctx context.Context, record log.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, emittedRecord{ctx: ctx, record: record})
}

func (l *recordingLogger) Enabled(context.Context, log.EnabledParameters) bool {
	return true
}

func (l *recordingLogger) emitted() []emittedRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]emittedRecord(nil), l.records...)
}

type recordingLoggerProvider struct {
	embedded.LoggerProvider

	logger *recordingLogger
}

func newRecordingLoggerProvider() *recordingLoggerProvider {
	return &recordingLoggerProvider{logger: &recordingLogger{}}
}

func (p *recordingLoggerProvider) Logger(string, ...log.LoggerOption) log.Logger {
	return p.logger
}
