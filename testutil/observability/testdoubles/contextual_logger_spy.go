package testdoubles

import (
	"context"
	"sync"

	"github.com/AntonStoeckl/composite-export-go/exportsource"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// ContextualLoggerSpy captures calls to both exportsource.Logger and exportsource.ContextualLogger.
type ContextualLoggerSpy struct {
	records []SpyLogRecord
	mu      sync.Mutex
}

// SpyLogRecord represents a recorded log call. Context is nil for calls via the plain Logger methods.
type SpyLogRecord struct {
	Level   string
	Message string
	Args    []any
	Context context.Context
}

// Arg returns the value logged for key, if any.
func (r SpyLogRecord) Arg(key string) (any, bool) {
	for i := 0; i+1 < len(r.Args); i += 2 {
		if k, ok := r.Args[i].(string); ok && k == key {
			return r.Args[i+1], true
		}
	}

	return nil, false
}

// NewContextualLoggerSpy creates a new ContextualLoggerSpy.
func NewContextualLoggerSpy() *ContextualLoggerSpy {
	return &ContextualLoggerSpy{records: make([]SpyLogRecord, 0)}
}

func (s *ContextualLoggerSpy) record(ctx context.Context, level, msg string, args []any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, SpyLogRecord{
		Level:   level,
		Message: msg,
		Args:    append([]any(nil), args...),
		Context: ctx,
	})
}

func (s *ContextualLoggerSpy) Debug(msg string, args ...any) { s.record(nil, LevelDebug, msg, args) }
func (s *ContextualLoggerSpy) Info(msg string, args ...any)  { s.record(nil, LevelInfo, msg, args) }
func (s *ContextualLoggerSpy) Warn(msg string, args ...any)  { s.record(nil, LevelWarn, msg, args) }
func (s *ContextualLoggerSpy) Error(msg string, args ...any) { s.record(nil, LevelError, msg, args) }

func (s *ContextualLoggerSpy) DebugContext(ctx context.Context, msg string, args ...any) {
	s.record(ctx, LevelDebug, msg, args)
}

func (s *ContextualLoggerSpy) InfoContext(ctx context.Context, msg string, args ...any) {
	s.record(ctx, LevelInfo, msg, args)
}

func (s *ContextualLoggerSpy) WarnContext(ctx context.Context, msg string, args ...any) {
	s.record(ctx, LevelWarn, msg, args)
}

func (s *ContextualLoggerSpy) ErrorContext(ctx context.Context, msg string, args ...any) {
	s.record(ctx, LevelError, msg, args)
}

// Records returns a copy of all records of the given level.
func (s *ContextualLoggerSpy) Records(level string) []SpyLogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	filtered := make([]SpyLogRecord, 0)
	for _, r := range s.records {
		if r.Level == level {
			filtered = append(filtered, r)
		}
	}

	return filtered
}

// HasLog checks if a log with the given level and message exists.
func (s *ContextualLoggerSpy) HasLog(level, message string) bool {
	for _, r := range s.Records(level) {
		if r.Message == message {
			return true
		}
	}

	return false
}

// Reset clears all recorded log calls.
func (s *ContextualLoggerSpy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = s.records[:0]
}

var _ exportsource.Logger = (*ContextualLoggerSpy)(nil)
var _ exportsource.ContextualLogger = (*ContextualLoggerSpy)(nil)
