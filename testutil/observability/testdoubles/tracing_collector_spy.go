package testdoubles

import (
	"context"
	"maps"
	"sync"

	"github.com/AntonStoeckl/composite-export-go/exportsource"
)

// SpySpanContext implements exportsource.SpanContext for testing.
type SpySpanContext struct {
	name       string
	status     string
	attributes map[string]string
	mu         sync.Mutex
}

func (c *SpySpanContext) SetStatus(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}

func (c *SpySpanContext) AddAttribute(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attributes[key] = value
}

// Status returns the last status set on the span.
func (c *SpySpanContext) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// TracingCollectorSpy captures spans for testing.
type TracingCollectorSpy struct {
	spans []SpySpanRecord
	mu    sync.Mutex
}

// SpySpanRecord represents one started span. Finished is set once FinishSpan was called for it.
type SpySpanRecord struct {
	Name            string
	StartAttributes map[string]string
	EndAttributes   map[string]string
	Status          string
	Finished        bool
	span            *SpySpanContext
}

// NewTracingCollectorSpy creates a new TracingCollectorSpy.
func NewTracingCollectorSpy() *TracingCollectorSpy {
	return &TracingCollectorSpy{spans: make([]SpySpanRecord, 0)}
}

func (s *TracingCollectorSpy) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, exportsource.SpanContext) {
	s.mu.Lock()
	defer s.mu.Unlock()

	span := &SpySpanContext{name: name, attributes: make(map[string]string)}
	s.spans = append(s.spans, SpySpanRecord{
		Name:            name,
		StartAttributes: maps.Clone(attrs),
		span:            span,
	})

	return ctx, span
}

func (s *TracingCollectorSpy) FinishSpan(spanCtx exportsource.SpanContext, status string, attrs map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.spans {
		if s.spans[i].span == spanCtx {
			s.spans[i].Finished = true
			s.spans[i].Status = status
			s.spans[i].EndAttributes = maps.Clone(attrs)
		}
	}
}

// Spans returns a copy of all spans with the given name.
func (s *TracingCollectorSpy) Spans(name string) []SpySpanRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	filtered := make([]SpySpanRecord, 0)
	for _, r := range s.spans {
		if r.Name == name {
			filtered = append(filtered, r)
		}
	}

	return filtered
}

var _ exportsource.TracingCollector = (*TracingCollectorSpy)(nil)
