package oteladapters

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AntonStoeckl/composite-export-go/exportsource"
)

const (
	statusDescriptionFailed   = "Operation failed"
	statusDescriptionCanceled = "Operation canceled"
	statusDescriptionTimeout  = "Operation timed out"
	attrStatus                = "status"
)

// TracingCollector implements exportsource.TracingCollector using the OpenTelemetry tracing API.
// Spans started for a composite count or page fetch become the parents of the per-source spans,
// because the returned context carries the OpenTelemetry span.
type TracingCollector struct {
	tracer trace.Tracer
}

// NewTracingCollector creates a new OpenTelemetry tracing collector.
// The tracer should be created from your OpenTelemetry TracerProvider.
func NewTracingCollector(tracer trace.Tracer) *TracingCollector {
	return &TracingCollector{tracer: tracer}
}

// StartSpan starts an OpenTelemetry span carrying attrs as string attributes.
func (t *TracingCollector) StartSpan(
	ctx context.Context,
	name string,
	attrs map[string]string,
) (context.Context, exportsource.SpanContext) {

	spanCtx, span := t.tracer.Start(ctx, name, trace.WithAttributes(toAttributes(attrs)...))

	return spanCtx, &OTelSpanContext{span: span}
}

// FinishSpan adds the final attributes, maps status onto the span status and ends the span.
// Span contexts that were not created by a TracingCollector are ignored.
func (t *TracingCollector) FinishSpan(spanCtx exportsource.SpanContext, status string, attrs map[string]string) {
	otelSpanCtx, ok := spanCtx.(*OTelSpanContext)
	if !ok {
		return
	}

	otelSpanCtx.span.SetAttributes(toAttributes(attrs)...)
	otelSpanCtx.setSpanStatus(status)
	otelSpanCtx.span.End()
}

// OTelSpanContext implements exportsource.SpanContext by wrapping an OpenTelemetry span.
type OTelSpanContext struct {
	span trace.Span
}

// SetStatus maps the status string onto the OpenTelemetry span status.
func (s *OTelSpanContext) SetStatus(status string) {
	s.setSpanStatus(status)
}

// AddAttribute adds a string attribute to the span.
func (s *OTelSpanContext) AddAttribute(key, value string) {
	s.span.SetAttributes(attribute.String(key, value))
}

// setSpanStatus maps status strings to OpenTelemetry status codes.
// Unknown statuses keep the span status unset and are recorded as a "status" attribute instead.
func (s *OTelSpanContext) setSpanStatus(status string) {
	switch status {
	case "ok", "success":
		s.span.SetStatus(codes.Ok, "")
	case "error", "failed":
		s.span.SetStatus(codes.Error, statusDescriptionFailed)
	case "canceled", "cancelled":
		s.span.SetStatus(codes.Error, statusDescriptionCanceled)
	case "timeout":
		s.span.SetStatus(codes.Error, statusDescriptionTimeout)
	default:
		s.span.SetAttributes(attribute.String(attrStatus, status))
	}
}

var (
	_ exportsource.TracingCollector = (*TracingCollector)(nil)
	_ exportsource.SpanContext      = (*OTelSpanContext)(nil)
)
