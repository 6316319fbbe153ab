package tracing

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

// w3c is used directly so headers are written even before Setup installs the global propagator.
var w3c = propagation.TraceContext{}

// SetTracer sets the tracer used by StartSpan; nil disables tracing.
func SetTracer(t trace.Tracer) {
	tracer = t
}

// StartSpan starts a span, or returns the context's span unchanged when tracing is disabled.
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, spanName)
}

// activeSpan returns the span context of ctx while tracing is enabled.
func activeSpan(ctx context.Context) trace.SpanContext {
	if tracer == nil {
		return trace.SpanContext{}
	}
	return trace.SpanContextFromContext(ctx)
}

// Headers returns the W3C traceparent and tracestate of ctx; empty without an active span.
func Headers(ctx context.Context) map[string]string {
	if !activeSpan(ctx).IsValid() {
		return nil
	}
	carrier := propagation.MapCarrier{}
	w3c.Inject(ctx, carrier)
	return carrier
}

// GetTraceParent returns the traceparent header value of ctx.
func GetTraceParent(ctx context.Context) string {
	return Headers(ctx)["traceparent"]
}

// GetTraceState returns the tracestate header value of ctx.
func GetTraceState(ctx context.Context) string {
	return Headers(ctx)["tracestate"]
}

// Extract continues a trace carried in message headers, e.g. a Kafka import.
func Extract(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 || headers["traceparent"] == "" {
		return ctx
	}
	return w3c.Extract(ctx, propagation.MapCarrier(headers))
}

// GetTraceID returns the trace id of ctx.
func GetTraceID(ctx context.Context) string {
	sc := activeSpan(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// GetSpanID returns the span id of ctx.
func GetSpanID(ctx context.Context) string {
	sc := activeSpan(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.SpanID().String()
}

// LogFields returns trace_id and span_id for structured logs; empty without an active span.
func LogFields(ctx context.Context) map[string]any {
	sc := activeSpan(ctx)
	if !sc.IsValid() {
		return map[string]any{}
	}
	return map[string]any{
		"trace_id": sc.TraceID().String(),
		"span_id":  sc.SpanID().String(),
	}
}
