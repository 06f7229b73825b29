package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for all dialer spans.
const tracerName = "github.com/KremlinV1/11Wire-sub002"

// Tracer returns the dialer's tracer from the globally registered provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan opens a span named after the operation, e.g.
// "dialer.process_queue" or "bridge.stt_submit". The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartCallSpan opens a span tagged with the telephony call SID. The SID is
// the pivot every pipeline stage logs, so spans for one call can be lined up
// across the scheduler, the audio bridge, and the webhook handlers.
func StartCallSpan(ctx context.Context, name, callSID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attribute.String("call_sid", callSID)),
	)
}

// CorrelationID returns the hex trace ID of the active span, or the empty
// string when ctx carries none. It is echoed to HTTP callers in the
// X-Correlation-ID header and attached to completion logs.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger tagged with the active span's trace and
// span IDs. Without an active span it returns the default logger untouched.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
