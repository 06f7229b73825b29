package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installTestTracer registers an in-memory tracer provider as the global one
// for the duration of the test and returns its exporter.
func installTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
	return exp
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func TestCorrelationID(t *testing.T) {
	installTestTracer(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without a span = %q, want empty", got)
	}

	ctx, span := StartSpan(context.Background(), "correlation-test")
	defer span.End()

	cid := CorrelationID(ctx)
	if len(cid) != 32 || !isHex(cid) {
		t.Errorf("CorrelationID = %q, want 32 hex chars", cid)
	}
}

func TestStartSpan_RecordsName(t *testing.T) {
	exp := installTestTracer(t)

	_, span := StartSpan(context.Background(), "dialer.process_queue")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Name != "dialer.process_queue" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "dialer.process_queue")
	}
}

func TestStartCallSpan_TagsCallSID(t *testing.T) {
	exp := installTestTracer(t)

	_, span := StartCallSpan(context.Background(), "bridge.stt_submit", "CA123")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	found := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "call_sid" && a.Value.AsString() == "CA123" {
			found = true
		}
	}
	if !found {
		t.Errorf("span attributes %v missing call_sid=CA123", spans[0].Attributes)
	}
}

func TestLogger(t *testing.T) {
	installTestTracer(t)

	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })

	Logger(context.Background()).Info("plain")
	if out := buf.String(); strings.Contains(out, "trace_id") {
		t.Errorf("log without a span carries trace_id: %s", out)
	}

	buf.Reset()
	ctx, span := StartSpan(context.Background(), "logger-test")
	defer span.End()

	Logger(ctx).Info("traced")
	out := buf.String()
	if !strings.Contains(out, "trace_id=") || !strings.Contains(out, "span_id=") {
		t.Errorf("log with a span missing trace/span IDs: %s", out)
	}
}
