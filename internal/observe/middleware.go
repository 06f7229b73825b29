package observe

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// responseTap captures the status code written downstream while keeping the
// wrapped writer's optional interfaces reachable. Hijack must pass through:
// the media endpoint upgrades to WebSocket, and an upgrade through a wrapper
// that hides http.Hijacker fails before the handshake.
type responseTap struct {
	http.ResponseWriter
	status   int
	hijacked bool
}

func (t *responseTap) WriteHeader(code int) {
	t.status = code
	t.ResponseWriter.WriteHeader(code)
}

func (t *responseTap) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := t.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("observe: underlying writer does not support hijacking")
	}
	conn, rw, err := hj.Hijack()
	if err == nil {
		t.hijacked = true
		t.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (t *responseTap) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// routeLabel returns the chi route pattern when the request was dispatched
// through chi, keeping metric cardinality bounded: every media stream maps to
// "/media/{callSid}" instead of one series per call SID. Requests served
// outside chi fall back to the raw path.
func routeLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// Middleware instruments every request on the dialer's HTTP surface. It picks
// up W3C trace context from the caller when present (the telephony provider
// forwards traceparent on webhook callbacks), opens a server span, echoes the
// trace ID back as X-Correlation-ID, and records duration and status to m.
// Hijacked connections are logged with status 101; their recorded duration
// covers only the handshake, not the media stream that follows.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			if cid := CorrelationID(ctx); cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			tap := &responseTap{ResponseWriter: w, status: http.StatusOK}
			req := r.WithContext(ctx)
			next.ServeHTTP(tap, req)

			elapsed := time.Since(start)
			route := routeLabel(req)
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", route),
				),
			)
			span.SetAttributes(semconv.HTTPResponseStatusCode(tap.status))

			Logger(ctx).LogAttrs(ctx, slog.LevelInfo, "request completed",
				slog.String("method", r.Method),
				slog.String("path", route),
				slog.Int("status", tap.status),
				slog.Duration("duration", elapsed),
				slog.Bool("hijacked", tap.hijacked),
			)
		})
	}
}
