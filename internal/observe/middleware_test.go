package observe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var _ http.Hijacker = (*responseTap)(nil)
var _ http.Flusher = (*responseTap)(nil)

// newTestMiddleware wires a Middleware to in-memory metric and span
// collectors.
func newTestMiddleware(t *testing.T) (func(http.Handler) http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	exp := installTestTracer(t)
	return Middleware(m), reader, exp
}

func TestMiddleware_CorrelationHeader(t *testing.T) {
	mw, _, _ := newTestMiddleware(t)

	tests := []struct {
		name        string
		traceparent string
		wantCID     string // empty means any valid 32-char ID
	}{
		{name: "fresh trace"},
		{
			name:        "caller supplied traceparent",
			traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
			wantCID:     "4bf92f3577b34da6a3ce929d0e0e4736",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = CorrelationID(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest("POST", "/webhooks/telephony", nil)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if tt.wantCID != "" && seen != tt.wantCID {
				t.Errorf("correlation ID in handler = %q, want %q", seen, tt.wantCID)
			}
			if len(seen) != 32 || !isHex(seen) {
				t.Errorf("correlation ID = %q, want 32 hex chars", seen)
			}
			if got := rec.Header().Get("X-Correlation-ID"); got != seen {
				t.Errorf("X-Correlation-ID = %q, want %q", got, seen)
			}
		})
	}
}

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	mw, reader, _ := newTestMiddleware(t)

	// Mounted through chi, the duration metric must carry the route
	// pattern, not the per-call path.
	r := chi.NewRouter()
	r.Use(mw)
	r.Get("/media/{callSid}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/media/CA42", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "dialer.http.request.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("duration metric has no histogram data")
	}
	var path string
	for _, kv := range hist.DataPoints[0].Attributes.ToSlice() {
		if string(kv.Key) == "path" {
			path = kv.Value.AsString()
		}
	}
	if path != "/media/{callSid}" {
		t.Errorf("path attribute = %q, want %q", path, "/media/{callSid}")
	}
}

func TestMiddleware_SpanCarriesStatusCode(t *testing.T) {
	mw, _, exp := newTestMiddleware(t)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest("GET", "/missing", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("response status = %d, want 404", rec.Code)
	}
	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	found := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" && a.Value.AsInt64() == 404 {
			found = true
		}
	}
	if !found {
		t.Error("span missing http.response.status_code=404")
	}
}

// A wrapped writer must still satisfy http.Hijacker, or WebSocket upgrades
// on the media endpoint fail before the handshake.
func TestMiddleware_HijackPassthrough(t *testing.T) {
	mw, _, _ := newTestMiddleware(t)

	errCh := make(chan error, 1)
	srv := httptest.NewServer(mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			errCh <- errors.New("writer does not expose http.Hijacker")
			http.Error(w, "no hijacker", http.StatusNotImplemented)
			return
		}
		conn, rw, err := hj.Hijack()
		if err != nil {
			errCh <- err
			return
		}
		defer conn.Close()
		rw.WriteString("HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\n\r\n")
		rw.Flush()
		errCh <- nil
	})))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/media/CA1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Errorf("status = %d, want 101", resp.StatusCode)
	}
	if err := <-errCh; err != nil {
		t.Errorf("hijack through middleware failed: %v", err)
	}
}

func TestMiddleware_HijackWithoutSupport(t *testing.T) {
	// httptest.ResponseRecorder does not implement http.Hijacker, so the
	// passthrough must fail cleanly instead of panicking.
	tap := &responseTap{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := tap.Hijack(); err == nil {
		t.Error("Hijack over a non-hijackable writer returned nil error")
	}
}
