// Package health implements the dialer's liveness and readiness probes.
//
// Liveness (/healthz) only proves the process can serve HTTP. Readiness
// (/readyz) runs every registered [Probe] against its dependency; a dialer
// that cannot reach its call store must not receive webhook traffic, so any
// failing probe turns readiness into 503. Probe results, including observed
// latency, are reported in the JSON body.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// defaultProbeTimeout bounds a single dependency probe.
const defaultProbeTimeout = 5 * time.Second

// Probe checks one dependency of the dialer. Check returns nil when the
// dependency can serve traffic and must respect context cancellation.
type Probe struct {
	// Name keys the probe's result in the JSON response, e.g. "database".
	Name string

	Check func(ctx context.Context) error
}

// Ping wraps a bare ping function as a named probe. Useful for dependencies
// that already expose one, like a pgx pool.
func Ping(name string, ping func(ctx context.Context) error) Probe {
	return Probe{Name: name, Check: ping}
}

// probeResult is one probe's entry in the readiness response.
type probeResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// response is the JSON body for both endpoints. Status is "up" or "down".
type response struct {
	Status string                 `json:"status"`
	Checks map[string]probeResult `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The probe list is fixed at
// construction, so the handler is safe for concurrent use.
type Handler struct {
	probes  []Probe
	timeout time.Duration
}

// Option configures a [Handler].
type Option func(*Handler)

// WithProbeTimeout overrides the per-probe deadline.
func WithProbeTimeout(d time.Duration) Option {
	return func(h *Handler) { h.timeout = d }
}

// New creates a Handler that evaluates probes in order on each readiness
// request.
func New(probes []Probe, opts ...Option) *Handler {
	h := &Handler{
		probes:  append([]Probe(nil), probes...),
		timeout: defaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts the probe endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
}

// Healthz is the liveness probe. It always reports up.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "up"})
}

// Readyz runs every probe under its deadline and reports 503 when any fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := response{
		Status: "up",
		Checks: make(map[string]probeResult, len(h.probes)),
	}
	code := http.StatusOK

	for _, p := range h.probes {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		start := time.Now()
		err := p.Check(ctx)
		latency := time.Since(start)
		cancel()

		pr := probeResult{Status: "up", LatencyMS: latency.Milliseconds()}
		if err != nil {
			pr.Status = "down"
			pr.Error = err.Error()
			res.Status = "down"
			code = http.StatusServiceUnavailable
		}
		res.Checks[p.Name] = pr
	}

	writeJSON(w, code, res)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"down"}`, http.StatusInternalServerError)
	}
}
