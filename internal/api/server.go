// Package api exposes the dialer's inbound HTTP surface: telephony
// lifecycle webhooks, asynchronous speech-to-text result callbacks, the
// bidirectional media WebSocket, and the health and metrics endpoints.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/KremlinV1/11Wire-sub002/internal/bridge"
	"github.com/KremlinV1/11Wire-sub002/internal/health"
	"github.com/KremlinV1/11Wire-sub002/internal/observe"
	"github.com/KremlinV1/11Wire-sub002/internal/reconcile"
	"github.com/KremlinV1/11Wire-sub002/internal/telephony"
	"github.com/KremlinV1/11Wire-sub002/pkg/provider/stt"
)

// maxWebhookBody bounds the size of accepted webhook payloads.
const maxWebhookBody = 1 << 20

// SessionFactory creates a bridge session for a freshly accepted media
// stream. The server owns neither the providers nor the per-call config;
// the factory closes over them.
type SessionFactory func(callSID string, media telephony.MediaStream) (*bridge.Session, error)

// Server mounts all dialer routes on a chi router.
type Server struct {
	router     *chi.Mux
	reconciler *reconcile.Reconciler
	correlator *bridge.Correlator
	registry   *bridge.Registry
	newSession SessionFactory
	log        *slog.Logger
}

// NewServer wires the HTTP surface. The health handler may carry readiness
// checkers for the store and providers; nil means liveness-only probes.
func NewServer(rec *reconcile.Reconciler, cor *bridge.Correlator, reg *bridge.Registry, newSession SessionFactory, hc *health.Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if hc == nil {
		hc = health.New(nil)
	}
	s := &Server{
		router:     chi.NewRouter(),
		reconciler: rec,
		correlator: cor,
		registry:   reg,
		newSession: newSession,
		log:        log,
	}
	s.routes(hc)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(hc *health.Handler) {
	r := s.router
	r.Use(observe.Middleware(observe.DefaultMetrics()))

	r.Post("/webhooks/telephony", s.handleTelephonyWebhook)
	r.Post("/webhooks/stt", s.handleSTTWebhook)
	r.Get("/media/{callSid}", s.handleMedia)

	hc.Routes(r)
	r.Handle("/metrics", promhttp.Handler())
}

// handleTelephonyWebhook ingests one provider lifecycle event and hands it
// to the reconciler. The provider treats any 2xx as delivered.
func (s *Server) handleTelephonyWebhook(w http.ResponseWriter, r *http.Request) {
	var ev telephony.LifecycleEvent
	if msg := readJSON(r, &ev); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if ev.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	s.reconciler.Handle(r.Context(), ev)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSTTWebhook ingests one async transcription result and routes it to
// the owning session. Results for unknown or ended calls are absorbed, not
// errored, so the provider does not retry them.
func (s *Server) handleSTTWebhook(w http.ResponseWriter, r *http.Request) {
	var res stt.Result
	if msg := readJSON(r, &res); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	s.correlator.Handle(r.Context(), res)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMedia upgrades to a WebSocket and pumps the call's media stream
// into a bridge session until the stream stops or the peer disconnects.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	callSID := chi.URLParam(r, "callSid")
	if callSID == "" {
		writeError(w, http.StatusBadRequest, "call sid is required")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The telephony provider connects server-to-server.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn("media websocket upgrade failed", "call_sid", callSID, "error", err)
		return
	}
	stream := telephony.NewWSMediaStream(conn)

	session, err := s.newSession(callSID, stream)
	if err != nil {
		s.log.Error("media session setup failed", "call_sid", callSID, "error", err)
		stream.Close()
		return
	}
	// The session leaves the transport to its owner, so close it here once
	// the pump returns. On the stop path this sends the close frame.
	defer stream.Close()
	s.registry.Add(session)
	defer s.registry.Remove(callSID)

	s.log.Info("media stream connected", "call_sid", callSID)
	s.pumpMedia(r.Context(), session, stream)
}

// pumpMedia is the read loop of one media connection. It returns when the
// provider sends a stop message, the connection drops, or ctx is cancelled.
func (s *Server) pumpMedia(ctx context.Context, session *bridge.Session, stream telephony.MediaStream) {
	for {
		msg, err := stream.ReadMessage(ctx)
		if err != nil {
			s.log.Debug("media stream closed", "call_sid", session.CallSID(), "error", err)
			return
		}

		switch msg.Event {
		case telephony.MediaEventStart:
			if msg.Start != nil {
				session.Start(msg.Start.MediaFormat)
			}
		case telephony.MediaEventMedia:
			session.HandleFrame(ctx, msg)
		case telephony.MediaEventStop:
			s.log.Info("media stream stopped", "call_sid", session.CallSID())
			return
		}
	}
}

// readJSON decodes the request body into v, returning a human-readable
// message on failure and "" on success.
func readJSON(r *http.Request, v any) string {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxWebhookBody))
	if err := dec.Decode(v); err != nil {
		return "invalid JSON body: " + err.Error()
	}
	return ""
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

// writeError sends a JSON error body with the given status code.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
