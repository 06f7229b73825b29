package api_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/KremlinV1/11Wire-sub002/internal/api"
	"github.com/KremlinV1/11Wire-sub002/internal/bridge"
	"github.com/KremlinV1/11Wire-sub002/internal/events"
	"github.com/KremlinV1/11Wire-sub002/internal/reconcile"
	"github.com/KremlinV1/11Wire-sub002/internal/store"
	"github.com/KremlinV1/11Wire-sub002/internal/store/memstore"
	"github.com/KremlinV1/11Wire-sub002/internal/telephony"
	telmock "github.com/KremlinV1/11Wire-sub002/internal/telephony/mock"
	llmmock "github.com/KremlinV1/11Wire-sub002/pkg/provider/llm/mock"
	sttmock "github.com/KremlinV1/11Wire-sub002/pkg/provider/stt/mock"
	ttsmock "github.com/KremlinV1/11Wire-sub002/pkg/provider/tts/mock"
)

type fixture struct {
	store    *memstore.Store
	registry *bridge.Registry
	stt      *sttmock.Provider
	llm      *llmmock.Provider
	tts      *ttsmock.Provider
	server   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:    memstore.New(),
		registry: bridge.NewRegistry(),
		stt:      &sttmock.Provider{},
		llm:      &llmmock.Provider{Reply: "hello there"},
		tts:      &ttsmock.Provider{Chunks: [][]byte{[]byte("audio")}},
	}

	rec := reconcile.New(f.store, telmock.New(), events.NewBus(nil), nil, f.registry, nil)
	cor := bridge.NewCorrelator(f.registry, nil)
	factory := func(callSID string, media telephony.MediaStream) (*bridge.Session, error) {
		return bridge.NewSession(bridge.Config{
			CallSID:       callSID,
			STTWebhookURL: "https://dialer.example.com/webhooks/stt",
		}, bridge.Deps{STT: f.stt, LLM: f.llm, TTS: f.tts, Media: media})
	}

	f.server = httptest.NewServer(api.NewServer(rec, cor, f.registry, factory, nil, nil))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestTelephonyWebhook_CreatesCallRow(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/webhooks/telephony", telephony.LifecycleEvent{
		Type: telephony.EventCallStarted, ID: "CA1",
		From: "+15550002", To: "+15550001",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	row, err := f.store.FindCallBySID(t.Context(), "CA1")
	if err != nil {
		t.Fatalf("call row not created: %v", err)
	}
	if row.Status != store.CallInProgress {
		t.Errorf("status = %q, want in-progress", row.Status)
	}
}

func TestTelephonyWebhook_RejectsBadPayloads(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.server.URL+"/webhooks/telephony", "application/json",
		strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d, want 400", resp.StatusCode)
	}

	resp = f.post(t, "/webhooks/telephony", telephony.LifecycleEvent{Type: telephony.EventCallStarted})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing id: status = %d, want 400", resp.StatusCode)
	}
}

func TestSTTWebhook_RoutesResultToSession(t *testing.T) {
	f := newFixture(t)

	media := telmock.NewMediaStream()
	session, err := bridge.NewSession(bridge.Config{
		CallSID:       "CA1",
		STTWebhookURL: "https://dialer.example.com/webhooks/stt",
	}, bridge.Deps{STT: f.stt, LLM: f.llm, TTS: f.tts, Media: media})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	f.registry.Add(session)

	resp := f.post(t, "/webhooks/stt", map[string]any{
		"request_id": "req-1", "call_id": "CA1", "text": "good morning", "is_final": true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	waitFor(t, func() bool { return len(session.Turns()) == 2 }, "conversation turn")
	turns := session.Turns()
	if turns[0].Content != "good morning" || turns[1].Content != "hello there" {
		t.Errorf("turns = %+v", turns)
	}
}

func TestSTTWebhook_UnknownCallIsAbsorbed(t *testing.T) {
	f := newFixture(t)

	resp := f.post(t, "/webhooks/stt", map[string]any{
		"request_id": "req-9", "call_id": "CA-gone", "text": "anyone there",
	})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 so the provider does not retry", resp.StatusCode)
	}
}

func TestMediaWebSocket_SessionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	wsURL := strings.Replace(f.server.URL, "http://", "ws://", 1) + "/media/CA7"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial media websocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	waitFor(t, func() bool { return f.registry.Get("CA7") != nil }, "session registration")

	err = wsjson.Write(ctx, conn, &telephony.MediaMessage{
		Event: telephony.MediaEventStart,
		Start: &telephony.StartPayload{
			CallSID: "CA7",
			MediaFormat: telephony.MediaFormat{
				Encoding: "mulaw", SampleRate: 8000, Channels: 1, BitDepth: 8,
			},
		},
	})
	if err != nil {
		t.Fatalf("write start message: %v", err)
	}

	frame := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0xFF}, 160))
	err = wsjson.Write(ctx, conn, &telephony.MediaMessage{
		Event: telephony.MediaEventMedia,
		Media: &telephony.MediaPayload{Track: telephony.TrackInbound, Chunk: 0, Payload: frame},
	})
	if err != nil {
		t.Fatalf("write media frame: %v", err)
	}

	if err := wsjson.Write(ctx, conn, &telephony.MediaMessage{Event: telephony.MediaEventStop}); err != nil {
		t.Fatalf("write stop message: %v", err)
	}

	waitFor(t, func() bool { return f.registry.Get("CA7") == nil }, "session teardown")

	// The server owns the transport and must close it after stop, not leave
	// the connection dangling until the client gives up.
	_, _, err = conn.Read(ctx)
	if err == nil {
		t.Fatal("read after stop succeeded, want server close")
	}
	if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure {
		t.Errorf("close status = %v, want %v", status, websocket.StatusNormalClosure)
	}
}

func TestMediaWebSocket_DisconnectTearsDownSession(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	wsURL := strings.Replace(f.server.URL, "http://", "ws://", 1) + "/media/CA8"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial media websocket: %v", err)
	}
	waitFor(t, func() bool { return f.registry.Get("CA8") != nil }, "session registration")

	conn.Close(websocket.StatusGoingAway, "provider dropped")

	waitFor(t, func() bool { return f.registry.Get("CA8") == nil }, "session teardown")
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(f.server.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}
