package elevenlabs

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/KremlinV1/11Wire-sub002/pkg/provider/stt"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := New("key", "https://svc.example/webhooks/stt",
		WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNew_MissingConfig(t *testing.T) {
	if _, err := New("", "https://svc.example/webhooks/stt"); !errors.Is(err, stt.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured for empty key, got %v", err)
	}
	if _, err := New("key", ""); !errors.Is(err, stt.ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured for empty webhook URL, got %v", err)
	}
}

func TestSubmitAsync_Success(t *testing.T) {
	var gotKey, gotContentType string
	var gotWebhook, gotMeta string
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("xi-api-key")
		gotContentType = r.Header.Get("Content-Type")
		if err := r.ParseMultipartForm(4 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotWebhook = r.FormValue("webhook_url")
		gotMeta = r.FormValue("webhook_metadata")
		json.NewEncoder(w).Encode(map[string]string{"request_id": "req-abc"})
	})

	sub, err := p.SubmitAsync(t.Context(), stt.SubmitRequest{
		Audio:  []byte("RIFF....WAVE"),
		CallID: "CA123",
	})
	if err != nil {
		t.Fatalf("SubmitAsync: %v", err)
	}
	if sub.RequestID != "req-abc" {
		t.Errorf("expected request id 'req-abc', got %q", sub.RequestID)
	}
	if gotKey != "key" {
		t.Errorf("expected xi-api-key header, got %q", gotKey)
	}
	if gotContentType == "" {
		t.Error("expected multipart Content-Type header")
	}
	if gotWebhook != "https://svc.example/webhooks/stt" {
		t.Errorf("expected configured webhook URL, got %q", gotWebhook)
	}

	var meta map[string]any
	if err := json.Unmarshal([]byte(gotMeta), &meta); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if meta["call_id"] != "CA123" {
		t.Errorf("expected call_id 'CA123' in metadata, got %v", meta["call_id"])
	}
}

func TestSubmitAsync_EmptyAudio(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty audio")
	})
	if _, err := p.SubmitAsync(t.Context(), stt.SubmitRequest{CallID: "CA1"}); err == nil {
		t.Error("expected error for empty audio")
	}
}

func TestSubmitAsync_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			})
			_, err := p.SubmitAsync(t.Context(), stt.SubmitRequest{
				Audio:  []byte("x"),
				CallID: "CA1",
			})
			if err == nil {
				t.Fatal("expected error")
			}
			var se *stt.StatusError
			if !errors.As(err, &se) {
				t.Fatalf("expected StatusError, got %T: %v", err, err)
			}
			if se.Code != tc.status {
				t.Errorf("expected status %d, got %d", tc.status, se.Code)
			}
			if got := stt.IsRetryable(err); got != tc.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tc.retryable)
			}
		})
	}
}

func TestSubmitAsync_MissingRequestID(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	if _, err := p.SubmitAsync(t.Context(), stt.SubmitRequest{Audio: []byte("x")}); err == nil {
		t.Error("expected error when response lacks request_id")
	}
}
