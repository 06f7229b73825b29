package telephony_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/KremlinV1/11Wire-sub002/internal/telephony"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *telephony.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := telephony.NewClient(srv.URL, "test-key", telephony.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	if _, err := telephony.NewClient("", "key"); err == nil {
		t.Error("NewClient(\"\") expected error, got nil")
	}
}

func TestClient_PlaceCall(t *testing.T) {
	var gotAuth, gotPath string
	var gotReq telephony.PlaceCallRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(telephony.Call{ID: "CA123", Status: "initiated"})
	})

	call, err := client.PlaceCall(t.Context(), telephony.PlaceCallRequest{
		To:         "+15550001",
		From:       "+15550002",
		WebhookURL: "https://dialer.example.com/webhooks/telephony",
		UseAMD:     true,
		Metadata:   map[string]string{"campaignId": "c-1"},
	})
	if err != nil {
		t.Fatalf("PlaceCall() error = %v", err)
	}

	if call.ID != "CA123" {
		t.Errorf("call id = %q, want CA123", call.ID)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q, want Bearer test-key", gotAuth)
	}
	if gotPath != "/v1/calls" {
		t.Errorf("path = %q, want /v1/calls", gotPath)
	}
	if gotReq.To != "+15550001" || !gotReq.UseAMD {
		t.Errorf("request not forwarded: %+v", gotReq)
	}
	if gotReq.Metadata["campaignId"] != "c-1" {
		t.Errorf("metadata campaignId = %q, want c-1", gotReq.Metadata["campaignId"])
	}
}

func TestClient_PlaceCall_EmptyDestination(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	if _, err := client.PlaceCall(t.Context(), telephony.PlaceCallRequest{From: "+15550002"}); err == nil {
		t.Error("expected error for empty destination, got nil")
	}
}

func TestClient_PlaceCall_MissingCallID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	if _, err := client.PlaceCall(t.Context(), telephony.PlaceCallRequest{To: "+15550001"}); err == nil {
		t.Error("expected error for response without call id, got nil")
	}
}

func TestClient_PlaceCall_ProviderError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no capacity", http.StatusServiceUnavailable)
	})
	_, err := client.PlaceCall(t.Context(), telephony.PlaceCallRequest{To: "+15550001"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error %q does not carry the status code", err)
	}
}

func TestClient_GetCallDetails(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/calls/CA123" {
			t.Errorf("path = %q, want /v1/calls/CA123", r.URL.Path)
		}
		json.NewEncoder(w).Encode(telephony.Call{ID: "CA123", Status: "completed", Duration: 17})
	})

	call, err := client.GetCallDetails(t.Context(), "CA123")
	if err != nil {
		t.Fatalf("GetCallDetails() error = %v", err)
	}
	if call.Status != "completed" || call.Duration != 17 {
		t.Errorf("call = %+v, want completed/17", call)
	}
}

func TestClient_GetRecordingDetails(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/recordings/RE9" {
			t.Errorf("path = %q, want /v1/recordings/RE9", r.URL.Path)
		}
		json.NewEncoder(w).Encode(telephony.Recording{
			ID: "RE9", CallID: "CA123", Status: "completed",
			Duration: 17, URL: "https://recordings.example.com/RE9.wav",
		})
	})

	rec, err := client.GetRecordingDetails(t.Context(), "RE9")
	if err != nil {
		t.Fatalf("GetRecordingDetails() error = %v", err)
	}
	if rec.URL != "https://recordings.example.com/RE9.wav" {
		t.Errorf("recording url = %q", rec.URL)
	}
}
