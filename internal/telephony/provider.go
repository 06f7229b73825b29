// Package telephony defines the interface to the external telephony
// provider: placing calls, resolving call and recording details, and the
// lifecycle event and media message shapes the provider sends back.
package telephony

import (
	"context"
	"time"
)

// Lifecycle event types delivered by the provider webhook.
const (
	EventCallStarted      = "call.started"
	EventCallAnswered     = "call.answered"
	EventCallEnded        = "call.ended"
	EventRecordingStarted = "recording.started"
	EventRecordingEnded   = "recording.ended"
)

// PlaceCallRequest describes one outbound call.
type PlaceCallRequest struct {
	To            string            `json:"to"`
	From          string            `json:"from"`
	WebhookURL    string            `json:"webhook_url"`
	PhoneNumberID string            `json:"phone_number_id,omitempty"`
	UseAMD        bool              `json:"use_amd,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Call is the provider's view of a call.
type Call struct {
	ID        string `json:"id"`
	Direction string `json:"direction"`
	From      string `json:"from"`
	To        string `json:"to"`
	Status    string `json:"status"`
	Duration  int    `json:"duration"`
}

// Recording is the provider's view of a call recording.
type Recording struct {
	ID       string `json:"id"`
	CallID   string `json:"call_id"`
	Status   string `json:"status"`
	Duration int    `json:"duration"`
	URL      string `json:"url"`
}

// LifecycleEvent is one webhook payload from the provider. Details vary
// per event type; absent fields stay zero.
type LifecycleEvent struct {
	Type        string    `json:"event"`
	ID          string    `json:"id"`
	Direction   string    `json:"direction,omitempty"`
	From        string    `json:"from,omitempty"`
	To          string    `json:"to,omitempty"`
	Status      string    `json:"status,omitempty"`
	Duration    int       `json:"duration,omitempty"`
	RecordingID string    `json:"recording_id,omitempty"`
	AMDResult   string    `json:"amd_result,omitempty"`
	AMDDuration int       `json:"amd_duration,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitzero"`
}

// Provider places calls and resolves call state with the external
// telephony service.
type Provider interface {
	// PlaceCall starts an outbound call and returns the provider call id.
	PlaceCall(ctx context.Context, req PlaceCallRequest) (*Call, error)
	// GetCallDetails fetches the current state of a call.
	GetCallDetails(ctx context.Context, id string) (*Call, error)
	// GetRecordingDetails fetches the current state of a recording.
	GetRecordingDetails(ctx context.Context, id string) (*Recording, error)
}
