// Package events implements the in-process event router: a topic-based
// publish/subscribe bus for call and recording lifecycle events, plus a
// webhook sink that forwards selected events as signed HTTP POSTs.
package events

import (
	"fmt"
	"time"
)

// Event types published on the bus.
const (
	CallStarted      = "call.started"
	CallAnswered     = "call.answered"
	CallEnded        = "call.ended"
	RecordingStarted = "recording.started"
	RecordingEnded   = "recording.ended"
)

// Event is a single lifecycle event. Payload carries provider-specific
// details and is flattened into the webhook body alongside the envelope
// fields.
type Event struct {
	Type       string
	CallSID    string
	CampaignID string
	Timestamp  time.Time
	Payload    map[string]any
}

// Filter narrows a subscription. A set CampaignID scopes the subscription
// to events of that campaign only.
type Filter struct {
	CampaignID string
}

// Topic derives the effective topic for an event type and filter. With a
// campaign filter the base topic gets a "campaign.<id>" suffix, e.g.
// "call.ended.campaign.c-42".
func Topic(eventType string, filter Filter) string {
	if filter.CampaignID == "" {
		return eventType
	}
	return fmt.Sprintf("%s.campaign.%s", eventType, filter.CampaignID)
}
