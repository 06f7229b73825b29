package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/KremlinV1/11Wire-sub002/internal/events"
)

func TestTopic(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		filter    events.Filter
		want      string
	}{
		{"unfiltered", events.CallEnded, events.Filter{}, "call.ended"},
		{"campaign scoped", events.CallEnded, events.Filter{CampaignID: "c-42"}, "call.ended.campaign.c-42"},
		{"recording", events.RecordingStarted, events.Filter{CampaignID: "c-1"}, "recording.started.campaign.c-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := events.Topic(tt.eventType, tt.filter); got != tt.want {
				t.Errorf("Topic() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBus_PublishDeliversInOrder(t *testing.T) {
	bus := events.NewBus(nil)

	var got []string
	bus.Subscribe(events.CallStarted, func(_ context.Context, ev events.Event) {
		got = append(got, ev.Type)
	}, events.Filter{})
	bus.Subscribe(events.CallAnswered, func(_ context.Context, ev events.Event) {
		got = append(got, ev.Type)
	}, events.Filter{})
	bus.Subscribe(events.CallEnded, func(_ context.Context, ev events.Event) {
		got = append(got, ev.Type)
	}, events.Filter{})

	ctx := t.Context()
	for _, typ := range []string{events.CallStarted, events.CallAnswered, events.CallEnded} {
		bus.Publish(ctx, events.Event{Type: typ, CallSID: "CA1", Timestamp: time.Now()})
	}

	want := []string{"call.started", "call.answered", "call.ended"}
	if len(got) != len(want) {
		t.Fatalf("delivered %d events, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBus_CampaignScopedDelivery(t *testing.T) {
	bus := events.NewBus(nil)

	var unfiltered, scopedC1, scopedC2 int
	bus.Subscribe(events.CallEnded, func(_ context.Context, _ events.Event) {
		unfiltered++
	}, events.Filter{})
	bus.Subscribe(events.CallEnded, func(_ context.Context, _ events.Event) {
		scopedC1++
	}, events.Filter{CampaignID: "c-1"})
	bus.Subscribe(events.CallEnded, func(_ context.Context, _ events.Event) {
		scopedC2++
	}, events.Filter{CampaignID: "c-2"})

	ctx := t.Context()
	bus.Publish(ctx, events.Event{Type: events.CallEnded, CallSID: "CA1", CampaignID: "c-1"})
	bus.Publish(ctx, events.Event{Type: events.CallEnded, CallSID: "CA2"})

	if unfiltered != 2 {
		t.Errorf("unfiltered subscriber got %d events, want 2", unfiltered)
	}
	if scopedC1 != 1 {
		t.Errorf("c-1 subscriber got %d events, want 1", scopedC1)
	}
	if scopedC2 != 0 {
		t.Errorf("c-2 subscriber got %d events, want 0", scopedC2)
	}
}

func TestBus_PanickingHandlerDoesNotStopOthers(t *testing.T) {
	bus := events.NewBus(nil)

	var reached bool
	bus.Subscribe(events.CallStarted, func(_ context.Context, _ events.Event) {
		panic("boom")
	}, events.Filter{})
	bus.Subscribe(events.CallStarted, func(_ context.Context, _ events.Event) {
		reached = true
	}, events.Filter{})

	bus.Publish(t.Context(), events.Event{Type: events.CallStarted, CallSID: "CA1"})

	if !reached {
		t.Error("second handler did not run after first handler panicked")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := events.NewBus(nil)

	var calls int
	id := bus.Subscribe(events.CallEnded, func(_ context.Context, _ events.Event) {
		calls++
	}, events.Filter{})

	ctx := t.Context()
	bus.Publish(ctx, events.Event{Type: events.CallEnded})
	bus.Unsubscribe(id)
	bus.Publish(ctx, events.Event{Type: events.CallEnded})

	if calls != 1 {
		t.Errorf("handler ran %d times, want 1", calls)
	}

	// Unknown handles are a no-op.
	bus.Unsubscribe("not-a-handle")
}
