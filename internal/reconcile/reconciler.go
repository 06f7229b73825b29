// Package reconcile turns telephony lifecycle events into durable call
// state and fans them back out through the event router.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/KremlinV1/11Wire-sub002/internal/events"
	"github.com/KremlinV1/11Wire-sub002/internal/store"
	"github.com/KremlinV1/11Wire-sub002/internal/telephony"
)

// CallCompleter receives the terminal outcome of a dispatched call. The
// scheduler implements it to drive queue transitions and retry planning.
type CallCompleter interface {
	OnCallCompleted(ctx context.Context, callSID string, status store.CallStatus, details map[string]any) error
}

// SessionCloser tears down the media bridge for a call. The bridge
// registry implements it.
type SessionCloser interface {
	Remove(callSID string)
}

// Reconciler applies lifecycle events to the call store, notifies the
// scheduler of terminal outcomes, and re-publishes every event on the bus.
// Store failures are logged and the event is dropped; the provider
// redelivers on its own channel if it cares.
type Reconciler struct {
	store     store.Store
	telephony telephony.Provider
	bus       *events.Bus
	scheduler CallCompleter
	sessions  SessionCloser
	log       *slog.Logger
	now       func() time.Time
}

// New creates a reconciler. Scheduler and sessions may be nil; the
// corresponding notifications are then skipped.
func New(st store.Store, tel telephony.Provider, bus *events.Bus, scheduler CallCompleter, sessions SessionCloser, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		store:     st,
		telephony: tel,
		bus:       bus,
		scheduler: scheduler,
		sessions:  sessions,
		log:       log,
		now:       time.Now,
	}
}

// Handle applies one lifecycle event and re-publishes it.
func (r *Reconciler) Handle(ctx context.Context, ev telephony.LifecycleEvent) {
	if ev.ID == "" {
		r.log.Warn("lifecycle event without call id", "event", ev.Type)
		return
	}
	now := r.now()
	log := r.log.With("event", ev.Type, "call_sid", ev.ID)

	var campaignID string
	switch ev.Type {
	case telephony.EventCallStarted:
		campaignID = r.handleStarted(ctx, ev, now, log)
	case telephony.EventCallAnswered:
		campaignID = r.handleAnswered(ctx, ev, now, log)
	case telephony.EventCallEnded:
		campaignID = r.handleEnded(ctx, ev, now, log)
	case telephony.EventRecordingStarted:
		campaignID = r.handleRecordingStarted(ctx, ev, now, log)
	case telephony.EventRecordingEnded:
		campaignID = r.handleRecordingEnded(ctx, ev, now, log)
	default:
		log.Warn("unknown lifecycle event type")
		return
	}

	r.bus.Publish(ctx, events.Event{
		Type:       ev.Type,
		CallSID:    ev.ID,
		CampaignID: campaignID,
		Timestamp:  now,
		Payload:    eventPayload(ev),
	})
}

func (r *Reconciler) handleStarted(ctx context.Context, ev telephony.LifecycleEvent, now time.Time, log *slog.Logger) string {
	record := callEvent(ev, now)

	row, err := r.store.FindCallBySID(ctx, ev.ID)
	if errors.Is(err, store.ErrNotFound) {
		direction := ev.Direction
		if direction == "" {
			direction = string(store.DirectionOutbound)
		}
		row = &store.CallRow{
			CallSID:   ev.ID,
			Direction: store.Direction(direction),
			Status:    store.CallInProgress,
			From:      ev.From,
			To:        ev.To,
			StartTime: now,
			Events:    []store.CallEvent{record},
		}
		if err := r.store.CreateCall(ctx, row); err != nil {
			log.Error("create call failed", "error", err)
		}
		return ""
	}
	if err != nil {
		log.Error("find call failed", "error", err)
		return ""
	}

	status := store.CallInProgress
	patch := store.CallPatch{
		Status:       &status,
		StartTime:    &now,
		AppendEvents: []store.CallEvent{record},
	}
	if err := r.store.UpdateCallBySID(ctx, ev.ID, patch); err != nil {
		log.Error("update call failed", "error", err)
	}
	return row.CampaignID
}

func (r *Reconciler) handleAnswered(ctx context.Context, ev telephony.LifecycleEvent, now time.Time, log *slog.Logger) string {
	status := store.CallAnswered
	patch := store.CallPatch{
		Status:       &status,
		AnswerTime:   &now,
		AppendEvents: []store.CallEvent{callEvent(ev, now)},
	}
	if err := r.store.UpdateCallBySID(ctx, ev.ID, patch); err != nil {
		log.Error("update call failed", "error", err)
		return ""
	}
	return r.campaignOf(ctx, ev.ID)
}

func (r *Reconciler) handleEnded(ctx context.Context, ev telephony.LifecycleEvent, now time.Time, log *slog.Logger) string {
	status := store.CallCompleted
	if ev.Status != "" {
		status = store.CallStatus(ev.Status)
	}
	duration := ev.Duration

	patch := store.CallPatch{
		Status:       &status,
		EndTime:      &now,
		Duration:     &duration,
		AppendEvents: []store.CallEvent{callEvent(ev, now)},
	}
	if ev.AMDResult != "" {
		patch.AMDResult = &ev.AMDResult
		patch.AMDDuration = &ev.AMDDuration
	}
	if err := r.store.UpdateCallBySID(ctx, ev.ID, patch); err != nil {
		log.Error("update call failed", "error", err)
	}

	if r.sessions != nil {
		r.sessions.Remove(ev.ID)
	}

	row, err := r.store.FindCallBySID(ctx, ev.ID)
	if err != nil {
		log.Error("find call after terminal event failed", "error", err)
		return ""
	}
	if row.CampaignID != "" && r.scheduler != nil {
		details := map[string]any{"duration": duration}
		if ev.AMDResult != "" {
			details["amdResult"] = ev.AMDResult
		}
		if err := r.scheduler.OnCallCompleted(ctx, ev.ID, status, details); err != nil {
			log.Error("scheduler completion notification failed", "error", err)
		}
	}
	return row.CampaignID
}

func (r *Reconciler) handleRecordingStarted(ctx context.Context, ev telephony.LifecycleEvent, now time.Time, log *slog.Logger) string {
	patch := store.CallPatch{AppendEvents: []store.CallEvent{callEvent(ev, now)}}
	if err := r.store.UpdateCallBySID(ctx, ev.ID, patch); err != nil {
		log.Error("update call failed", "error", err)
	}

	if ev.RecordingID == "" {
		log.Warn("recording.started without recording id")
		return r.campaignOf(ctx, ev.ID)
	}
	rec := &store.CallRecording{
		RecordingSID: ev.RecordingID,
		CallSID:      ev.ID,
		Status:       store.RecordingInProgress,
		StartTime:    now,
	}
	if err := r.store.CreateRecording(ctx, rec); err != nil {
		log.Error("create recording failed", "recording_sid", ev.RecordingID, "error", err)
	}
	return r.campaignOf(ctx, ev.ID)
}

func (r *Reconciler) handleRecordingEnded(ctx context.Context, ev telephony.LifecycleEvent, now time.Time, log *slog.Logger) string {
	if ev.RecordingID == "" {
		log.Warn("recording.ended without recording id")
		return r.campaignOf(ctx, ev.ID)
	}

	details, err := r.telephony.GetRecordingDetails(ctx, ev.RecordingID)
	if err != nil {
		log.Error("resolve recording details failed", "recording_sid", ev.RecordingID, "error", err)
		return r.campaignOf(ctx, ev.ID)
	}

	callPatch := store.CallPatch{
		RecordingURL: &details.URL,
		RecordingSID: &ev.RecordingID,
		AppendEvents: []store.CallEvent{callEvent(ev, now)},
	}
	if err := r.store.UpdateCallBySID(ctx, ev.ID, callPatch); err != nil {
		log.Error("update call failed", "error", err)
	}

	status := store.RecordingCompleted
	recPatch := store.RecordingPatch{
		Status:   &status,
		EndTime:  &now,
		Duration: &details.Duration,
		URL:      &details.URL,
	}
	if err := r.store.UpdateRecording(ctx, ev.RecordingID, recPatch); err != nil {
		log.Error("update recording failed", "recording_sid", ev.RecordingID, "error", err)
	}
	return r.campaignOf(ctx, ev.ID)
}

func (r *Reconciler) campaignOf(ctx context.Context, callSID string) string {
	row, err := r.store.FindCallBySID(ctx, callSID)
	if err != nil {
		return ""
	}
	return row.CampaignID
}

func callEvent(ev telephony.LifecycleEvent, now time.Time) store.CallEvent {
	details := map[string]any{}
	if ev.Status != "" {
		details["status"] = ev.Status
	}
	if ev.Duration != 0 {
		details["duration"] = ev.Duration
	}
	if ev.RecordingID != "" {
		details["recordingSid"] = ev.RecordingID
	}
	return store.CallEvent{Type: ev.Type, Timestamp: now, Details: details}
}

func eventPayload(ev telephony.LifecycleEvent) map[string]any {
	payload := map[string]any{}
	if ev.Status != "" {
		payload["status"] = ev.Status
	}
	if ev.Duration != 0 {
		payload["duration"] = ev.Duration
	}
	if ev.From != "" {
		payload["from"] = ev.From
	}
	if ev.To != "" {
		payload["to"] = ev.To
	}
	if ev.RecordingID != "" {
		payload["recordingSid"] = ev.RecordingID
	}
	return payload
}
