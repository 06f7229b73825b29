package reconcile_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/KremlinV1/11Wire-sub002/internal/events"
	"github.com/KremlinV1/11Wire-sub002/internal/reconcile"
	"github.com/KremlinV1/11Wire-sub002/internal/store"
	"github.com/KremlinV1/11Wire-sub002/internal/store/memstore"
	"github.com/KremlinV1/11Wire-sub002/internal/telephony"
	telmock "github.com/KremlinV1/11Wire-sub002/internal/telephony/mock"
)

type completerMock struct {
	mu    sync.Mutex
	calls []struct {
		callSID string
		status  store.CallStatus
	}
	err error
}

func (c *completerMock) OnCallCompleted(_ context.Context, callSID string, status store.CallStatus, _ map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, struct {
		callSID string
		status  store.CallStatus
	}{callSID, status})
	return c.err
}

func (c *completerMock) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type closerMock struct {
	mu      sync.Mutex
	removed []string
}

func (c *closerMock) Remove(callSID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = append(c.removed, callSID)
}

type fixture struct {
	store      *memstore.Store
	telephony  *telmock.Provider
	bus        *events.Bus
	scheduler  *completerMock
	sessions   *closerMock
	reconciler *reconcile.Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     memstore.New(),
		telephony: telmock.New(),
		bus:       events.NewBus(nil),
		scheduler: &completerMock{},
		sessions:  &closerMock{},
	}
	f.reconciler = reconcile.New(f.store, f.telephony, f.bus, f.scheduler, f.sessions, nil)
	return f
}

func TestReconciler_CallStartedCreatesRow(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	f.reconciler.Handle(ctx, telephony.LifecycleEvent{
		Type: telephony.EventCallStarted, ID: "CA1",
		Direction: "outbound", From: "+15550002", To: "+15550001",
	})

	row, err := f.store.FindCallBySID(ctx, "CA1")
	if err != nil {
		t.Fatalf("FindCallBySID() error = %v", err)
	}
	if row.Status != store.CallInProgress {
		t.Errorf("status = %q, want in-progress", row.Status)
	}
	if row.From != "+15550002" || row.To != "+15550001" {
		t.Errorf("numbers not recorded: %+v", row)
	}
	if row.StartTime.IsZero() {
		t.Error("start time not set")
	}
	if len(row.Events) != 1 || row.Events[0].Type != "call.started" {
		t.Errorf("events = %+v, want one call.started entry", row.Events)
	}
}

func TestReconciler_CallStartedUpdatesExistingRow(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	seed := &store.CallRow{
		CallSID: "CA1", CampaignID: "c-1", Status: store.CallInitiated,
		StartTime: time.Now(),
	}
	if err := f.store.CreateCall(ctx, seed); err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}

	f.reconciler.Handle(ctx, telephony.LifecycleEvent{Type: telephony.EventCallStarted, ID: "CA1"})

	row, _ := f.store.FindCallBySID(ctx, "CA1")
	if row.Status != store.CallInProgress {
		t.Errorf("status = %q, want in-progress", row.Status)
	}
	if row.CampaignID != "c-1" {
		t.Errorf("campaign id lost: %q", row.CampaignID)
	}
	if len(row.Events) != 1 {
		t.Errorf("events = %d, want 1 appended", len(row.Events))
	}
}

func TestReconciler_CallAnswered(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.reconciler.Handle(ctx, telephony.LifecycleEvent{Type: telephony.EventCallStarted, ID: "CA1"})

	f.reconciler.Handle(ctx, telephony.LifecycleEvent{Type: telephony.EventCallAnswered, ID: "CA1"})

	row, _ := f.store.FindCallBySID(ctx, "CA1")
	if row.Status != store.CallAnswered {
		t.Errorf("status = %q, want answered", row.Status)
	}
	if row.AnswerTime == nil {
		t.Error("answer time not set")
	}
}

func TestReconciler_CallEnded(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	seed := &store.CallRow{
		CallSID: "CA1", CampaignID: "c-1", Status: store.CallAnswered,
		StartTime: time.Now(),
	}
	if err := f.store.CreateCall(ctx, seed); err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}

	f.reconciler.Handle(ctx, telephony.LifecycleEvent{
		Type: telephony.EventCallEnded, ID: "CA1", Status: "busy", Duration: 17,
	})

	row, _ := f.store.FindCallBySID(ctx, "CA1")
	if row.Status != store.CallBusy {
		t.Errorf("status = %q, want busy", row.Status)
	}
	if row.EndTime == nil {
		t.Error("end time not set")
	}
	if row.Duration != 17 {
		t.Errorf("duration = %d, want 17", row.Duration)
	}

	if f.scheduler.count() != 1 {
		t.Fatalf("scheduler notified %d times, want 1", f.scheduler.count())
	}
	if got := f.scheduler.calls[0]; got.callSID != "CA1" || got.status != store.CallBusy {
		t.Errorf("scheduler call = %+v", got)
	}
	if len(f.sessions.removed) != 1 || f.sessions.removed[0] != "CA1" {
		t.Errorf("bridge session not torn down: %v", f.sessions.removed)
	}
}

func TestReconciler_CallEndedDefaultsToCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.reconciler.Handle(ctx, telephony.LifecycleEvent{Type: telephony.EventCallStarted, ID: "CA1"})

	f.reconciler.Handle(ctx, telephony.LifecycleEvent{Type: telephony.EventCallEnded, ID: "CA1"})

	row, _ := f.store.FindCallBySID(ctx, "CA1")
	if row.Status != store.CallCompleted {
		t.Errorf("status = %q, want completed", row.Status)
	}
	// No campaign on the row, so the scheduler is not involved.
	if f.scheduler.count() != 0 {
		t.Errorf("scheduler notified %d times, want 0", f.scheduler.count())
	}
}

func TestReconciler_RecordingLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()
	f.reconciler.Handle(ctx, telephony.LifecycleEvent{Type: telephony.EventCallStarted, ID: "CA1"})

	f.telephony.Recordings["RE1"] = &telephony.Recording{
		ID: "RE1", CallID: "CA1", Status: "completed",
		Duration: 17, URL: "https://recordings.example.com/RE1.wav",
	}

	f.reconciler.Handle(ctx, telephony.LifecycleEvent{
		Type: telephony.EventRecordingStarted, ID: "CA1", RecordingID: "RE1",
	})
	rec, err := f.store.FindRecording("RE1")
	if err != nil {
		t.Fatalf("recording not created: %v", err)
	}
	if rec.Status != store.RecordingInProgress {
		t.Errorf("recording status = %q, want in-progress", rec.Status)
	}

	f.reconciler.Handle(ctx, telephony.LifecycleEvent{
		Type: telephony.EventRecordingEnded, ID: "CA1", RecordingID: "RE1",
	})

	row, _ := f.store.FindCallBySID(ctx, "CA1")
	if row.RecordingURL != "https://recordings.example.com/RE1.wav" {
		t.Errorf("call recording url = %q", row.RecordingURL)
	}
	if row.RecordingSID != "RE1" {
		t.Errorf("call recording sid = %q", row.RecordingSID)
	}

	rec, _ = f.store.FindRecording("RE1")
	if rec.Status != store.RecordingCompleted {
		t.Errorf("recording status = %q, want completed", rec.Status)
	}
	if rec.Duration != 17 || rec.URL == "" || rec.EndTime == nil {
		t.Errorf("recording not resolved: %+v", rec)
	}

	if got := len(row.Events); got != 3 {
		t.Errorf("call has %d events, want 3 (started, recording.started, recording.ended)", got)
	}
}

func TestReconciler_RepublishesInOrderWithCampaignScope(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	seed := &store.CallRow{
		CallSID: "CA1", CampaignID: "c-1", Status: store.CallInitiated,
		StartTime: time.Now(),
	}
	if err := f.store.CreateCall(ctx, seed); err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}

	var got []string
	for _, typ := range []string{events.CallStarted, events.CallAnswered, events.CallEnded} {
		f.bus.Subscribe(typ, func(_ context.Context, ev events.Event) {
			got = append(got, ev.Type)
		}, events.Filter{})
	}
	var scoped []string
	f.bus.Subscribe(events.CallEnded, func(_ context.Context, ev events.Event) {
		scoped = append(scoped, ev.CallSID)
	}, events.Filter{CampaignID: "c-1"})

	f.reconciler.Handle(ctx, telephony.LifecycleEvent{Type: telephony.EventCallStarted, ID: "CA1"})
	f.reconciler.Handle(ctx, telephony.LifecycleEvent{Type: telephony.EventCallAnswered, ID: "CA1"})
	f.reconciler.Handle(ctx, telephony.LifecycleEvent{Type: telephony.EventCallEnded, ID: "CA1", Duration: 17})

	want := []string{"call.started", "call.answered", "call.ended"}
	if len(got) != len(want) {
		t.Fatalf("republished %d events, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
	if len(scoped) != 1 || scoped[0] != "CA1" {
		t.Errorf("campaign-scoped delivery = %v, want [CA1]", scoped)
	}
}

func TestReconciler_UnknownEventIsDropped(t *testing.T) {
	f := newFixture(t)

	var published int
	f.bus.Subscribe("call.exploded", func(_ context.Context, _ events.Event) {
		published++
	}, events.Filter{})

	f.reconciler.Handle(t.Context(), telephony.LifecycleEvent{Type: "call.exploded", ID: "CA1"})
	if published != 0 {
		t.Error("unknown event type was republished")
	}
}
