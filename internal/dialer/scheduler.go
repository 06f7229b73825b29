// Package dialer implements the outbound call scheduler: batching contacts
// into the call queue, pacing dispatch against per-campaign concurrency
// limits, and planning retries for failed attempts.
package dialer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/KremlinV1/11Wire-sub002/internal/observe"
	"github.com/KremlinV1/11Wire-sub002/internal/store"
	"github.com/KremlinV1/11Wire-sub002/internal/telephony"
)

// Batch option defaults.
const (
	DefaultMaxConcurrent     = 5
	DefaultCallDelayMs       = 2000
	DefaultMaxRetries        = 3
	DefaultRetryDelayMinutes = 60

	defaultTickInterval = 5 * time.Second
)

// BatchOptions tune one scheduled batch. Zero values fall back to the
// defaults above. CallDelayMs and UseAMD are pointers so an explicit zero
// delay or disabled machine detection survives defaulting.
type BatchOptions struct {
	MaxConcurrent     int
	CallDelayMs       *int
	MaxRetries        int
	RetryDelayMinutes int
	Priority          int
	UseAMD            *bool
	RetryOnMachine    bool
}

func (o BatchOptions) withDefaults() BatchOptions {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	if o.CallDelayMs == nil || *o.CallDelayMs < 0 {
		d := DefaultCallDelayMs
		o.CallDelayMs = &d
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryDelayMinutes <= 0 {
		o.RetryDelayMinutes = DefaultRetryDelayMinutes
	}
	if o.UseAMD == nil {
		t := true
		o.UseAMD = &t
	}
	return o
}

// BatchResult reports the outcome of ScheduleBatch.
type BatchResult struct {
	ScheduledCalls int
	QueuedCalls    int
	Options        BatchOptions
}

// ProcessResult reports the outcome of one ProcessQueue pass.
type ProcessResult struct {
	Processed int
	Initiated int
	Retries   int
	Failed    int
}

func (r *ProcessResult) add(other ProcessResult) {
	r.Processed += other.Processed
	r.Initiated += other.Initiated
	r.Retries += other.Retries
	r.Failed += other.Failed
}

// CancelRequest selects which queue entries to cancel. Set fields combine
// conjunctively; at least one must be set.
type CancelRequest struct {
	CampaignID string
	ContactIDs []string
	QueueIDs   []string
}

// Scheduler drives outbound dialing. It is the single writer of queue
// entry transitions; per-campaign mutexes serialise state changes while
// telephony I/O always happens outside the lock.
type Scheduler struct {
	store     store.Store
	telephony telephony.Provider
	log       *slog.Logger
	metrics   *observe.Metrics

	// callbackURL is handed to the provider for lifecycle webhooks.
	callbackURL     string
	defaultCallerID string
	tickInterval    time.Duration
	now             func() time.Time

	mu        sync.Mutex
	campaigns map[string]*sync.Mutex
}

// SchedulerOption customises a [Scheduler].
type SchedulerOption func(*Scheduler)

// WithTickInterval sets the period of the background dispatch loop.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// WithDefaultCallerID sets the caller id used when neither the entry nor
// the campaign carries one.
func WithDefaultCallerID(id string) SchedulerOption {
	return func(s *Scheduler) {
		s.defaultCallerID = id
	}
}

// WithClock replaces the scheduler clock, for tests.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler creates a scheduler. callbackURL is the public endpoint the
// telephony provider posts lifecycle events to.
func NewScheduler(st store.Store, tel telephony.Provider, callbackURL string, log *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		store:        st,
		telephony:    tel,
		log:          log,
		metrics:      observe.DefaultMetrics(),
		callbackURL:  callbackURL,
		tickInterval: defaultTickInterval,
		now:          time.Now,
		campaigns:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) campaignLock(campaignID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.campaigns[campaignID]
	if !ok {
		lock = &sync.Mutex{}
		s.campaigns[campaignID] = lock
	}
	return lock
}

// ScheduleBatch enqueues one call per contact, spaced CallDelayMs apart,
// and immediately runs one dispatch pass for responsiveness.
func (s *Scheduler) ScheduleBatch(ctx context.Context, campaignID string, contactIDs []string, opts BatchOptions) (*BatchResult, error) {
	campaign, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("dialer: schedule batch: campaign %q: %w", campaignID, err)
	}
	opts = opts.withDefaults()

	contacts, err := s.store.GetContacts(ctx, contactIDs)
	if err != nil {
		return nil, fmt.Errorf("dialer: schedule batch: load contacts: %w", err)
	}

	now := s.now()
	delayMs := *opts.CallDelayMs
	var created int
	for i, contact := range contacts {
		entry := &store.QueueEntry{
			ID:             uuid.NewString(),
			CampaignID:     campaignID,
			ContactID:      contact.ID,
			Phone:          contact.Phone,
			CallerID:       campaign.CallerID,
			PhoneNumberID:  campaign.PhoneNumberID,
			Status:         store.QueueScheduled,
			Priority:       opts.Priority,
			ScheduledTime:  now.Add(time.Duration(i*delayMs) * time.Millisecond),
			Attempts:       0,
			MaxAttempts:    opts.MaxRetries,
			UseAMD:         *opts.UseAMD,
			RetryOnMachine: opts.RetryOnMachine,
			Metadata:       map[string]any{"name": contact.Name, "email": contact.Email},
		}
		if err := s.store.CreateQueueEntry(ctx, entry); err != nil {
			return nil, fmt.Errorf("dialer: schedule batch: enqueue contact %q: %w", contact.ID, err)
		}
		created++
	}

	queued, err := s.store.CountQueueEntries(ctx, store.Filter{
		store.Eq(store.FieldCampaignID, campaignID),
		store.In(store.FieldStatus, store.QueueScheduled, store.QueueRetry),
	})
	if err != nil {
		s.log.Warn("counting queued calls failed", "campaign_id", campaignID, "error", err)
	}
	s.metrics.QueueDepth.Record(ctx, int64(queued),
		metric.WithAttributes(observe.Attr("campaign_id", campaignID)))

	if _, err := s.processCampaignByID(ctx, campaignID, opts.MaxConcurrent); err != nil {
		s.log.Warn("initial dispatch pass failed", "campaign_id", campaignID, "error", err)
	}

	return &BatchResult{ScheduledCalls: created, QueuedCalls: queued, Options: opts}, nil
}

// ProcessQueue runs one dispatch pass. With an empty campaignID it covers
// every active campaign.
func (s *Scheduler) ProcessQueue(ctx context.Context, campaignID string) (*ProcessResult, error) {
	ctx, span := observe.StartSpan(ctx, "dialer.process_queue")
	defer span.End()

	if campaignID != "" {
		return s.processCampaignByID(ctx, campaignID, 0)
	}

	campaigns, err := s.store.ListActiveCampaigns(ctx)
	if err != nil {
		return nil, fmt.Errorf("dialer: process queue: list campaigns: %w", err)
	}

	total := &ProcessResult{}
	for _, campaign := range campaigns {
		res, err := s.processCampaign(ctx, campaign, 0)
		if err != nil {
			s.log.Error("dispatch pass failed", "campaign_id", campaign.ID, "error", err)
			continue
		}
		total.add(*res)
	}
	return total, nil
}

func (s *Scheduler) processCampaignByID(ctx context.Context, campaignID string, maxConcurrent int) (*ProcessResult, error) {
	campaign, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("dialer: process queue: campaign %q: %w", campaignID, err)
	}
	return s.processCampaign(ctx, campaign, maxConcurrent)
}

// processCampaign claims up to the campaign's free concurrency slots under
// the campaign lock, then places the calls with the lock released.
func (s *Scheduler) processCampaign(ctx context.Context, campaign *store.Campaign, maxConcurrent int) (*ProcessResult, error) {
	result := &ProcessResult{}
	now := s.now()

	if !withinCallHours(campaign, now) {
		return result, nil
	}

	limit := campaign.MaxConcurrentCalls
	if limit <= 0 {
		limit = DefaultMaxConcurrent
	}
	if maxConcurrent > 0 && maxConcurrent < limit {
		limit = maxConcurrent
	}

	lock := s.campaignLock(campaign.ID)
	lock.Lock()

	claimed, err := s.claimDue(ctx, campaign.ID, limit, now)
	lock.Unlock()
	if err != nil {
		return nil, err
	}

	for _, entry := range claimed {
		result.Processed++
		if err := s.placeCall(ctx, entry, campaign); err != nil {
			s.log.Warn("call placement failed",
				"queue_id", entry.ID, "campaign_id", campaign.ID, "error", err)
			if failErr := s.handleAttemptFailure(ctx, entry, campaign, store.CallFailed, err.Error(), result); failErr != nil {
				s.log.Error("failure handling failed", "queue_id", entry.ID, "error", failErr)
			}
			continue
		}
		result.Initiated++
	}
	return result, nil
}

// claimDue selects and atomically claims dispatchable entries up to the
// campaign's free slots. Called with the campaign lock held; performs no
// telephony I/O.
func (s *Scheduler) claimDue(ctx context.Context, campaignID string, limit int, now time.Time) ([]*store.QueueEntry, error) {
	inProgress, err := s.store.CountQueueEntries(ctx, store.Filter{
		store.Eq(store.FieldCampaignID, campaignID),
		store.Eq(store.FieldStatus, store.QueueInProgress),
	})
	if err != nil {
		return nil, fmt.Errorf("dialer: count in-progress: %w", err)
	}

	slots := limit - inProgress
	if slots <= 0 {
		return nil, nil
	}

	candidates, err := s.store.FindQueueEntries(ctx, store.Filter{
		store.Eq(store.FieldCampaignID, campaignID),
		store.In(store.FieldStatus, store.QueueScheduled, store.QueueRetry),
		store.Lte(store.FieldScheduledTime, now),
		store.LtField(store.FieldAttempts, store.FieldMaxAttempts),
	}, slots)
	if err != nil {
		return nil, fmt.Errorf("dialer: find dispatchable entries: %w", err)
	}

	claimed := make([]*store.QueueEntry, 0, len(candidates))
	for _, candidate := range candidates {
		entry, err := s.store.ClaimForDispatch(ctx, candidate.ID, now)
		if err != nil {
			// Lost to a concurrent claimer or no longer eligible.
			s.log.Debug("claim skipped", "queue_id", candidate.ID, "error", err)
			continue
		}
		claimed = append(claimed, entry)
	}
	return claimed, nil
}

// placeCall performs the telephony RPC for one claimed entry and persists
// the resulting call sid.
func (s *Scheduler) placeCall(ctx context.Context, entry *store.QueueEntry, campaign *store.Campaign) error {
	from := entry.CallerID
	if from == "" {
		from = campaign.CallerID
	}
	if from == "" {
		from = s.defaultCallerID
	}

	call, err := s.telephony.PlaceCall(ctx, telephony.PlaceCallRequest{
		To:            entry.Phone,
		From:          from,
		WebhookURL:    s.callbackURL,
		PhoneNumberID: entry.PhoneNumberID,
		UseAMD:        entry.UseAMD,
		Metadata: map[string]string{
			"campaignId": entry.CampaignID,
			"contactId":  entry.ContactID,
			"queueId":    entry.ID,
		},
	})
	if err != nil {
		return err
	}

	patch := store.QueuePatch{CallSID: &call.ID}
	if err := s.store.UpdateQueueEntry(ctx, entry.ID, patch); err != nil {
		return fmt.Errorf("persist call sid %q: %w", call.ID, err)
	}

	row := &store.CallRow{
		CallSID:    call.ID,
		CampaignID: entry.CampaignID,
		ContactID:  entry.ContactID,
		Direction:  store.DirectionOutbound,
		Status:     store.CallInitiated,
		From:       from,
		To:         entry.Phone,
		StartTime:  s.now(),
		Metadata:   map[string]any{"queueId": entry.ID},
	}
	if err := s.store.CreateCall(ctx, row); err != nil {
		s.log.Error("create call row failed", "call_sid", call.ID, "error", err)
	}

	s.metrics.RecordCallDispatched(ctx, entry.CampaignID)
	s.log.Info("call placed",
		"call_sid", call.ID, "queue_id", entry.ID,
		"campaign_id", entry.CampaignID, "to", entry.Phone, "attempt", entry.Attempts)
	return nil
}

// handleAttemptFailure routes a failed attempt through the retry planner.
// The attempt was already counted at claim time, so this only transitions
// state.
func (s *Scheduler) handleAttemptFailure(ctx context.Context, entry *store.QueueEntry, campaign *store.Campaign, status store.CallStatus, details string, result *ProcessResult) error {
	if shouldRetry(status, entry) {
		result.Retries++
		return s.scheduleRetry(ctx, entry, campaign, status, details)
	}
	result.Failed++
	return s.finalize(ctx, entry, status, details)
}

// CancelScheduledCalls transitions matching scheduled and retry entries to
// cancelled. In-progress calls are left alone; ending a live call goes
// through telephony.
func (s *Scheduler) CancelScheduledCalls(ctx context.Context, req CancelRequest) (int, error) {
	if req.CampaignID == "" && len(req.ContactIDs) == 0 && len(req.QueueIDs) == 0 {
		return 0, fmt.Errorf("dialer: cancel: no selector given")
	}

	filter := store.Filter{
		store.In(store.FieldStatus, store.QueueScheduled, store.QueueRetry),
	}
	if req.CampaignID != "" {
		filter = append(filter, store.Eq(store.FieldCampaignID, req.CampaignID))
	}
	if len(req.ContactIDs) > 0 {
		filter = append(filter, store.In(store.FieldContactID, toAny(req.ContactIDs)...))
	}
	if len(req.QueueIDs) > 0 {
		filter = append(filter, store.In(store.FieldID, toAny(req.QueueIDs)...))
	}

	entries, err := s.store.FindQueueEntries(ctx, filter, 0)
	if err != nil {
		return 0, fmt.Errorf("dialer: cancel: find entries: %w", err)
	}

	now := s.now()
	cancelled := store.QueueCancelled
	var n int
	for _, entry := range entries {
		patch := store.QueuePatch{Status: &cancelled, EndTime: &now}
		if err := s.store.UpdateQueueEntry(ctx, entry.ID, patch); err != nil {
			s.log.Error("cancel failed", "queue_id", entry.ID, "error", err)
			continue
		}
		n++
	}
	s.log.Info("scheduled calls cancelled", "count", n, "campaign_id", req.CampaignID)
	return n, nil
}

// OnCallCompleted is the reconciler's entry point for terminal call
// outcomes. Idempotent: only an in-progress entry is transitioned, so a
// redelivered event is a no-op.
func (s *Scheduler) OnCallCompleted(ctx context.Context, callSID string, status store.CallStatus, details map[string]any) error {
	entry, err := s.store.FindQueueEntryByCallSID(ctx, callSID)
	if err != nil {
		// Calls placed outside any campaign have no queue entry.
		s.log.Debug("no queue entry for completed call", "call_sid", callSID)
		return nil
	}
	if entry.Status != store.QueueInProgress {
		return nil
	}

	campaign, err := s.store.GetCampaign(ctx, entry.CampaignID)
	if err != nil {
		return fmt.Errorf("dialer: completion of %q: campaign %q: %w", callSID, entry.CampaignID, err)
	}

	lock := s.campaignLock(entry.CampaignID)
	lock.Lock()
	defer lock.Unlock()

	detailsText := fmt.Sprintf("call %s ended with status %s", callSID, status)
	if shouldRetry(status, entry) {
		return s.scheduleRetry(ctx, entry, campaign, status, detailsText)
	}
	return s.finalize(ctx, entry, status, detailsText)
}

// Run drives ProcessQueue on a fixed tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	s.log.Info("scheduler started", "tick", s.tickInterval)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.ProcessQueue(ctx, ""); err != nil {
				s.log.Error("dispatch tick failed", "error", err)
			}
		}
	}
}

// withinCallHours reports whether now falls inside the campaign's daily
// dialing window. Windows may wrap past midnight.
func withinCallHours(campaign *store.Campaign, now time.Time) bool {
	if campaign.CallHoursStart == "" || campaign.CallHoursEnd == "" {
		return true
	}
	start, err1 := parseClock(campaign.CallHoursStart)
	end, err2 := parseClock(campaign.CallHoursEnd)
	if err1 != nil || err2 != nil {
		return true
	}

	minute := now.Hour()*60 + now.Minute()
	if start <= end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func toAny[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
