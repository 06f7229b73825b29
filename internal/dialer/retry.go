package dialer

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/KremlinV1/11Wire-sub002/internal/store"
)

// shouldRetry decides whether a finished attempt earns another one. A
// machine pickup only retries when the entry explicitly opts in.
func shouldRetry(status store.CallStatus, entry *store.QueueEntry) bool {
	if entry.Attempts >= entry.MaxAttempts {
		return false
	}
	switch status {
	case store.CallCompleted:
		return false
	case store.CallMachine:
		return entry.RetryOnMachine
	case store.CallBusy, store.CallNoAnswer, store.CallFailed:
		return true
	}
	return false
}

// retryDelay computes the backoff before the next attempt. Attempts has
// already been incremented for the attempt that just failed, so the first
// retry backs off by factor^1.
func retryDelay(campaign *store.Campaign, attempts int) time.Duration {
	baseMs := float64(campaign.RetryDelayMinutes) * 60_000
	factor := math.Pow(campaign.RetryExponentialFactor, float64(attempts))
	return time.Duration(baseMs*factor) * time.Millisecond
}

// scheduleRetry transitions the entry to retry with its next scheduled
// time pushed out by the exponential backoff.
func (s *Scheduler) scheduleRetry(ctx context.Context, entry *store.QueueEntry, campaign *store.Campaign, status store.CallStatus, details string) error {
	now := s.now()
	next := now.Add(retryDelay(campaign, entry.Attempts))

	newStatus := store.QueueRetry
	lastStatus := string(status)
	patch := store.QueuePatch{
		Status:             &newStatus,
		ScheduledTime:      &next,
		LastAttemptStatus:  &lastStatus,
		LastAttemptTime:    &now,
		LastAttemptDetails: &details,
	}
	if err := s.store.UpdateQueueEntry(ctx, entry.ID, patch); err != nil {
		return fmt.Errorf("dialer: schedule retry for entry %q: %w", entry.ID, err)
	}

	s.log.Info("retry scheduled",
		"queue_id", entry.ID, "campaign_id", entry.CampaignID,
		"attempt", entry.Attempts, "status", status, "next_attempt", next)
	return nil
}

// finalize transitions the entry to its terminal state and records the
// outcome.
func (s *Scheduler) finalize(ctx context.Context, entry *store.QueueEntry, status store.CallStatus, details string) error {
	now := s.now()
	terminal := store.QueueFailed
	if status == store.CallCompleted {
		terminal = store.QueueCompleted
	}

	result := string(status)
	lastStatus := string(status)
	patch := store.QueuePatch{
		Status:             &terminal,
		EndTime:            &now,
		Result:             &result,
		ResultDetails:      &details,
		LastAttemptStatus:  &lastStatus,
		LastAttemptTime:    &now,
		LastAttemptDetails: &details,
	}
	if err := s.store.UpdateQueueEntry(ctx, entry.ID, patch); err != nil {
		return fmt.Errorf("dialer: finalize entry %q: %w", entry.ID, err)
	}

	s.metrics.RecordCallOutcome(ctx, entry.CampaignID, string(status))
	s.log.Info("queue entry finished",
		"queue_id", entry.ID, "campaign_id", entry.CampaignID,
		"state", terminal, "result", result, "attempts", entry.Attempts)
	return nil
}
