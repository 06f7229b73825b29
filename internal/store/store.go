package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// ErrNotClaimable is returned by ClaimForDispatch when the entry exists but
// is no longer in a dispatchable state (another claimer won, or the entry
// was cancelled between selection and claim).
var ErrNotClaimable = errors.New("store: queue entry not claimable")

// Store is the persistence abstraction of the dialer. All methods are safe
// for concurrent use. Single-row updates are atomic.
//
// Queue listing order is stable: priority DESC, then scheduledTime ASC.
type Store interface {
	// --- Calls ---

	// CreateCall inserts a new call row.
	CreateCall(ctx context.Context, row *CallRow) error

	// UpdateCallBySID applies patch to the call with the given SID.
	// Returns ErrNotFound when no such call exists.
	UpdateCallBySID(ctx context.Context, callSID string, patch CallPatch) error

	// FindCallBySID returns the call with the given SID or ErrNotFound.
	FindCallBySID(ctx context.Context, callSID string) (*CallRow, error)

	// --- Queue ---

	// CreateQueueEntry inserts a new queue entry.
	CreateQueueEntry(ctx context.Context, entry *QueueEntry) error

	// UpdateQueueEntry applies patch to the entry with the given id.
	// Returns ErrNotFound when no such entry exists.
	UpdateQueueEntry(ctx context.Context, id string, patch QueuePatch) error

	// ClaimForDispatch atomically transitions an entry from
	// scheduled/retry to in-progress, increments attempts, and stamps the
	// start time. Returns the updated entry, or ErrNotClaimable when the
	// entry is no longer dispatchable. This is the only place attempts
	// are incremented.
	ClaimForDispatch(ctx context.Context, id string, now time.Time) (*QueueEntry, error)

	// FindQueueEntries returns entries matching filter in stable order
	// (priority DESC, scheduledTime ASC), at most limit (0 = no limit).
	FindQueueEntries(ctx context.Context, filter Filter, limit int) ([]*QueueEntry, error)

	// CountQueueEntries returns the number of entries matching filter.
	CountQueueEntries(ctx context.Context, filter Filter) (int, error)

	// FindQueueEntryByCallSID returns the entry whose current attempt
	// placed the call with the given SID, or ErrNotFound.
	FindQueueEntryByCallSID(ctx context.Context, callSID string) (*QueueEntry, error)

	// Aggregate computes op over field for all queue entries of a campaign.
	// AggCount ignores field.
	Aggregate(ctx context.Context, campaignID, field string, op AggregateOp) (float64, error)

	// --- Campaigns and contacts (read-only to the core) ---

	// GetCampaign returns the campaign with the given id or ErrNotFound.
	GetCampaign(ctx context.Context, id string) (*Campaign, error)

	// ListActiveCampaigns returns all campaigns with status active.
	ListActiveCampaigns(ctx context.Context) ([]*Campaign, error)

	// GetContacts returns the contacts with the given ids. Unknown ids are
	// skipped; the caller decides whether a partial result is an error.
	GetContacts(ctx context.Context, ids []string) ([]*Contact, error)

	// --- Recordings ---

	// CreateRecording inserts a new call recording.
	CreateRecording(ctx context.Context, rec *CallRecording) error

	// UpdateRecording applies patch to the recording with the given SID.
	// Returns ErrNotFound when no such recording exists.
	UpdateRecording(ctx context.Context, recordingSID string, patch RecordingPatch) error
}
