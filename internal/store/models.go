// Package store defines the persistent data model of the dialer and the
// [Store] abstraction over it. Two implementations exist: a PostgreSQL store
// backed by pgx (internal/store/postgres) and an in-memory store for tests
// and single-process development (internal/store/memstore).
package store

import "time"

// CampaignStatus is the lifecycle state of a campaign. Campaigns are created
// and driven externally; the scheduler only reads them.
type CampaignStatus string

const (
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

// Campaign holds the fields the dialer core reads. Immutable during a run;
// status transitions are observed between scheduler cycles.
type Campaign struct {
	ID                     string
	Status                 CampaignStatus
	CallerID               string
	PhoneNumberID          string
	MaxConcurrentCalls     int     // default 5
	RetryDelayMinutes      int     // default 60
	RetryExponentialFactor float64 // default 1.5
	WebhookURL             string

	// CallHoursStart/End bound dialing to a daily window in "HH:MM" local
	// time. Both empty means no gating.
	CallHoursStart string
	CallHoursEnd   string
}

// Contact is read-only to the core; display fields are copied into queue
// metadata at enqueue time.
type Contact struct {
	ID    string
	Phone string // E.164
	Name  string
	Email string
}

// QueueStatus is the state of a queue entry in the dispatch state machine.
type QueueStatus string

const (
	QueueScheduled  QueueStatus = "scheduled"
	QueueInProgress QueueStatus = "in-progress"
	QueueRetry      QueueStatus = "retry"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
	QueueCancelled  QueueStatus = "cancelled"
)

// Terminal reports whether s is a final state. Terminal entries are never
// mutated again.
func (s QueueStatus) Terminal() bool {
	switch s {
	case QueueCompleted, QueueFailed, QueueCancelled:
		return true
	}
	return false
}

// QueueEntry is the scheduler's unit of work: one contact within one
// campaign, possibly retried several times, at most one call SID per attempt.
//
// Invariants: attempts ≤ maxAttempts; in-progress entries carry a call SID
// and start time; terminal entries carry an end time.
type QueueEntry struct {
	ID            string
	CampaignID    string
	ContactID     string
	Phone         string
	CallerID      string
	PhoneNumberID string
	Status        QueueStatus
	Priority      int // higher first
	ScheduledTime time.Time
	Attempts      int
	MaxAttempts   int
	UseAMD        bool

	// RetryOnMachine opts this entry into retrying calls answered by a
	// machine. Defaults to false.
	RetryOnMachine bool

	CallSID            string
	LastAttemptStatus  string
	LastAttemptTime    *time.Time
	LastAttemptDetails string
	StartTime          *time.Time
	EndTime            *time.Time
	Result             string
	ResultDetails      string
	Metadata           map[string]any
}

// CallStatus is the state of a placed call as reported by telephony.
type CallStatus string

const (
	CallInitiated  CallStatus = "initiated"
	CallInProgress CallStatus = "in-progress"
	CallAnswered   CallStatus = "answered"
	CallCompleted  CallStatus = "completed"
	CallBusy       CallStatus = "busy"
	CallNoAnswer   CallStatus = "no-answer"
	CallFailed     CallStatus = "failed"
	CallMachine    CallStatus = "machine"
)

// CallEvent is one entry in a call's append-only event log, kept inside the
// call's metadata.
type CallEvent struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// Direction of a call relative to this service.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// CallRow is the durable record of a single placed call, keyed by the
// provider-assigned call SID.
type CallRow struct {
	CallSID      string
	CampaignID   string
	ContactID    string
	Direction    Direction
	Status       CallStatus
	From         string
	To           string
	StartTime    time.Time
	AnswerTime   *time.Time
	EndTime      *time.Time
	Duration     int // seconds
	RecordingURL string
	RecordingSID string
	AMDResult    string
	AMDDuration  int

	// Metadata is opaque except for Events, which the reconciler appends to.
	Metadata map[string]any
	Events   []CallEvent
}

// RecordingStatus is the state of a call recording.
type RecordingStatus string

const (
	RecordingInProgress RecordingStatus = "in-progress"
	RecordingCompleted  RecordingStatus = "completed"
)

// CallRecording tracks one recording of one call.
type CallRecording struct {
	RecordingSID string
	CallSID      string
	Status       RecordingStatus
	StartTime    time.Time
	EndTime      *time.Time
	Duration     int
	URL          string
}

// QueuePatch is a partial update of a queue entry. Nil fields are left
// untouched. Applied atomically by both store implementations.
type QueuePatch struct {
	Status             *QueueStatus
	ScheduledTime      *time.Time
	CallSID            *string
	LastAttemptStatus  *string
	LastAttemptTime    *time.Time
	LastAttemptDetails *string
	StartTime          *time.Time
	EndTime            *time.Time
	Result             *string
	ResultDetails      *string
}

// CallPatch is a partial update of a call row. Nil fields are left untouched.
// AppendEvents are added to the end of the event log.
type CallPatch struct {
	Status       *CallStatus
	StartTime    *time.Time
	AnswerTime   *time.Time
	EndTime      *time.Time
	Duration     *int
	RecordingURL *string
	RecordingSID *string
	AMDResult    *string
	AMDDuration  *int
	AppendEvents []CallEvent
}

// RecordingPatch is a partial update of a call recording.
type RecordingPatch struct {
	Status   *RecordingStatus
	EndTime  *time.Time
	Duration *int
	URL      *string
}
