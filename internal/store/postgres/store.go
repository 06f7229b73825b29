package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KremlinV1/11Wire-sub002/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store is the PostgreSQL-backed implementation of [store.Store]. All
// operations are safe for concurrent use; single-row updates are single
// UPDATE statements and therefore atomic.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, and runs [Migrate] to ensure all required
// tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping probes the database connection. Used by the readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// --- Calls ---

const callColumns = `call_sid, campaign_id, contact_id, direction, status,
	from_number, to_number, start_time, answer_time, end_time, duration,
	recording_url, recording_sid, amd_result, amd_duration, metadata, events`

func (s *Store) CreateCall(ctx context.Context, row *store.CallRow) error {
	meta, events, err := marshalCallJSON(row)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO call_logs (`+callColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		row.CallSID, row.CampaignID, row.ContactID, row.Direction, row.Status,
		row.From, row.To, row.StartTime, row.AnswerTime, row.EndTime, row.Duration,
		row.RecordingURL, row.RecordingSID, row.AMDResult, row.AMDDuration, meta, events,
	)
	if err != nil {
		return fmt.Errorf("postgres: create call %q: %w", row.CallSID, err)
	}
	return nil
}

func (s *Store) UpdateCallBySID(ctx context.Context, callSID string, patch store.CallPatch) error {
	set := []string{}
	args := []any{callSID}
	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.StartTime != nil {
		add("start_time", *patch.StartTime)
	}
	if patch.AnswerTime != nil {
		add("answer_time", patch.AnswerTime)
	}
	if patch.EndTime != nil {
		add("end_time", patch.EndTime)
	}
	if patch.Duration != nil {
		add("duration", *patch.Duration)
	}
	if patch.RecordingURL != nil {
		add("recording_url", *patch.RecordingURL)
	}
	if patch.RecordingSID != nil {
		add("recording_sid", *patch.RecordingSID)
	}
	if patch.AMDResult != nil {
		add("amd_result", *patch.AMDResult)
	}
	if patch.AMDDuration != nil {
		add("amd_duration", *patch.AMDDuration)
	}
	if len(patch.AppendEvents) > 0 {
		ev, err := json.Marshal(patch.AppendEvents)
		if err != nil {
			return fmt.Errorf("postgres: marshal events: %w", err)
		}
		args = append(args, ev)
		set = append(set, fmt.Sprintf("events = events || $%d::jsonb", len(args)))
	}
	if len(set) == 0 {
		return nil
	}

	tag, err := s.pool.Exec(ctx,
		"UPDATE call_logs SET "+strings.Join(set, ", ")+" WHERE call_sid = $1", args...)
	if err != nil {
		return fmt.Errorf("postgres: update call %q: %w", callSID, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) FindCallBySID(ctx context.Context, callSID string) (*store.CallRow, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+callColumns+" FROM call_logs WHERE call_sid = $1", callSID)
	return scanCall(row)
}

func scanCall(row pgx.Row) (*store.CallRow, error) {
	var (
		r          store.CallRow
		metaJSON   []byte
		eventsJSON []byte
	)
	err := row.Scan(
		&r.CallSID, &r.CampaignID, &r.ContactID, &r.Direction, &r.Status,
		&r.From, &r.To, &r.StartTime, &r.AnswerTime, &r.EndTime, &r.Duration,
		&r.RecordingURL, &r.RecordingSID, &r.AMDResult, &r.AMDDuration,
		&metaJSON, &eventsJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan call: %w", err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &r.Metadata); err != nil {
			return nil, fmt.Errorf("postgres: decode call metadata: %w", err)
		}
	}
	if len(eventsJSON) > 0 {
		if err := json.Unmarshal(eventsJSON, &r.Events); err != nil {
			return nil, fmt.Errorf("postgres: decode call events: %w", err)
		}
	}
	return &r, nil
}

func marshalCallJSON(row *store.CallRow) (meta, events []byte, err error) {
	m := row.Metadata
	if m == nil {
		m = map[string]any{}
	}
	meta, err = json.Marshal(m)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: marshal call metadata: %w", err)
	}
	ev := row.Events
	if ev == nil {
		ev = []store.CallEvent{}
	}
	events, err = json.Marshal(ev)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: marshal call events: %w", err)
	}
	return meta, events, nil
}

// --- Campaigns and contacts ---

const campaignColumns = `id, status, caller_id, phone_number_id,
	max_concurrent_calls, retry_delay_minutes, retry_exponential_factor,
	webhook_url, call_hours_start, call_hours_end`

func (s *Store) GetCampaign(ctx context.Context, id string) (*store.Campaign, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+campaignColumns+" FROM campaigns WHERE id = $1", id)
	return scanCampaign(row)
}

func (s *Store) ListActiveCampaigns(ctx context.Context) ([]*store.Campaign, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+campaignColumns+" FROM campaigns WHERE status = $1 ORDER BY id",
		store.CampaignActive)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active campaigns: %w", err)
	}
	defer rows.Close()

	var out []*store.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCampaign(row pgx.Row) (*store.Campaign, error) {
	var c store.Campaign
	err := row.Scan(
		&c.ID, &c.Status, &c.CallerID, &c.PhoneNumberID,
		&c.MaxConcurrentCalls, &c.RetryDelayMinutes, &c.RetryExponentialFactor,
		&c.WebhookURL, &c.CallHoursStart, &c.CallHoursEnd,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan campaign: %w", err)
	}
	return &c, nil
}

func (s *Store) GetContacts(ctx context.Context, ids []string) ([]*store.Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		"SELECT id, phone, name, email FROM contacts WHERE id = ANY($1)", ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: get contacts: %w", err)
	}
	defer rows.Close()

	var out []*store.Contact
	for rows.Next() {
		var c store.Contact
		if err := rows.Scan(&c.ID, &c.Phone, &c.Name, &c.Email); err != nil {
			return nil, fmt.Errorf("postgres: scan contact: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// --- Recordings ---

func (s *Store) CreateRecording(ctx context.Context, rec *store.CallRecording) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO call_recordings (recording_sid, call_sid, status, start_time, end_time, duration, url)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rec.RecordingSID, rec.CallSID, rec.Status, rec.StartTime, rec.EndTime, rec.Duration, rec.URL,
	)
	if err != nil {
		return fmt.Errorf("postgres: create recording %q: %w", rec.RecordingSID, err)
	}
	return nil
}

func (s *Store) UpdateRecording(ctx context.Context, recordingSID string, patch store.RecordingPatch) error {
	set := []string{}
	args := []any{recordingSID}
	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.EndTime != nil {
		add("end_time", patch.EndTime)
	}
	if patch.Duration != nil {
		add("duration", *patch.Duration)
	}
	if patch.URL != nil {
		add("url", *patch.URL)
	}
	if len(set) == 0 {
		return nil
	}

	tag, err := s.pool.Exec(ctx,
		"UPDATE call_recordings SET "+strings.Join(set, ", ")+" WHERE recording_sid = $1", args...)
	if err != nil {
		return fmt.Errorf("postgres: update recording %q: %w", recordingSID, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
