package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/KremlinV1/11Wire-sub002/internal/store"
)

const queueColumns = `id, campaign_id, contact_id, phone, caller_id,
	phone_number_id, status, priority, scheduled_time, attempts, max_attempts,
	use_amd, retry_on_machine, call_sid, last_attempt_status, last_attempt_time,
	last_attempt_details, start_time, end_time, result, result_details, metadata`

// stableOrder is the listing order required of every queue query.
const stableOrder = " ORDER BY priority DESC, scheduled_time ASC"

func (s *Store) CreateQueueEntry(ctx context.Context, entry *store.QueueEntry) error {
	meta := entry.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("postgres: marshal queue metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO call_queue (`+queueColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		entry.ID, entry.CampaignID, entry.ContactID, entry.Phone, entry.CallerID,
		entry.PhoneNumberID, entry.Status, entry.Priority, entry.ScheduledTime,
		entry.Attempts, entry.MaxAttempts, entry.UseAMD, entry.RetryOnMachine,
		entry.CallSID, entry.LastAttemptStatus, entry.LastAttemptTime,
		entry.LastAttemptDetails, entry.StartTime, entry.EndTime,
		entry.Result, entry.ResultDetails, metaJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: create queue entry %q: %w", entry.ID, err)
	}
	return nil
}

func (s *Store) UpdateQueueEntry(ctx context.Context, id string, patch store.QueuePatch) error {
	set := []string{}
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.ScheduledTime != nil {
		add("scheduled_time", *patch.ScheduledTime)
	}
	if patch.CallSID != nil {
		add("call_sid", *patch.CallSID)
	}
	if patch.LastAttemptStatus != nil {
		add("last_attempt_status", *patch.LastAttemptStatus)
	}
	if patch.LastAttemptTime != nil {
		add("last_attempt_time", patch.LastAttemptTime)
	}
	if patch.LastAttemptDetails != nil {
		add("last_attempt_details", *patch.LastAttemptDetails)
	}
	if patch.StartTime != nil {
		add("start_time", patch.StartTime)
	}
	if patch.EndTime != nil {
		add("end_time", patch.EndTime)
	}
	if patch.Result != nil {
		add("result", *patch.Result)
	}
	if patch.ResultDetails != nil {
		add("result_details", *patch.ResultDetails)
	}
	if len(set) == 0 {
		return nil
	}

	tag, err := s.pool.Exec(ctx,
		"UPDATE call_queue SET "+strings.Join(set, ", ")+" WHERE id = $1", args...)
	if err != nil {
		return fmt.Errorf("postgres: update queue entry %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ClaimForDispatch is a single conditional UPDATE, so concurrent claimers
// race safely: exactly one wins, the rest get ErrNotClaimable.
func (s *Store) ClaimForDispatch(ctx context.Context, id string, now time.Time) (*store.QueueEntry, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE call_queue
		SET status = $2, attempts = attempts + 1, start_time = $3, last_attempt_time = $3
		WHERE id = $1
		  AND status IN ($4, $5)
		  AND attempts < max_attempts
		RETURNING `+queueColumns,
		id, store.QueueInProgress, now, store.QueueScheduled, store.QueueRetry,
	)
	entry, err := scanQueueEntry(row)
	if errors.Is(err, store.ErrNotFound) {
		// Distinguish a missing entry from a lost race.
		var exists bool
		if qerr := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM call_queue WHERE id = $1)", id).Scan(&exists); qerr != nil {
			return nil, fmt.Errorf("postgres: claim queue entry %q: %w", id, qerr)
		}
		if !exists {
			return nil, store.ErrNotFound
		}
		return nil, store.ErrNotClaimable
	}
	return entry, err
}

func (s *Store) FindQueueEntries(ctx context.Context, filter store.Filter, limit int) ([]*store.QueueEntry, error) {
	where, args, err := compileFilter(filter)
	if err != nil {
		return nil, err
	}
	query := "SELECT " + queueColumns + " FROM call_queue" + where + stableOrder
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: find queue entries: %w", err)
	}
	defer rows.Close()

	var out []*store.QueueEntry
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *Store) CountQueueEntries(ctx context.Context, filter store.Filter) (int, error) {
	where, args, err := compileFilter(filter)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM call_queue"+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count queue entries: %w", err)
	}
	return n, nil
}

func (s *Store) FindQueueEntryByCallSID(ctx context.Context, callSID string) (*store.QueueEntry, error) {
	if callSID == "" {
		return nil, store.ErrNotFound
	}
	row := s.pool.QueryRow(ctx,
		"SELECT "+queueColumns+" FROM call_queue WHERE call_sid = $1", callSID)
	return scanQueueEntry(row)
}

// aggregateFields are the queue columns allowed in numeric aggregates.
var aggregateFields = map[string]bool{
	store.FieldPriority:    true,
	store.FieldAttempts:    true,
	store.FieldMaxAttempts: true,
}

func (s *Store) Aggregate(ctx context.Context, campaignID, field string, op store.AggregateOp) (float64, error) {
	var expr string
	switch op {
	case store.AggCount:
		expr = "COUNT(*)"
	case store.AggSum, store.AggAvg, store.AggMin, store.AggMax:
		if !aggregateFields[field] {
			return 0, fmt.Errorf("postgres: field %q is not aggregatable", field)
		}
		expr = fmt.Sprintf("COALESCE(%s(%s), 0)", strings.ToUpper(string(op)), field)
	default:
		return 0, fmt.Errorf("postgres: unknown aggregate op %q", op)
	}

	var result float64
	err := s.pool.QueryRow(ctx,
		"SELECT "+expr+"::float8 FROM call_queue WHERE campaign_id = $1", campaignID,
	).Scan(&result)
	if err != nil {
		return 0, fmt.Errorf("postgres: aggregate %s(%s): %w", op, field, err)
	}
	return result, nil
}

// compileFilter turns a validated filter into a WHERE clause with positional
// arguments. Field names are restricted by Validate, so interpolating them
// into SQL is safe.
func compileFilter(filter store.Filter) (where string, args []any, err error) {
	if err := filter.Validate(); err != nil {
		return "", nil, err
	}
	if len(filter) == 0 {
		return "", nil, nil
	}

	var clauses []string
	for _, c := range filter {
		switch c.Op {
		case store.OpEq:
			args = append(args, normalize(c.Value))
			clauses = append(clauses, fmt.Sprintf("%s = $%d", c.Field, len(args)))
		case store.OpIn:
			vs, ok := c.Value.([]any)
			if !ok || len(vs) == 0 {
				return "", nil, fmt.Errorf("postgres: in condition on %q needs values", c.Field)
			}
			placeholders := make([]string, len(vs))
			for i, v := range vs {
				args = append(args, normalize(v))
				placeholders[i] = fmt.Sprintf("$%d", len(args))
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", c.Field, strings.Join(placeholders, ", ")))
		case store.OpLt, store.OpLte, store.OpGt, store.OpGte:
			args = append(args, normalize(c.Value))
			clauses = append(clauses, fmt.Sprintf("%s %s $%d", c.Field, sqlOp(c.Op), len(args)))
		case store.OpLtField:
			clauses = append(clauses, fmt.Sprintf("%s < %s", c.Field, c.Value))
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func sqlOp(op store.Op) string {
	switch op {
	case store.OpLt:
		return "<"
	case store.OpLte:
		return "<="
	case store.OpGt:
		return ">"
	case store.OpGte:
		return ">="
	}
	return "="
}

// normalize converts typed constants to their wire representation.
func normalize(v any) any {
	switch t := v.(type) {
	case store.QueueStatus:
		return string(t)
	case store.CallStatus:
		return string(t)
	}
	return v
}

func scanQueueEntry(row pgx.Row) (*store.QueueEntry, error) {
	var (
		e        store.QueueEntry
		metaJSON []byte
	)
	err := row.Scan(
		&e.ID, &e.CampaignID, &e.ContactID, &e.Phone, &e.CallerID,
		&e.PhoneNumberID, &e.Status, &e.Priority, &e.ScheduledTime,
		&e.Attempts, &e.MaxAttempts, &e.UseAMD, &e.RetryOnMachine,
		&e.CallSID, &e.LastAttemptStatus, &e.LastAttemptTime,
		&e.LastAttemptDetails, &e.StartTime, &e.EndTime,
		&e.Result, &e.ResultDetails, &metaJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: scan queue entry: %w", err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
			return nil, fmt.Errorf("postgres: decode queue metadata: %w", err)
		}
	}
	return &e, nil
}
