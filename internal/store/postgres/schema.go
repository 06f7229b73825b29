// Package postgres provides a PostgreSQL-backed implementation of
// [store.Store] using a single [pgxpool.Pool].
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer st.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlCampaigns = `
CREATE TABLE IF NOT EXISTS campaigns (
    id                        TEXT         PRIMARY KEY,
    status                    TEXT         NOT NULL DEFAULT 'paused',
    caller_id                 TEXT         NOT NULL DEFAULT '',
    phone_number_id           TEXT         NOT NULL DEFAULT '',
    max_concurrent_calls      INT          NOT NULL DEFAULT 5,
    retry_delay_minutes       INT          NOT NULL DEFAULT 60,
    retry_exponential_factor  DOUBLE PRECISION NOT NULL DEFAULT 1.5,
    webhook_url               TEXT         NOT NULL DEFAULT '',
    call_hours_start          TEXT         NOT NULL DEFAULT '',
    call_hours_end            TEXT         NOT NULL DEFAULT '',
    created_at                TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns (status);
`

const ddlContacts = `
CREATE TABLE IF NOT EXISTS contacts (
    id          TEXT         PRIMARY KEY,
    phone       TEXT         NOT NULL,
    name        TEXT         NOT NULL DEFAULT '',
    email       TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlCallQueue = `
CREATE TABLE IF NOT EXISTS call_queue (
    id                    TEXT         PRIMARY KEY,
    campaign_id           TEXT         NOT NULL,
    contact_id            TEXT         NOT NULL DEFAULT '',
    phone                 TEXT         NOT NULL,
    caller_id             TEXT         NOT NULL DEFAULT '',
    phone_number_id       TEXT         NOT NULL DEFAULT '',
    status                TEXT         NOT NULL DEFAULT 'scheduled',
    priority              INT          NOT NULL DEFAULT 0,
    scheduled_time        TIMESTAMPTZ  NOT NULL,
    attempts              INT          NOT NULL DEFAULT 0,
    max_attempts          INT          NOT NULL DEFAULT 3,
    use_amd               BOOLEAN      NOT NULL DEFAULT true,
    retry_on_machine      BOOLEAN      NOT NULL DEFAULT false,
    call_sid              TEXT         NOT NULL DEFAULT '',
    last_attempt_status   TEXT         NOT NULL DEFAULT '',
    last_attempt_time     TIMESTAMPTZ,
    last_attempt_details  TEXT         NOT NULL DEFAULT '',
    start_time            TIMESTAMPTZ,
    end_time              TIMESTAMPTZ,
    result                TEXT         NOT NULL DEFAULT '',
    result_details        TEXT         NOT NULL DEFAULT '',
    metadata              JSONB        NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_call_queue_call_sid
    ON call_queue (call_sid);

CREATE INDEX IF NOT EXISTS idx_call_queue_dispatch
    ON call_queue (campaign_id, status, scheduled_time);
`

const ddlCallLogs = `
CREATE TABLE IF NOT EXISTS call_logs (
    call_sid       TEXT         PRIMARY KEY,
    campaign_id    TEXT         NOT NULL DEFAULT '',
    contact_id     TEXT         NOT NULL DEFAULT '',
    direction      TEXT         NOT NULL DEFAULT 'outbound',
    status         TEXT         NOT NULL DEFAULT 'initiated',
    from_number    TEXT         NOT NULL DEFAULT '',
    to_number      TEXT         NOT NULL DEFAULT '',
    start_time     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    answer_time    TIMESTAMPTZ,
    end_time       TIMESTAMPTZ,
    duration       INT          NOT NULL DEFAULT 0,
    recording_url  TEXT         NOT NULL DEFAULT '',
    recording_sid  TEXT         NOT NULL DEFAULT '',
    amd_result     TEXT         NOT NULL DEFAULT '',
    amd_duration   INT          NOT NULL DEFAULT 0,
    metadata       JSONB        NOT NULL DEFAULT '{}',
    events         JSONB        NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_call_logs_campaign_id
    ON call_logs (campaign_id);
`

const ddlCallRecordings = `
CREATE TABLE IF NOT EXISTS call_recordings (
    recording_sid  TEXT         PRIMARY KEY,
    call_sid       TEXT         NOT NULL,
    status         TEXT         NOT NULL DEFAULT 'in-progress',
    start_time     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    end_time       TIMESTAMPTZ,
    duration       INT          NOT NULL DEFAULT 0,
    url            TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_call_recordings_call_sid
    ON call_recordings (call_sid);
`

// Migrate creates or ensures all required tables and indexes exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlCampaigns,
		ddlContacts,
		ddlCallQueue,
		ddlCallLogs,
		ddlCallRecordings,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
