package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is the shared record store's single table. start_time/end_time are
// epoch milliseconds to match the wire format clients exchange.
const Schema = `
CREATE TABLE IF NOT EXISTS challenges (
	id           TEXT PRIMARY KEY,
	created_by   TEXT NOT NULL,
	duration     INTEGER NOT NULL,
	reward       TEXT NOT NULL DEFAULT '',
	participants JSONB NOT NULL DEFAULT '{}'::jsonb,
	status       TEXT NOT NULL DEFAULT 'waiting',
	start_time   BIGINT,
	end_time     BIGINT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the challenges table if it does not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to ensure challenges schema: %w", err)
	}
	return nil
}
