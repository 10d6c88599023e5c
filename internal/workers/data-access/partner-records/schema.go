package partnerrecords

import (
	"context"
	"database/sql"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS calls (
		id              UUID PRIMARY KEY,
		partner_id      TEXT NOT NULL,
		user_id         TEXT,
		conversation_id TEXT,
		endpoint        TEXT NOT NULL,
		question        TEXT NOT NULL,
		custom_data     JSONB,
		sql_query       TEXT,
		response_text   TEXT,
		error           TEXT,
		created_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS calls_partner_created_idx ON calls (partner_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS call_feedback (
		call_id    UUID PRIMARY KEY REFERENCES calls (id),
		helpful    BOOLEAN NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

// EnsureSchema creates the audit tables when they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure partner schema: %w", err)
		}
	}
	return nil
}
