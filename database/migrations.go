// api/database/migrations.go
package database

import (
	"database/sql"
	"fmt"
	"log"
)

// Startup DDL. Idempotent: every statement is IF NOT EXISTS, so repeated
// boots and concurrent replicas are safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id              SERIAL PRIMARY KEY,
		email           TEXT NOT NULL UNIQUE,
		hashed_password BYTEA NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,

	`CREATE TABLE IF NOT EXISTS mobile_sessions (
		id                  BIGSERIAL PRIMARY KEY,
		date                DATE NOT NULL,
		event_time          TIMESTAMPTZ NOT NULL,
		event_type          TEXT NOT NULL DEFAULT '',
		user_id             TEXT NOT NULL DEFAULT '',
		device_id           TEXT NOT NULL,
		phone_number        TEXT NOT NULL DEFAULT '',
		platform            TEXT NOT NULL DEFAULT '',
		device_brand        TEXT NOT NULL DEFAULT '',
		device_manufacturer TEXT NOT NULL DEFAULT '',
		device_model        TEXT NOT NULL DEFAULT '',
		insert_id           TEXT NOT NULL DEFAULT '',
		dedupe_key          TEXT NOT NULL UNIQUE,
		raw_event           JSONB NOT NULL DEFAULT '{}',
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_mobile_sessions_date ON mobile_sessions (date);`,
	`CREATE INDEX IF NOT EXISTS idx_mobile_sessions_device_id ON mobile_sessions (device_id);`,
	`CREATE INDEX IF NOT EXISTS idx_mobile_sessions_event_time ON mobile_sessions (event_time);`,

	`CREATE TABLE IF NOT EXISTS daily_device_activity (
		id                  BIGSERIAL PRIMARY KEY,
		date                DATE NOT NULL,
		device_id           TEXT NOT NULL,
		user_id             TEXT NOT NULL DEFAULT '',
		phone_number        TEXT NOT NULL DEFAULT '',
		platform            TEXT NOT NULL DEFAULT '',
		device_brand        TEXT NOT NULL DEFAULT '',
		device_manufacturer TEXT NOT NULL DEFAULT '',
		device_model        TEXT NOT NULL DEFAULT '',
		visits_count        INTEGER NOT NULL DEFAULT 0,
		visit_times         JSONB NOT NULL DEFAULT '[]',
		first_seen          TIMESTAMPTZ,
		last_seen           TIMESTAMPTZ,
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT uniq_daily_activity_per_device UNIQUE (date, device_id)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_daily_activity_date ON daily_device_activity (date);`,
	`CREATE INDEX IF NOT EXISTS idx_daily_activity_device_id ON daily_device_activity (device_id);`,

	`CREATE TABLE IF NOT EXISTS sync_schedule (
		id            INTEGER PRIMARY KEY,
		run_at_hour   INTEGER NOT NULL DEFAULT 1,
		run_at_minute INTEGER NOT NULL DEFAULT 0,
		enabled       BOOLEAN NOT NULL DEFAULT TRUE,
		last_run_on   DATE,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
}

// Migrate creates the schema on startup.
func Migrate(db *sql.DB) error {
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	log.Println("Database schema is up to date.")
	return nil
}
