// api/store/schedule_store.go
package store

import (
	"context"
	"database/sql"
	"fmt"

	"amplisync/api/models"
)

// ScheduleStore persists the singleton sync schedule record (row id = 1).
type ScheduleStore struct {
	db *sql.DB
}

func NewScheduleStore(db *sql.DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

// GetOrCreateForUpdateTx returns the schedule row under an exclusive lock,
// creating it with defaults on first use. The lock is what prevents two
// concurrent scheduler firings from both passing the gate.
func (s *ScheduleStore) GetOrCreateForUpdateTx(ctx context.Context, tx *sql.Tx) (*models.SyncSchedule, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sync_schedule (id) VALUES (1)
		ON CONFLICT (id) DO NOTHING;
	`)
	if err != nil && !isUniqueViolation(err) {
		return nil, fmt.Errorf("failed to ensure schedule row: %w", err)
	}

	schedule := &models.SyncSchedule{}
	var lastRunOn sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT run_at_hour, run_at_minute, enabled, last_run_on, updated_at
		FROM sync_schedule
		WHERE id = 1
		FOR UPDATE;
	`).Scan(&schedule.RunAtHour, &schedule.RunAtMinute, &schedule.Enabled, &lastRunOn, &schedule.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to lock schedule row: %w", err)
	}
	if lastRunOn.Valid {
		schedule.LastRunOn = lastRunOn.Time.Format("2006-01-02")
	}
	return schedule, nil
}

// MarkRanTx records date as the last completed run, inside the caller's
// (still lock-holding) transaction.
func (s *ScheduleStore) MarkRanTx(ctx context.Context, tx *sql.Tx, date string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE sync_schedule
		SET last_run_on = $1, updated_at = now()
		WHERE id = 1;
	`, date)
	if err != nil {
		return fmt.Errorf("failed to record last run date: %w", err)
	}
	return nil
}

// Get returns the schedule without locking, for the read endpoint. The row
// is created on first access so the column defaults stay defined in one
// place, the schema.
func (s *ScheduleStore) Get(ctx context.Context) (*models.SyncSchedule, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_schedule (id) VALUES (1)
		ON CONFLICT (id) DO NOTHING;
	`)
	if err != nil && !isUniqueViolation(err) {
		return nil, fmt.Errorf("failed to ensure schedule row: %w", err)
	}

	schedule := &models.SyncSchedule{}
	var lastRunOn sql.NullTime
	err = s.db.QueryRowContext(ctx, `
		SELECT run_at_hour, run_at_minute, enabled, last_run_on, updated_at
		FROM sync_schedule
		WHERE id = 1;
	`).Scan(&schedule.RunAtHour, &schedule.RunAtMinute, &schedule.Enabled, &lastRunOn, &schedule.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	if lastRunOn.Valid {
		schedule.LastRunOn = lastRunOn.Time.Format("2006-01-02")
	}
	return schedule, nil
}

// Update sets the run time and enabled flag.
func (s *ScheduleStore) Update(ctx context.Context, hour, minute int, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_schedule (id, run_at_hour, run_at_minute, enabled)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET run_at_hour = EXCLUDED.run_at_hour,
		    run_at_minute = EXCLUDED.run_at_minute,
		    enabled = EXCLUDED.enabled,
		    updated_at = now();
	`, hour, minute, enabled)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	return nil
}
