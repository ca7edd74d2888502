// api/store/session_store.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"amplisync/api/models"
)

// uniqueViolation is the Postgres error code for a uniqueness constraint
// violation; racing inserts of the same key surface it and must be treated
// as "already exists", not as an error.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}

// SessionStore persists one MobileSession row per unique dedupe key.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// GetOrCreateTx inserts the session row for ev's dedupe key inside the
// caller's transaction. Returns created=true on first insert. When the key
// already exists, the existing row is locked and its empty metadata fields
// are backfilled from ev; identity fields (device_id, event_type,
// event_time) are never touched.
func (s *SessionStore) GetOrCreateTx(ctx context.Context, tx *sql.Tx, ev *models.NormalizedEvent) (bool, error) {
	rawJSON, err := json.Marshal(ev.Raw)
	if err != nil {
		return false, fmt.Errorf("failed to encode raw event: %w", err)
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO mobile_sessions (
			date, event_time, event_type, user_id, device_id, phone_number,
			platform, device_brand, device_manufacturer, device_model,
			insert_id, dedupe_key, raw_event
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (dedupe_key) DO NOTHING
		RETURNING id;
	`,
		ev.Date, ev.EventTime, ev.EventType, ev.UserID, ev.DeviceID, ev.PhoneNumber,
		ev.Platform, ev.DeviceBrand, ev.DeviceManufacturer, ev.DeviceModel,
		ev.InsertID, ev.DedupeKey, rawJSON,
	).Scan(&id)
	if err == nil {
		return true, nil
	}
	if err != sql.ErrNoRows && !isUniqueViolation(err) {
		return false, fmt.Errorf("failed to insert mobile session: %w", err)
	}

	// Conflict path: another delivery of the same event. Lock the row and
	// backfill whatever it is still missing.
	if err := s.backfillTx(ctx, tx, ev); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SessionStore) backfillTx(ctx context.Context, tx *sql.Tx, ev *models.NormalizedEvent) error {
	var existing deviceMetadata
	err := tx.QueryRowContext(ctx, `
		SELECT user_id, phone_number, platform, device_brand, device_manufacturer, device_model
		FROM mobile_sessions
		WHERE dedupe_key = $1
		FOR UPDATE;
	`, ev.DedupeKey).Scan(
		&existing.UserID,
		&existing.PhoneNumber,
		&existing.Platform,
		&existing.DeviceBrand,
		&existing.DeviceManufacturer,
		&existing.DeviceModel,
	)
	if err != nil {
		return fmt.Errorf("failed to lock mobile session for backfill: %w", err)
	}

	merged, changed := backfill(existing, deviceMetadata{
		UserID:             ev.UserID,
		PhoneNumber:        ev.PhoneNumber,
		Platform:           ev.Platform,
		DeviceBrand:        ev.DeviceBrand,
		DeviceManufacturer: ev.DeviceManufacturer,
		DeviceModel:        ev.DeviceModel,
	})
	if !changed {
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE mobile_sessions
		SET user_id = $2, phone_number = $3, platform = $4,
		    device_brand = $5, device_manufacturer = $6, device_model = $7
		WHERE dedupe_key = $1;
	`, ev.DedupeKey, merged.UserID, merged.PhoneNumber, merged.Platform,
		merged.DeviceBrand, merged.DeviceManufacturer, merged.DeviceModel)
	if err != nil {
		return fmt.Errorf("failed to backfill mobile session: %w", err)
	}
	return nil
}
