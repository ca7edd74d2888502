// api/store/activity_store.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"amplisync/api/models"
)

// ActivityStore maintains the per-(date, device) daily rollup rows. It is
// the sole writer of daily_device_activity.
type ActivityStore struct {
	db *sql.DB
}

func NewActivityStore(db *sql.DB) *ActivityStore {
	return &ActivityStore{db: db}
}

// MergeTx get-or-creates the (date, device_id) row inside the caller's
// transaction and merges one visit into it. The row is held FOR UPDATE for
// the whole read-modify-write cycle so concurrent merges for the same key
// serialize instead of losing updates.
func (s *ActivityStore) MergeTx(ctx context.Context, tx *sql.Tx, ev *models.NormalizedEvent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO daily_device_activity (date, device_id)
		VALUES ($1, $2)
		ON CONFLICT (date, device_id) DO NOTHING;
	`, ev.Date, ev.DeviceID)
	if err != nil && !isUniqueViolation(err) {
		return fmt.Errorf("failed to insert daily activity row: %w", err)
	}

	var (
		id         int64
		existing   deviceMetadata
		visitsJSON []byte
		firstSeen  sql.NullTime
		lastSeen   sql.NullTime
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, user_id, phone_number, platform, device_brand,
		       device_manufacturer, device_model, visit_times, first_seen, last_seen
		FROM daily_device_activity
		WHERE date = $1 AND device_id = $2
		FOR UPDATE;
	`, ev.Date, ev.DeviceID).Scan(
		&id,
		&existing.UserID,
		&existing.PhoneNumber,
		&existing.Platform,
		&existing.DeviceBrand,
		&existing.DeviceManufacturer,
		&existing.DeviceModel,
		&visitsJSON,
		&firstSeen,
		&lastSeen,
	)
	if err != nil {
		return fmt.Errorf("failed to lock daily activity row: %w", err)
	}

	var visits []string
	if len(visitsJSON) > 0 {
		if err := json.Unmarshal(visitsJSON, &visits); err != nil {
			return fmt.Errorf("failed to decode visit times: %w", err)
		}
	}
	visits = mergeVisitTimes(visits, ev.EventTime)
	mergedVisits, err := json.Marshal(visits)
	if err != nil {
		return fmt.Errorf("failed to encode visit times: %w", err)
	}

	var storedFirst, storedLast time.Time
	if firstSeen.Valid {
		storedFirst = firstSeen.Time
	}
	if lastSeen.Valid {
		storedLast = lastSeen.Time
	}
	first, last := widenBounds(storedFirst, storedLast, ev.EventTime)

	merged, _ := backfill(existing, deviceMetadata{
		UserID:             ev.UserID,
		PhoneNumber:        ev.PhoneNumber,
		Platform:           ev.Platform,
		DeviceBrand:        ev.DeviceBrand,
		DeviceManufacturer: ev.DeviceManufacturer,
		DeviceModel:        ev.DeviceModel,
	})

	_, err = tx.ExecContext(ctx, `
		UPDATE daily_device_activity
		SET visits_count = $2, visit_times = $3, first_seen = $4, last_seen = $5,
		    user_id = $6, phone_number = $7, platform = $8, device_brand = $9,
		    device_manufacturer = $10, device_model = $11, updated_at = now()
		WHERE id = $1;
	`, id, len(visits), mergedVisits, first, last,
		merged.UserID, merged.PhoneNumber, merged.Platform,
		merged.DeviceBrand, merged.DeviceManufacturer, merged.DeviceModel)
	if err != nil {
		return fmt.Errorf("failed to update daily activity row: %w", err)
	}
	return nil
}

// ListByDate returns the daily rollup rows for one local calendar date,
// most recently seen first.
func (s *ActivityStore) ListByDate(ctx context.Context, date string) ([]models.DailyDeviceActivity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, user_id, device_id, phone_number, platform, device_brand,
		       device_manufacturer, device_model, visits_count, visit_times,
		       first_seen, last_seen, updated_at
		FROM daily_device_activity
		WHERE date = $1
		ORDER BY last_seen DESC NULLS LAST;
	`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily activity: %w", err)
	}
	defer rows.Close()

	results := []models.DailyDeviceActivity{}
	for rows.Next() {
		var (
			activity   models.DailyDeviceActivity
			rowDate    time.Time
			visitsJSON []byte
			firstSeen  sql.NullTime
			lastSeen   sql.NullTime
		)
		if err := rows.Scan(
			&rowDate,
			&activity.UserID,
			&activity.DeviceID,
			&activity.PhoneNumber,
			&activity.Platform,
			&activity.DeviceBrand,
			&activity.DeviceManufacturer,
			&activity.DeviceModel,
			&activity.VisitsCount,
			&visitsJSON,
			&firstSeen,
			&lastSeen,
			&activity.UpdatedAt,
		); err != nil {
			log.Printf("Error scanning daily activity row: %v", err)
			continue
		}
		activity.Date = rowDate.Format("2006-01-02")
		if len(visitsJSON) > 0 {
			if err := json.Unmarshal(visitsJSON, &activity.VisitTimes); err != nil {
				log.Printf("Error decoding visit times for device %s: %v", activity.DeviceID, err)
			}
		}
		if activity.VisitTimes == nil {
			activity.VisitTimes = []string{}
		}
		if firstSeen.Valid {
			t := firstSeen.Time
			activity.FirstSeen = &t
		}
		if lastSeen.Valid {
			t := lastSeen.Time
			activity.LastSeen = &t
		}
		results = append(results, activity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during daily activity query: %w", err)
	}
	return results, nil
}
