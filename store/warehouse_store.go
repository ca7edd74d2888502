// api/store/warehouse_store.go
package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"amplisync/api/database"
	"amplisync/api/models"
	"amplisync/api/utils"
)

// WarehouseStore mirrors accepted mobile events into ClickHouse for
// analytical queries. It is an observer of the pipeline: the Postgres rows
// stay the system of record.
type WarehouseStore struct {
	DB *database.ClickHouseClient
}

type EventCountByTime struct {
	Time      time.Time `json:"time"`
	EventType *string   `json:"eventType,omitempty"`
	Count     uint64    `json:"count"`
}

func NewWarehouseStore(chClient *database.ClickHouseClient) *WarehouseStore {
	return &WarehouseStore{DB: chClient}
}

// Migrate creates the mirror table if it does not exist yet.
func (s *WarehouseStore) Migrate(ctx context.Context) error {
	err := s.DB.Conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS mobile_events (
			dedupe_key          String,
			event_type          String,
			user_id             String,
			device_id           String,
			phone_number        String,
			platform            String,
			device_brand        String,
			device_manufacturer String,
			device_model        String,
			insert_id           String,
			event_time          DateTime64(3, 'UTC'),
			date                Date
		)
		ENGINE = MergeTree()
		ORDER BY (date, device_id, event_time)
	`)
	if err != nil {
		return fmt.Errorf("failed to create mobile_events table: %w", err)
	}
	return nil
}

// InsertMobileEvents batch-inserts newly accepted events.
func (s *WarehouseStore) InsertMobileEvents(ctx context.Context, events []models.NormalizedEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO mobile_events (
			dedupe_key, event_type, user_id, device_id, phone_number, platform,
			device_brand, device_manufacturer, device_model, insert_id, event_time, date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, event := range events {
		err := batch.Append(
			event.DedupeKey,
			event.EventType,
			event.UserID,
			event.DeviceID,
			event.PhoneNumber,
			event.Platform,
			event.DeviceBrand,
			event.DeviceManufacturer,
			event.DeviceModel,
			event.InsertID,
			event.EventTime,
			event.EventTime,
		)
		if err != nil {
			log.Printf("Error appending event to batch (DedupeKey: %s): %v", event.DedupeKey, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	log.Printf("Successfully mirrored %d mobile events to warehouse.", len(events))
	return nil
}

// GetEventCountsOverTime buckets event counts by the given interval,
// optionally filtered to one event type.
func (s *WarehouseStore) GetEventCountsOverTime(ctx context.Context, interval string, start, end time.Time, eventTypeFilter string) ([]EventCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	var args []interface{}
	args = append(args, start, end)

	selectCols := fmt.Sprintf("toStartOf%s(event_time) as time_bucket, count() as total_events", interval)
	groupByCols := "time_bucket"
	whereClause := "WHERE event_time >= ? AND event_time <= ?"
	orderByCols := "time_bucket ASC"
	isFilteringByType := eventTypeFilter != ""

	if isFilteringByType {
		selectCols += ", event_type"
		groupByCols += ", event_type"
		whereClause += " AND event_type = ?"
		args = append(args, eventTypeFilter)
		orderByCols += ", event_type ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM mobile_events
		%s
		GROUP BY %s
		ORDER BY %s
	`, selectCols, whereClause, groupByCols, orderByCols)

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts over time: %w", err)
	}
	defer rows.Close()

	var results []EventCountByTime
	for rows.Next() {
		var (
			timeBucket  time.Time
			count       uint64
			eventTypeDB string
			current     EventCountByTime
		)

		if isFilteringByType {
			if err := rows.Scan(&timeBucket, &count, &eventTypeDB); err != nil {
				log.Printf("Error scanning row for event counts over time (with type filter): %v", err)
				continue
			}
			current.EventType = &eventTypeDB
		} else {
			if err := rows.Scan(&timeBucket, &count); err != nil {
				log.Printf("Error scanning row for event counts over time (no type filter): %v", err)
				continue
			}
		}

		current.Time = timeBucket
		current.Count = count
		results = append(results, current)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during event counts over time query: %w", err)
	}

	return results, nil
}

// GetUniqueDevicesOverTime buckets distinct device counts by interval.
func (s *WarehouseStore) GetUniqueDevicesOverTime(ctx context.Context, interval string, start, end time.Time) ([]EventCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	query := fmt.Sprintf(`
		SELECT toStartOf%s(event_time) AS time_bucket, uniq(device_id) AS unique_devices
		FROM mobile_events
		WHERE event_time >= ? AND event_time <= ?
		GROUP BY time_bucket
		ORDER BY time_bucket ASC
	`, interval)

	rows, err := s.DB.Conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query unique devices over time: %w", err)
	}
	defer rows.Close()

	var results []EventCountByTime
	for rows.Next() {
		var timeBucket time.Time
		var uniqueDevices uint64
		if err := rows.Scan(&timeBucket, &uniqueDevices); err != nil {
			log.Printf("Error scanning row for unique devices: %v", err)
			continue
		}
		results = append(results, EventCountByTime{
			Time:  timeBucket,
			Count: uniqueDevices,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for unique devices: %w", err)
	}

	return results, nil
}

// GetTopEventTypes returns the most frequent event types in the window,
// labeled with their human-readable names.
func (s *WarehouseStore) GetTopEventTypes(ctx context.Context, start, end time.Time, limit uint64) ([]models.EventTypeCount, error) {
	if limit == 0 {
		limit = 10
	}

	query := `
		SELECT event_type, count() as event_count
		FROM mobile_events
		WHERE event_time >= ? AND event_time <= ?
		GROUP BY event_type
		ORDER BY event_count DESC
		LIMIT ?
	`
	rows, err := s.DB.Conn.Query(ctx, query, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top event types: %w", err)
	}
	defer rows.Close()

	var results []models.EventTypeCount
	for rows.Next() {
		var eventType string
		var count uint64
		if err := rows.Scan(&eventType, &count); err != nil {
			log.Printf("Error scanning row for top event types: %v", err)
			continue
		}
		results = append(results, models.EventTypeCount{
			EventType: eventType,
			Label:     utils.TranslateEventName(eventType),
			Count:     count,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for top event types: %w", err)
	}

	return results, nil
}
