// api/models/amplitude.go
package models

import (
	"strconv"
	"time"
)

// EventTimeLayout renders event timestamps wherever they act as identity:
// dedupe keys and visit-time sets. Microsecond precision matches what the
// export delivers, so sub-second events stay distinct; the fixed-width
// fraction keeps lexicographic order of rendered values chronological.
const EventTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// RawEvent is one decoded line from an Amplitude export archive. The vendor
// guarantees nothing about its shape, so every access goes through the
// tolerant accessors below instead of direct map indexing.
type RawEvent map[string]interface{}

// Str returns the value under key coerced to a string. Missing keys and
// values that have no sensible string form come back as "".
func (e RawEvent) Str(key string) string {
	switch v := e[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Num returns the value under key as a float64 when it is numeric.
func (e RawEvent) Num(key string) (float64, bool) {
	switch v := e[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Map returns the nested object under key, or nil when absent or not an
// object.
func (e RawEvent) Map(key string) RawEvent {
	if m, ok := e[key].(map[string]interface{}); ok {
		return RawEvent(m)
	}
	return nil
}

// NormalizedEvent is the cleaned, typed form of a raw mobile event. It is
// immutable once produced by the normalizer.
type NormalizedEvent struct {
	EventTime          time.Time `json:"event_time"`
	Date               string    `json:"date"` // local calendar date, YYYY-MM-DD
	EventType          string    `json:"event_type"`
	UserID             string    `json:"user_id"`
	DeviceID           string    `json:"device_id"`
	PhoneNumber        string    `json:"phone_number"`
	Platform           string    `json:"platform"`
	DeviceBrand        string    `json:"device_brand"`
	DeviceManufacturer string    `json:"device_manufacturer"`
	DeviceModel        string    `json:"device_model"`
	InsertID           string    `json:"insert_id"`
	DedupeKey          string    `json:"dedupe_key"`
	Raw                RawEvent  `json:"-"`
}

// MobileSession is the persisted record of one unique event, keyed by
// dedupe_key. Created once, never deleted; only empty metadata fields may be
// backfilled afterwards.
type MobileSession struct {
	ID                 int64     `json:"id"`
	Date               string    `json:"date"`
	EventTime          time.Time `json:"event_time"`
	EventType          string    `json:"event_type"`
	UserID             string    `json:"user_id"`
	DeviceID           string    `json:"device_id"`
	PhoneNumber        string    `json:"phone_number"`
	Platform           string    `json:"platform"`
	DeviceBrand        string    `json:"device_brand"`
	DeviceManufacturer string    `json:"device_manufacturer"`
	DeviceModel        string    `json:"device_model"`
	InsertID           string    `json:"insert_id"`
	DedupeKey          string    `json:"dedupe_key"`
	CreatedAt          time.Time `json:"created_at"`
}

// DailyDeviceActivity is the per-(date, device) rollup row.
type DailyDeviceActivity struct {
	Date               string     `json:"date"`
	UserID             string     `json:"user_id"`
	DeviceID           string     `json:"device_id"`
	PhoneNumber        string     `json:"phone_number"`
	Platform           string     `json:"platform"`
	DeviceBrand        string     `json:"device_brand"`
	DeviceManufacturer string     `json:"device_manufacturer"`
	DeviceModel        string     `json:"device_model"`
	VisitsCount        int        `json:"visits_count"`
	VisitTimes         []string   `json:"visit_times"`
	FirstSeen          *time.Time `json:"first_seen"`
	LastSeen           *time.Time `json:"last_seen"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// SyncSchedule is the singleton scheduling record consumed by the gate.
type SyncSchedule struct {
	RunAtHour   int       `json:"-"`
	RunAtMinute int       `json:"-"`
	Enabled     bool      `json:"enabled"`
	LastRunOn   string    `json:"last_run_on,omitempty"` // YYYY-MM-DD, "" if never ran
	UpdatedAt   time.Time `json:"updated_at"`
}

// RunAt formats the configured run time as HH:MM.
func (s *SyncSchedule) RunAt() string {
	return twoDigits(s.RunAtHour) + ":" + twoDigits(s.RunAtMinute)
}

func twoDigits(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

// SyncResult summarizes one sync run.
type SyncResult struct {
	RunID     string `json:"run_id"`
	Date      string `json:"date"`
	Processed int    `json:"processed"`
	Inserted  int    `json:"inserted"`
}

// ScheduledRun is the outcome of one scheduler gate evaluation.
type ScheduledRun struct {
	Status string      `json:"status"` // ok, disabled, not_scheduled_time, already_ran_today
	Result *SyncResult `json:"result,omitempty"`
}

// ScheduleUpdateRequest updates the singleton schedule row.
type ScheduleUpdateRequest struct {
	RunAt   string `json:"run_at" binding:"required"` // HH:MM
	Enabled *bool  `json:"enabled" binding:"required"`
}

// EventTypeCount is one row of the top-event-types warehouse query.
type EventTypeCount struct {
	EventType string `json:"eventType"`
	Label     string `json:"label"`
	Count     uint64 `json:"count"`
}
