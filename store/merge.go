// api/store/merge.go
package store

import (
	"sort"
	"time"

	"amplisync/api/models"
)

// deviceMetadata is the backfill-only field set shared by mobile_sessions
// and daily_device_activity.
type deviceMetadata struct {
	UserID             string
	PhoneNumber        string
	Platform           string
	DeviceBrand        string
	DeviceManufacturer string
	DeviceModel        string
}

// backfill fills each empty field of existing from incoming. Populated
// fields are never overwritten. changed reports whether anything was filled.
func backfill(existing, incoming deviceMetadata) (merged deviceMetadata, changed bool) {
	merged = existing
	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
			changed = true
		}
	}
	fill(&merged.UserID, incoming.UserID)
	fill(&merged.PhoneNumber, incoming.PhoneNumber)
	fill(&merged.Platform, incoming.Platform)
	fill(&merged.DeviceBrand, incoming.DeviceBrand)
	fill(&merged.DeviceManufacturer, incoming.DeviceManufacturer)
	fill(&merged.DeviceModel, incoming.DeviceModel)
	return merged, changed
}

// mergeVisitTimes unions one visit timestamp into the ordered set. Inserting
// an already-present timestamp is a no-op, which keeps visits_count
// idempotent under re-delivery.
func mergeVisitTimes(existing []string, visit time.Time) []string {
	iso := visit.Format(models.EventTimeLayout)
	for _, v := range existing {
		if v == iso {
			return existing
		}
	}
	merged := append(append([]string(nil), existing...), iso)
	sort.Strings(merged)
	return merged
}

// widenBounds recomputes first/last seen across the stored values and the
// new event time. Zero stored values are ignored, so bounds only ever widen.
func widenBounds(first, last time.Time, visit time.Time) (time.Time, time.Time) {
	if first.IsZero() || visit.Before(first) {
		first = visit
	}
	if last.IsZero() || visit.After(last) {
		last = visit
	}
	return first, last
}
