// api/sync/normalizer.go
package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"amplisync/api/models"
)

var mobilePlatforms = map[string]bool{
	"ios":     true,
	"android": true,
	"mobile":  true,
}

// Placeholder strings the vendor emits in place of real values; treated the
// same as an absent field.
var placeholderValues = map[string]bool{
	"":          true,
	"none":      true,
	"null":      true,
	"undefined": true,
	"nan":       true,
}

// Phone-number-like fields show up under several key names, at the top level
// or nested in the property maps. Search order matters: first hit wins.
var phoneCandidateKeys = []string{
	"phone",
	"phone_number",
	"phoneNumber",
	"msisdn",
	"mobile",
	"number",
}

// String timestamp fields, in the order they are trusted when the numeric
// epoch field is absent.
var timeFieldCandidates = []string{
	"event_time",
	"server_received_time",
	"client_event_time",
}

// Export timestamps come both with and without an explicit offset.
var offsetTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
}

var naiveTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Config carries the normalization settings, injected at construction.
type Config struct {
	// MobileEventTypes restricts qualifying events to these types. Empty
	// means any event on a mobile platform qualifies.
	MobileEventTypes []string
	// Location is the local time zone used for date derivation and for
	// timestamps without an explicit offset.
	Location *time.Location
}

// Normalizer classifies raw export events and produces NormalizedEvents for
// the mobile subset.
type Normalizer struct {
	requiredTypes map[string]bool
	loc           *time.Location
	now           func() time.Time
}

func NewNormalizer(cfg Config) *Normalizer {
	required := make(map[string]bool, len(cfg.MobileEventTypes))
	for _, t := range cfg.MobileEventTypes {
		required[t] = true
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{
		requiredTypes: required,
		loc:           loc,
		now:           time.Now,
	}
}

// Normalize turns one raw event into a NormalizedEvent. ok is false when the
// event is dropped: not a mobile event, no device id after cleaning, or its
// local calendar date does not match targetDate. Normalization is total: no
// payload shape can make it fail.
func (n *Normalizer) Normalize(raw models.RawEvent, targetDate string) (*models.NormalizedEvent, bool) {
	if !n.isMobileEvent(raw) {
		return nil, false
	}

	deviceID := cleanText(raw.Str("device_id"))
	if deviceID == "" {
		return nil, false
	}

	eventTime := n.extractEventTime(raw)
	date := eventTime.Format("2006-01-02")
	if date != targetDate {
		return nil, false
	}

	return &models.NormalizedEvent{
		EventTime:          eventTime,
		Date:               date,
		EventType:          cleanText(raw.Str("event_type")),
		UserID:             cleanText(raw.Str("user_id")),
		DeviceID:           deviceID,
		PhoneNumber:        n.extractPhoneNumber(raw),
		Platform:           strings.ToLower(cleanText(raw.Str("platform"))),
		DeviceBrand:        cleanText(raw.Str("device_brand")),
		DeviceManufacturer: cleanText(raw.Str("device_manufacturer")),
		DeviceModel:        cleanText(raw.Str("device_model")),
		InsertID:           cleanText(raw.Str("insert_id")),
		DedupeKey:          buildDedupeKey(raw, eventTime),
		Raw:                raw,
	}, true
}

func (n *Normalizer) isMobileEvent(raw models.RawEvent) bool {
	platform := strings.ToLower(strings.TrimSpace(raw.Str("platform")))
	if !mobilePlatforms[platform] {
		return false
	}
	if len(n.requiredTypes) == 0 {
		return true
	}
	return n.requiredTypes[strings.TrimSpace(raw.Str("event_type"))]
}

// extractEventTime resolves the event timestamp: numeric epoch milliseconds
// first, then the string timestamp candidates in order, then the current
// instant. The last fallback is a deliberate best-effort default.
func (n *Normalizer) extractEventTime(raw models.RawEvent) time.Time {
	if ms, ok := raw.Num("time"); ok {
		return time.UnixMilli(int64(ms)).In(n.loc)
	}

	for _, key := range timeFieldCandidates {
		value, isString := raw[key].(string)
		if !isString {
			continue
		}
		if parsed, ok := n.parseTimestamp(value); ok {
			return parsed.In(n.loc)
		}
	}

	return n.now().In(n.loc)
}

func (n *Normalizer) parseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range offsetTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	for _, layout := range naiveTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, n.loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// extractPhoneNumber searches the top-level object, then user_properties,
// then event_properties, trying each candidate key in order within each
// container.
func (n *Normalizer) extractPhoneNumber(raw models.RawEvent) string {
	containers := []models.RawEvent{raw, raw.Map("user_properties"), raw.Map("event_properties")}
	for _, container := range containers {
		if container == nil {
			continue
		}
		for _, key := range phoneCandidateKeys {
			if value := cleanText(container.Str(key)); value != "" {
				return value
			}
		}
	}
	return ""
}

// buildDedupeKey fingerprints the event identity. Identity fields are hashed
// from their raw, pre-clean values to preserve the vendor's uniqueness
// semantics; the time component is the final resolved event time, so a
// re-delivered event hashes identically.
func buildDedupeKey(raw models.RawEvent, eventTime time.Time) string {
	parts := []string{
		raw.Str("device_id"),
		raw.Str("user_id"),
		raw.Str("event_type"),
		raw.Str("insert_id"),
		eventTime.Format(models.EventTimeLayout),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// cleanText trims whitespace and collapses vendor placeholder strings to "".
func cleanText(value string) string {
	trimmed := strings.TrimSpace(value)
	if placeholderValues[strings.ToLower(trimmed)] {
		return ""
	}
	return trimmed
}
