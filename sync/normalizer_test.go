package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amplisync/api/models"
)

func testNormalizer(types []string, loc *time.Location) *Normalizer {
	return NewNormalizer(Config{MobileEventTypes: types, Location: loc})
}

func msFor(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func TestNormalizeAcceptsMobileEvent(t *testing.T) {
	n := testNormalizer([]string{"session_start"}, time.UTC)
	eventTime := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	raw := models.RawEvent{
		"device_id":  "d1",
		"user_id":    "u1",
		"platform":   "ios",
		"event_type": "session_start",
		"insert_id":  "i1",
		"time":       msFor(eventTime),
	}

	ev, ok := n.Normalize(raw, "2024-01-01")
	require.True(t, ok)
	assert.Equal(t, "d1", ev.DeviceID)
	assert.Equal(t, "u1", ev.UserID)
	assert.Equal(t, "session_start", ev.EventType)
	assert.Equal(t, "ios", ev.Platform)
	assert.Equal(t, "2024-01-01", ev.Date)
	assert.True(t, ev.EventTime.Equal(eventTime))
	assert.Len(t, ev.DedupeKey, 64)
}

func TestNormalizeDropsNonMobilePlatform(t *testing.T) {
	n := testNormalizer(nil, time.UTC)
	raw := models.RawEvent{
		"device_id":  "d1",
		"platform":   "desktop",
		"event_type": "session_start",
		"time":       msFor(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)),
	}

	_, ok := n.Normalize(raw, "2024-01-01")
	assert.False(t, ok)
}

func TestNormalizeDropsUnlistedEventType(t *testing.T) {
	n := testNormalizer([]string{"session_start"}, time.UTC)
	raw := models.RawEvent{
		"device_id":  "d1",
		"platform":   "ios",
		"event_type": "page_opened",
		"time":       msFor(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)),
	}

	_, ok := n.Normalize(raw, "2024-01-01")
	assert.False(t, ok)
}

func TestNormalizeEmptyTypeSetAcceptsAnyMobileType(t *testing.T) {
	n := testNormalizer(nil, time.UTC)
	raw := models.RawEvent{
		"device_id":  "d1",
		"platform":   "Android",
		"event_type": "anything_at_all",
		"time":       msFor(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)),
	}

	ev, ok := n.Normalize(raw, "2024-01-01")
	require.True(t, ok)
	assert.Equal(t, "android", ev.Platform)
}

func TestNormalizeDropsMissingDeviceID(t *testing.T) {
	n := testNormalizer(nil, time.UTC)
	ts := msFor(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))

	for _, deviceID := range []interface{}{nil, "", "  ", "None", "null", "NaN", "undefined"} {
		raw := models.RawEvent{
			"device_id":  deviceID,
			"platform":   "ios",
			"event_type": "session_start",
			"time":       ts,
		}
		_, ok := n.Normalize(raw, "2024-01-01")
		assert.False(t, ok, "device_id=%v should be dropped", deviceID)
	}
}

func TestNormalizeDropsAdjacentDayEvent(t *testing.T) {
	n := testNormalizer(nil, time.UTC)
	raw := models.RawEvent{
		"device_id": "d1",
		"platform":  "ios",
		"time":      msFor(time.Date(2023, 12, 31, 23, 59, 0, 0, time.UTC)),
	}

	_, ok := n.Normalize(raw, "2024-01-01")
	assert.False(t, ok)
}

func TestExtractEventTimePrefersEpochMilliseconds(t *testing.T) {
	n := testNormalizer(nil, time.UTC)
	epoch := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	raw := models.RawEvent{
		"time":       msFor(epoch),
		"event_time": "2024-06-15 08:30:00",
	}

	got := n.extractEventTime(raw)
	assert.True(t, got.Equal(epoch))
}

func TestExtractEventTimeStringCandidatesInOrder(t *testing.T) {
	n := testNormalizer(nil, time.UTC)
	raw := models.RawEvent{
		"event_time":           "not a timestamp",
		"server_received_time": "2024-01-01 10:00:00",
		"client_event_time":    "2024-01-01 09:00:00",
	}

	got := n.extractEventTime(raw)
	assert.True(t, got.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)))
}

func TestExtractEventTimeNaiveAssumesConfiguredZone(t *testing.T) {
	plusFive := time.FixedZone("UTC+5", 5*3600)
	n := testNormalizer(nil, plusFive)
	raw := models.RawEvent{
		"event_time": "2024-01-01T10:00:00",
	}

	got := n.extractEventTime(raw)
	want := time.Date(2024, 1, 1, 10, 0, 0, 0, plusFive)
	assert.True(t, got.Equal(want))
}

func TestExtractEventTimeExplicitOffsetRespected(t *testing.T) {
	plusFive := time.FixedZone("UTC+5", 5*3600)
	n := testNormalizer(nil, plusFive)
	raw := models.RawEvent{
		"event_time": "2024-01-01T10:00:00Z",
	}

	got := n.extractEventTime(raw)
	assert.True(t, got.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)))
}

func TestExtractEventTimeFallsBackToNow(t *testing.T) {
	n := testNormalizer(nil, time.UTC)
	fixed := time.Date(2024, 1, 1, 12, 34, 56, 0, time.UTC)
	n.now = func() time.Time { return fixed }

	got := n.extractEventTime(models.RawEvent{"event_time": "garbage"})
	assert.True(t, got.Equal(fixed))
}

func TestExtractPhoneNumberSearchOrder(t *testing.T) {
	n := testNormalizer(nil, time.UTC)

	raw := models.RawEvent{
		"phone": "+100",
		"user_properties": map[string]interface{}{
			"msisdn": "+200",
		},
		"event_properties": map[string]interface{}{
			"mobile": "+300",
		},
	}
	assert.Equal(t, "+100", n.extractPhoneNumber(raw))

	delete(raw, "phone")
	assert.Equal(t, "+200", n.extractPhoneNumber(raw))

	raw["user_properties"] = map[string]interface{}{"msisdn": "null"}
	assert.Equal(t, "+300", n.extractPhoneNumber(raw))

	raw["event_properties"] = map[string]interface{}{}
	assert.Equal(t, "", n.extractPhoneNumber(raw))
}

func TestExtractPhoneNumberCoercesNumericValues(t *testing.T) {
	n := testNormalizer(nil, time.UTC)
	raw := models.RawEvent{
		"user_properties": map[string]interface{}{
			"phone_number": float64(77001234567),
		},
	}
	assert.Equal(t, "77001234567", n.extractPhoneNumber(raw))
}

func TestNormalizeExtractsDeviceMetadata(t *testing.T) {
	n := testNormalizer(nil, time.UTC)
	raw := models.RawEvent{
		"device_id":           "d1",
		"platform":            "ios",
		"device_brand":        " Apple ",
		"device_manufacturer": "Apple Inc",
		"device_model":        "None",
		"time":                msFor(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)),
	}

	ev, ok := n.Normalize(raw, "2024-01-01")
	require.True(t, ok)
	assert.Equal(t, "Apple", ev.DeviceBrand)
	assert.Equal(t, "Apple Inc", ev.DeviceManufacturer)
	assert.Equal(t, "", ev.DeviceModel)
}

func TestDedupeKeyDeterministic(t *testing.T) {
	eventTime := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	raw := models.RawEvent{
		"device_id":  "d1",
		"user_id":    "u1",
		"event_type": "session_start",
		"insert_id":  "i1",
	}

	first := buildDedupeKey(raw, eventTime)
	second := buildDedupeKey(raw, eventTime)
	assert.Equal(t, first, second)

	raw["insert_id"] = "i2"
	assert.NotEqual(t, first, buildDedupeKey(raw, eventTime))
}

func TestDedupeKeySeparatesSubSecondEvents(t *testing.T) {
	n := testNormalizer(nil, time.UTC)
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	// Same device, user and type, no insert_id, 500 ms apart. Both are real
	// events and both must survive deduplication.
	first := models.RawEvent{
		"device_id":  "d1",
		"user_id":    "u1",
		"platform":   "ios",
		"event_type": "session_start",
		"time":       msFor(base),
	}
	second := models.RawEvent{
		"device_id":  "d1",
		"user_id":    "u1",
		"platform":   "ios",
		"event_type": "session_start",
		"time":       msFor(base.Add(500 * time.Millisecond)),
	}

	evFirst, ok := n.Normalize(first, "2024-01-01")
	require.True(t, ok)
	evSecond, ok := n.Normalize(second, "2024-01-01")
	require.True(t, ok)

	assert.False(t, evFirst.EventTime.Equal(evSecond.EventTime))
	assert.NotEqual(t, evFirst.DedupeKey, evSecond.DedupeKey)
}

func TestDedupeKeyUsesRawValues(t *testing.T) {
	eventTime := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	padded := models.RawEvent{"device_id": " d1 ", "user_id": "u1"}
	clean := models.RawEvent{"device_id": "d1", "user_id": "u1"}

	// Untrimmed vendor values must hash as delivered, not as cleaned.
	assert.NotEqual(t, buildDedupeKey(padded, eventTime), buildDedupeKey(clean, eventTime))
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "", cleanText("  "))
	assert.Equal(t, "", cleanText("None"))
	assert.Equal(t, "", cleanText("NULL"))
	assert.Equal(t, "", cleanText("undefined"))
	assert.Equal(t, "", cleanText("NaN"))
	assert.Equal(t, "value", cleanText(" value "))
}
