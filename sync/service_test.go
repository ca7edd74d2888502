package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amplisync/api/models"
)

type fakeSource struct {
	events []models.RawEvent
	err    error
	calls  int
}

func (f *fakeSource) FetchEvents(ctx context.Context, start, end time.Time, fn func(models.RawEvent) error) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	for _, ev := range f.events {
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}

type fakeStore struct {
	seen     map[string]bool
	received []*models.NormalizedEvent
	err      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{seen: map[string]bool{}}
}

func (f *fakeStore) ProcessEvent(ctx context.Context, ev *models.NormalizedEvent) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.received = append(f.received, ev)
	if f.seen[ev.DedupeKey] {
		return false, nil
	}
	f.seen[ev.DedupeKey] = true
	return true, nil
}

type fakeWarehouse struct {
	mirrored []models.NormalizedEvent
	err      error
}

func (f *fakeWarehouse) InsertMobileEvents(ctx context.Context, events []models.NormalizedEvent) error {
	if f.err != nil {
		return f.err
	}
	f.mirrored = append(f.mirrored, events...)
	return nil
}

var serviceNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func testService(source EventSource, store EventStore) *Service {
	svc := NewService(source, store, Config{
		MobileEventTypes: []string{"session_start"},
		Location:         time.UTC,
	})
	svc.now = func() time.Time { return serviceNow }
	svc.normalizer.now = svc.now
	return svc
}

func mobileEvent(deviceID, insertID string, at time.Time) models.RawEvent {
	return models.RawEvent{
		"device_id":  deviceID,
		"user_id":    "u1",
		"platform":   "ios",
		"event_type": "session_start",
		"insert_id":  insertID,
		"time":       float64(at.UnixMilli()),
	}
}

func TestSyncTodayCountsProcessedAndInserted(t *testing.T) {
	source := &fakeSource{events: []models.RawEvent{
		mobileEvent("d1", "i1", serviceNow.Add(-2*time.Hour)),
		mobileEvent("d1", "i2", serviceNow.Add(-1*time.Hour)),
		{"device_id": "d2", "platform": "desktop", "event_type": "session_start"},
	}}
	st := newFakeStore()

	result, err := testService(source, st).SyncToday(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, "2024-01-01", result.Date)
	assert.NotEmpty(t, result.RunID)
	assert.Len(t, st.received, 2, "dropped events must not reach the store")
}

func TestSyncTodayReplayIsIdempotent(t *testing.T) {
	events := []models.RawEvent{
		mobileEvent("d1", "i1", serviceNow.Add(-2*time.Hour)),
	}
	st := newFakeStore()
	svc := testService(&fakeSource{events: events}, st)

	first, err := svc.SyncToday(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)

	second, err := svc.SyncToday(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Processed)
	assert.Equal(t, 0, second.Inserted)
}

func TestSyncTodayWindowIsLocalMidnightToNow(t *testing.T) {
	var gotStart, gotEnd time.Time
	source := &fakeSource{}
	st := newFakeStore()
	svc := testService(source, st)
	svc.source = sourceFunc(func(ctx context.Context, start, end time.Time, fn func(models.RawEvent) error) error {
		gotStart, gotEnd = start, end
		return nil
	})

	_, err := svc.SyncToday(context.Background())
	require.NoError(t, err)
	assert.True(t, gotStart.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, gotEnd.Equal(serviceNow))
}

type sourceFunc func(ctx context.Context, start, end time.Time, fn func(models.RawEvent) error) error

func (f sourceFunc) FetchEvents(ctx context.Context, start, end time.Time, fn func(models.RawEvent) error) error {
	return f(ctx, start, end, fn)
}

func TestSyncTodayPropagatesFetchError(t *testing.T) {
	fetchErr := errors.New("boom")
	svc := testService(&fakeSource{err: fetchErr}, newFakeStore())

	_, err := svc.SyncToday(context.Background())
	assert.ErrorIs(t, err, fetchErr)
}

func TestSyncTodayPropagatesStoreError(t *testing.T) {
	storeErr := errors.New("db down")
	st := newFakeStore()
	st.err = storeErr
	svc := testService(&fakeSource{events: []models.RawEvent{
		mobileEvent("d1", "i1", serviceNow.Add(-time.Hour)),
	}}, st)

	_, err := svc.SyncToday(context.Background())
	assert.ErrorIs(t, err, storeErr)
}

func TestSyncTodayMirrorsOnlyInsertedEvents(t *testing.T) {
	events := []models.RawEvent{
		mobileEvent("d1", "i1", serviceNow.Add(-2*time.Hour)),
		mobileEvent("d1", "i1", serviceNow.Add(-2*time.Hour)), // duplicate delivery
		mobileEvent("d2", "i2", serviceNow.Add(-1*time.Hour)),
	}
	st := newFakeStore()
	wh := &fakeWarehouse{}
	svc := testService(&fakeSource{events: events}, st)
	svc.AttachWarehouse(wh)

	result, err := svc.SyncToday(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Inserted)
	assert.Len(t, wh.mirrored, 2)
}

func TestSyncTodayWarehouseFailureDoesNotFailRun(t *testing.T) {
	st := newFakeStore()
	wh := &fakeWarehouse{err: errors.New("warehouse offline")}
	svc := testService(&fakeSource{events: []models.RawEvent{
		mobileEvent("d1", "i1", serviceNow.Add(-time.Hour)),
	}}, st)
	svc.AttachWarehouse(wh)

	result, err := svc.SyncToday(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)
}
