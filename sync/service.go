// api/sync/service.go
package sync

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"amplisync/api/models"
)

// EventSource streams raw export events for a time window. Implemented by
// amplitude.Client.
type EventSource interface {
	FetchEvents(ctx context.Context, start, end time.Time, fn func(models.RawEvent) error) error
}

// EventStore persists one accepted event atomically: dedupe-keyed session
// insert plus, on first insert, the daily activity merge. Implemented by
// store.MobileStore.
type EventStore interface {
	ProcessEvent(ctx context.Context, ev *models.NormalizedEvent) (created bool, err error)
}

// Warehouse receives an append-only copy of newly inserted events for
// analytical queries. Implemented by store.WarehouseStore.
type Warehouse interface {
	InsertMobileEvents(ctx context.Context, events []models.NormalizedEvent) error
}

// Service drives one full synchronization pass: fetch, normalize, store,
// aggregate.
type Service struct {
	source     EventSource
	store      EventStore
	warehouse  Warehouse
	normalizer *Normalizer
	loc        *time.Location
	now        func() time.Time
}

func NewService(source EventSource, store EventStore, cfg Config) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		source:     source,
		store:      store,
		normalizer: NewNormalizer(cfg),
		loc:        loc,
		now:        time.Now,
	}
}

// AttachWarehouse enables the warehouse mirror. Only called when ClickHouse
// is configured; the pipeline runs fine without it.
func (s *Service) AttachWarehouse(w Warehouse) {
	s.warehouse = w
}

// SyncToday fetches the window from local midnight to now and pipes every
// event through the normalizer and the per-event store transaction. Events
// already seen (same dedupe key) count as processed but not inserted, which
// makes a retried run reconverge without duplicate counts. A fetch, parse,
// or storage error propagates to the caller; events committed before the
// failure stay committed.
func (s *Service) SyncToday(ctx context.Context) (*models.SyncResult, error) {
	now := s.now().In(s.loc)
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	targetDate := now.Format("2006-01-02")
	runID := uuid.New().String()

	log.Printf("Sync run %s starting for %s (window %s..%s)",
		runID, targetDate, startOfDay.Format(time.RFC3339), now.Format(time.RFC3339))

	processed := 0
	inserted := 0
	var mirrored []models.NormalizedEvent

	err := s.source.FetchEvents(ctx, startOfDay, now, func(raw models.RawEvent) error {
		processed++

		ev, ok := s.normalizer.Normalize(raw, targetDate)
		if !ok {
			return nil
		}

		created, err := s.store.ProcessEvent(ctx, ev)
		if err != nil {
			return err
		}
		if created {
			inserted++
			if s.warehouse != nil {
				mirrored = append(mirrored, *ev)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.warehouse != nil && len(mirrored) > 0 {
		// The warehouse is an observer, not the system of record; a mirror
		// failure must not fail an otherwise committed run.
		if err := s.warehouse.InsertMobileEvents(ctx, mirrored); err != nil {
			log.Printf("Sync run %s: failed to mirror %d events to warehouse: %v", runID, len(mirrored), err)
		}
	}

	log.Printf("Sync run %s finished: processed=%d inserted=%d", runID, processed, inserted)
	return &models.SyncResult{
		RunID:     runID,
		Date:      targetDate,
		Processed: processed,
		Inserted:  inserted,
	}, nil
}
