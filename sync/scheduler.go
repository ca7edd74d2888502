// api/sync/scheduler.go
package sync

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"amplisync/api/models"
	"amplisync/api/store"
)

// Gate decision statuses.
const (
	StatusOK              = "ok"
	StatusDisabled        = "disabled"
	StatusNotScheduled    = "not_scheduled_time"
	StatusAlreadyRanToday = "already_ran_today"
)

// SyncRunner is the slice of Service the scheduler needs.
type SyncRunner interface {
	SyncToday(ctx context.Context) (*models.SyncResult, error)
}

// Scheduler enforces at-most-one sync run per calendar day. The schedule row
// is read under FOR UPDATE so concurrent firings serialize: the first one
// runs, the rest observe last_run_on already set and no-op.
type Scheduler struct {
	db        *sql.DB
	schedules *store.ScheduleStore
	runner    SyncRunner
	loc       *time.Location
	now       func() time.Time
}

func NewScheduler(db *sql.DB, schedules *store.ScheduleStore, runner SyncRunner, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		db:        db,
		schedules: schedules,
		runner:    runner,
		loc:       loc,
		now:       time.Now,
	}
}

// RunScheduled evaluates the gate and, when it passes, performs the sync
// while still holding the schedule row lock, then records today as the last
// run date. Skips commit the transaction too, since the gate may have
// created the singleton row.
func (s *Scheduler) RunScheduled(ctx context.Context) (*models.ScheduledRun, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin schedule transaction: %w", err)
	}
	defer tx.Rollback()

	schedule, err := s.schedules.GetOrCreateForUpdateTx(ctx, tx)
	if err != nil {
		return nil, err
	}

	now := s.now().In(s.loc)
	if status := gateStatus(schedule, now); status != StatusOK {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit schedule transaction: %w", err)
		}
		return &models.ScheduledRun{Status: status}, nil
	}

	result, err := s.runner.SyncToday(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.schedules.MarkRanTx(ctx, tx, now.Format("2006-01-02")); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit schedule transaction: %w", err)
	}

	return &models.ScheduledRun{Status: StatusOK, Result: result}, nil
}

// gateStatus decides whether a scheduled invocation should run at the given
// instant. Pure function: keeps the gate rules testable without a database.
func gateStatus(schedule *models.SyncSchedule, now time.Time) string {
	if !schedule.Enabled {
		return StatusDisabled
	}
	if schedule.RunAtHour != now.Hour() || schedule.RunAtMinute != now.Minute() {
		return StatusNotScheduled
	}
	if schedule.LastRunOn == now.Format("2006-01-02") {
		return StatusAlreadyRanToday
	}
	return StatusOK
}

// RunLoop fires RunScheduled once per minute until ctx is done. Errors are
// logged and absorbed: the next tick is the retry, and idempotent merge
// semantics make re-processing safe.
func (s *Scheduler) RunLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run, err := s.RunScheduled(ctx)
			if err != nil {
				log.Printf("Scheduled sync failed: %v", err)
				continue
			}
			if run.Status == StatusOK {
				log.Printf("Scheduled sync completed: processed=%d inserted=%d",
					run.Result.Processed, run.Result.Inserted)
			}
		}
	}
}
