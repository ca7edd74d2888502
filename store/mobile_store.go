// api/store/mobile_store.go
package store

import (
	"context"
	"database/sql"
	"fmt"

	"amplisync/api/models"
)

// MobileStore binds the session store and the activity store under one
// transaction boundary per accepted event: the session row and its daily
// rollup update commit together or not at all.
type MobileStore struct {
	db       *sql.DB
	Sessions *SessionStore
	Daily    *ActivityStore
}

func NewMobileStore(db *sql.DB) *MobileStore {
	return &MobileStore{
		db:       db,
		Sessions: NewSessionStore(db),
		Daily:    NewActivityStore(db),
	}
}

// ProcessEvent persists one normalized event. On first sight of the dedupe
// key the session row is created and the daily rollup merged; on
// re-delivery only the session's empty metadata is backfilled and the
// rollup is left untouched.
func (s *MobileStore) ProcessEvent(ctx context.Context, ev *models.NormalizedEvent) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin event transaction: %w", err)
	}
	defer tx.Rollback()

	created, err := s.Sessions.GetOrCreateTx(ctx, tx, ev)
	if err != nil {
		return false, err
	}
	if created {
		if err := s.Daily.MergeTx(ctx, tx, ev); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit event transaction: %w", err)
	}
	return created, nil
}
