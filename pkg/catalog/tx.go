package catalog

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Tx wraps a single catalog transaction. A purge or compact step opens
// exactly one Tx, performs its mutations, and must Commit or Rollback
// before any remote side effect is enqueued (spec.md §4.5 step 7,
// §5 "the core commits the transaction before enqueuing remote side
// effects").
type Tx struct {
	db     *gorm.DB
	ctx    context.Context
	closed bool
}

// Begin opens a new catalog transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	db := s.db.WithContext(ctx).Begin()
	if db.Error != nil {
		return nil, fmt.Errorf("catalog: begin transaction: %w", db.Error)
	}
	return &Tx{db: db, ctx: ctx}, nil
}

// Commit commits the transaction. Calling Commit twice, or after
// Rollback, is a no-op error.
func (t *Tx) Commit() error {
	if t.closed {
		return fmt.Errorf("catalog: transaction already closed")
	}
	t.closed = true
	return t.db.Commit().Error
}

// Rollback aborts the transaction. Safe to call after Commit or a prior
// Rollback (no-op).
func (t *Tx) Rollback() error {
	if t.closed {
		return nil
	}
	t.closed = true
	return t.db.Rollback().Error
}

// SetTerminatedWithActiveUploads sets the process-wide crash-flag
// (spec.md §3). It is set true before any session that performs remote
// writes and cleared on clean completion.
func (s *Store) SetTerminatedWithActiveUploads(ctx context.Context, value bool) error {
	return s.db.WithContext(ctx).Model(&RepositoryFlag{}).
		Where("id = ?", 1).
		Update("terminated_with_active_uploads", value).Error
}

// TerminatedWithActiveUploads reports the current crash-flag value.
func (s *Store) TerminatedWithActiveUploads(ctx context.Context) (bool, error) {
	var flag RepositoryFlag
	if err := s.db.WithContext(ctx).First(&flag, 1).Error; err != nil {
		return false, fmt.Errorf("catalog: read repository flag: %w", err)
	}
	return flag.TerminatedWithActiveUploads, nil
}

// IsReadyForPurge reports whether the catalog is neither partially
// recreated nor mid-repair (spec.md §4.5 precondition 2). Both states
// unconditionally reject purge/compact operations (spec.md §4.4 "Local").
func (s *Store) IsReadyForPurge(ctx context.Context) (bool, error) {
	var flag RepositoryFlag
	if err := s.db.WithContext(ctx).First(&flag, 1).Error; err != nil {
		return false, fmt.Errorf("catalog: read repository flag: %w", err)
	}
	return !flag.PartiallyRecreated && !flag.MidRepair, nil
}

// MidRepair reports whether the catalog is currently marked as
// undergoing repair.
func (s *Store) MidRepair(ctx context.Context) (bool, error) {
	var flag RepositoryFlag
	if err := s.db.WithContext(ctx).First(&flag, 1).Error; err != nil {
		return false, fmt.Errorf("catalog: read repository flag: %w", err)
	}
	return flag.MidRepair, nil
}

// SetMidRepair marks the catalog as undergoing repair, blocking new
// purge/compact operations until cleared.
func (s *Store) SetMidRepair(ctx context.Context, value bool) error {
	return s.db.WithContext(ctx).Model(&RepositoryFlag{}).
		Where("id = ?", 1).
		Update("mid_repair", value).Error
}
