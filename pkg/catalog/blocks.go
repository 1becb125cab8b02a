package catalog

import (
	"context"
	"fmt"
)

// CreateBlock interns a new block row, returning its id. tx may be nil
// to run outside any transaction.
func (s *Store) CreateBlock(ctx context.Context, tx *Tx, b *Block) (int64, error) {
	db := s.db
	if tx != nil {
		db = tx.db
	}
	if err := db.WithContext(ctx).Create(b).Error; err != nil {
		return 0, fmt.Errorf("catalog: create block: %w", err)
	}
	return b.ID, nil
}

// CreateBlockset persists a new blockset and its ordered block
// references. tx may be nil to run outside any transaction.
func (s *Store) CreateBlockset(ctx context.Context, tx *Tx, bs *Blockset, blockIDs []int64) (int64, error) {
	db := s.db
	if tx != nil {
		db = tx.db
	}
	if err := db.WithContext(ctx).Create(bs).Error; err != nil {
		return 0, fmt.Errorf("catalog: create blockset: %w", err)
	}
	for i, blockID := range blockIDs {
		entry := BlocksetEntry{BlocksetID: bs.ID, Index: i, BlockID: blockID}
		if err := db.WithContext(ctx).Create(&entry).Error; err != nil {
			return 0, fmt.Errorf("catalog: create blockset entry: %w", err)
		}
	}
	return bs.ID, nil
}
