package catalog

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// ReapOrphans deletes file and blockset rows that have become
// unreferenced. A purge's drop_filesets_from_table only removes
// fileset/fileset-entry rows (spec.md §4.3), so a file excluded by a
// purge filter survives as a File row with no referencing
// fileset_entry until something reaps it; both pkg/purge and the
// compact engine call this after their own rewrite step so invariant
// P5 ("no orphans after purge or compact") holds after either.
func (s *Store) ReapOrphans(ctx context.Context, tx *Tx) (filesRemoved, blocksetsRemoved int64, err error) {
	db := tx.db

	var orphanFiles []File
	if err := db.WithContext(ctx).
		Where("id NOT IN (SELECT DISTINCT file_id FROM fileset_entries)").
		Find(&orphanFiles).Error; err != nil {
		return 0, 0, fmt.Errorf("catalog: find orphan files: %w", err)
	}
	for _, f := range orphanFiles {
		if err := db.WithContext(ctx).Delete(&File{}, f.ID).Error; err != nil {
			return 0, 0, fmt.Errorf("catalog: delete orphan file %d: %w", f.ID, err)
		}
	}

	var orphanBlocksets []Blockset
	if err := db.WithContext(ctx).
		Where("id NOT IN (SELECT content_blockset_id FROM files WHERE content_blockset_id IS NOT NULL)").
		Where("id NOT IN (SELECT meta_blockset_id FROM files WHERE meta_blockset_id IS NOT NULL)").
		Find(&orphanBlocksets).Error; err != nil {
		return int64(len(orphanFiles)), 0, fmt.Errorf("catalog: find orphan blocksets: %w", err)
	}
	for _, bs := range orphanBlocksets {
		if err := db.WithContext(ctx).Where("blockset_id = ?", bs.ID).Delete(&BlocksetEntry{}).Error; err != nil {
			return int64(len(orphanFiles)), 0, fmt.Errorf("catalog: delete entries of orphan blockset %d: %w", bs.ID, err)
		}
		if err := db.WithContext(ctx).Delete(&Blockset{}, bs.ID).Error; err != nil {
			return int64(len(orphanFiles)), 0, fmt.Errorf("catalog: delete orphan blockset %d: %w", bs.ID, err)
		}
	}

	return int64(len(orphanFiles)), int64(len(orphanBlocksets)), nil
}

// ListBlocksByVolume returns every block whose bytes live in the given
// dblock volume.
func (s *Store) ListBlocksByVolume(ctx context.Context, tx *Tx, volumeID int64) ([]Block, error) {
	db := s.db
	if tx != nil {
		db = tx.db
	}
	var blocks []Block
	if err := db.WithContext(ctx).Where("volume_id = ?", volumeID).Order("id").Find(&blocks).Error; err != nil {
		return nil, fmt.Errorf("catalog: list blocks for volume %d: %w", volumeID, err)
	}
	return blocks, nil
}

// BlockReferenceCounts reports, for each block id in blockIDs, how many
// blockset_entries reference it. A count of zero means the block is no
// longer reachable from any surviving blockset (spec.md §4.6 "the
// fraction of its blocks still referenced by some surviving blockset").
func (s *Store) BlockReferenceCounts(ctx context.Context, tx *Tx, blockIDs []int64) (map[int64]int64, error) {
	counts := make(map[int64]int64, len(blockIDs))
	for _, id := range blockIDs {
		counts[id] = 0
	}
	if len(blockIDs) == 0 {
		return counts, nil
	}

	db := s.db
	if tx != nil {
		db = tx.db
	}

	var rows []struct {
		BlockID int64
		N       int64
	}
	if err := db.WithContext(ctx).Model(&BlocksetEntry{}).
		Select("block_id, count(*) as n").
		Where("block_id IN ?", blockIDs).
		Group("block_id").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("catalog: count block references: %w", err)
	}
	for _, r := range rows {
		counts[r.BlockID] = r.N
	}
	return counts, nil
}

// ReassignBlockVolume records that a block's bytes now live in a
// different dblock volume, used when compact repacks referenced blocks
// into a fresh volume.
func (s *Store) ReassignBlockVolume(ctx context.Context, tx *Tx, blockID, newVolumeID int64) error {
	if err := tx.db.WithContext(ctx).Model(&Block{}).Where("id = ?", blockID).Update("volume_id", newVolumeID).Error; err != nil {
		return fmt.Errorf("catalog: reassign block %d to volume %d: %w", blockID, newVolumeID, err)
	}
	return nil
}

// DeleteBlocks removes block rows outright, used when compact discards
// blocks that turned out to have zero remaining references.
func (s *Store) DeleteBlocks(ctx context.Context, tx *Tx, blockIDs []int64) error {
	if len(blockIDs) == 0 {
		return nil
	}
	if err := tx.db.WithContext(ctx).Where("id IN ?", blockIDs).Delete(&Block{}).Error; err != nil {
		return fmt.Errorf("catalog: delete blocks: %w", err)
	}
	return nil
}

// BlocksetHashList returns a blockset's full hash and its block hashes
// in entry order, used to build a dindex's compact blockset-hash
// entries (spec.md §4.2 "blocklist-hash entries that record long
// blocksets in compact form").
func (s *Store) BlocksetHashList(ctx context.Context, tx *Tx, blocksetID int64) (fullHash string, blockHashes []string, err error) {
	db := s.db
	if tx != nil {
		db = tx.db
	}

	var bs Blockset
	if err := db.WithContext(ctx).First(&bs, blocksetID).Error; err != nil {
		return "", nil, fmt.Errorf("catalog: get blockset %d: %w", blocksetID, err)
	}

	var entries []BlocksetEntry
	if err := db.WithContext(ctx).Where("blockset_id = ?", blocksetID).Order("\"index\"").Find(&entries).Error; err != nil {
		return "", nil, fmt.Errorf("catalog: list entries of blockset %d: %w", blocksetID, err)
	}

	hashes := make([]string, len(entries))
	for i, e := range entries {
		var b Block
		if err := db.WithContext(ctx).First(&b, e.BlockID).Error; err != nil {
			return "", nil, fmt.Errorf("catalog: get block %d: %w", e.BlockID, err)
		}
		hashes[i] = b.Hash
	}
	return bs.FullHash, hashes, nil
}

// BlocksetsReferencingBlocks returns the distinct blockset ids that
// have at least one entry pointing at one of blockIDs.
func (s *Store) BlocksetsReferencingBlocks(ctx context.Context, tx *Tx, blockIDs []int64) ([]int64, error) {
	if len(blockIDs) == 0 {
		return nil, nil
	}
	db := s.db
	if tx != nil {
		db = tx.db
	}
	var ids []int64
	if err := db.WithContext(ctx).Model(&BlocksetEntry{}).
		Distinct("blockset_id").
		Where("block_id IN ?", blockIDs).
		Pluck("blockset_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("catalog: list blocksets referencing blocks: %w", err)
	}
	return ids, nil
}

// CreateRemoteVolumePaired inserts a new RemoteVolume row, optionally
// recording the dblock volume it indexes (for dindex rows).
func (s *Store) CreateRemoteVolumePaired(ctx context.Context, tx *Tx, name string, kind VolumeKind, pairedVolumeID *int64) (int64, error) {
	vol := RemoteVolume{Name: name, Kind: kind, State: VolumeStateTemporary, PairedVolumeID: pairedVolumeID}
	if err := tx.db.WithContext(ctx).Create(&vol).Error; err != nil {
		return 0, fmt.Errorf("catalog: create remote volume: %w", err)
	}
	return vol.ID, nil
}

// FindPairedDIndex returns the dindex volume paired with dblockVolumeID,
// if one has been recorded.
func (s *Store) FindPairedDIndex(ctx context.Context, tx *Tx, dblockVolumeID int64) (*RemoteVolume, bool, error) {
	db := s.db
	if tx != nil {
		db = tx.db
	}
	var vol RemoteVolume
	err := db.WithContext(ctx).Where("kind = ? AND paired_volume_id = ?", VolumeKindDIndex, dblockVolumeID).First(&vol).Error
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("catalog: find paired dindex for volume %d: %w", dblockVolumeID, err)
	}
	return &vol, true, nil
}
