package catalog

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// ConsistencyReport summarizes the outcome of VerifyConsistency.
type ConsistencyReport struct {
	Blocks     int64
	Blocksets  int64
	Files      int64
	Filesets   int64
	Violations []string
}

// OK reports whether the catalog passed every invariant check.
func (r *ConsistencyReport) OK() bool {
	return len(r.Violations) == 0
}

// VerifyOptions configures VerifyConsistency.
type VerifyOptions struct {
	// Strict additionally checks blockset length invariants (P2), which
	// require summing every block in every blockset and so is more
	// expensive than the structural checks alone.
	Strict bool
}

// VerifyConsistency checks the local invariants of spec.md §8: P1 (block
// uniqueness, enforced by a unique index and re-checked here for rows
// that predate the index), P2 (blockset length), P3 (referential
// integrity), and P4 (monotonic fileset timestamps). P6 (volume
// state-machine safety) is enforced by construction in
// UpdateRemoteVolumeState and is not checked here.
func (s *Store) VerifyConsistency(ctx context.Context, tx *Tx, opts VerifyOptions) (*ConsistencyReport, error) {
	db := s.db
	if tx != nil {
		db = tx.db
	}
	report := &ConsistencyReport{}

	db.WithContext(ctx).Model(&Block{}).Count(&report.Blocks)
	db.WithContext(ctx).Model(&Blockset{}).Count(&report.Blocksets)
	db.WithContext(ctx).Model(&File{}).Count(&report.Files)
	db.WithContext(ctx).Model(&Fileset{}).Count(&report.Filesets)

	// P1: (hash, size) uniqueness.
	var dupCount int64
	if err := db.WithContext(ctx).Model(&Block{}).
		Select("hash, size, COUNT(*) as c").
		Group("hash, size").
		Having("COUNT(*) > 1").
		Count(&dupCount).Error; err != nil {
		return nil, fmt.Errorf("catalog: verify P1: %w", err)
	}
	if dupCount > 0 {
		report.Violations = append(report.Violations,
			fmt.Sprintf("P1: %d (hash,size) pairs are duplicated across blocks", dupCount))
	}

	// P3: every file references an existing blockset (when set).
	var danglingContent int64
	db.WithContext(ctx).Model(&File{}).
		Where("content_blockset_id IS NOT NULL AND content_blockset_id NOT IN (SELECT id FROM blocksets)").
		Count(&danglingContent)
	if danglingContent > 0 {
		report.Violations = append(report.Violations,
			fmt.Sprintf("P3: %d files reference a missing content blockset", danglingContent))
	}

	// P3: every fileset entry references an existing file.
	var danglingEntries int64
	db.WithContext(ctx).Model(&FilesetEntry{}).
		Where("file_id NOT IN (SELECT id FROM files)").
		Count(&danglingEntries)
	if danglingEntries > 0 {
		report.Violations = append(report.Violations,
			fmt.Sprintf("P3: %d fileset entries reference a missing file", danglingEntries))
	}

	// P3: every fileset's remote-volume reference points to an existing
	// volume.
	var danglingVolumes int64
	db.WithContext(ctx).Model(&Fileset{}).
		Where("volume_id NOT IN (SELECT id FROM remote_volumes)").
		Count(&danglingVolumes)
	if danglingVolumes > 0 {
		report.Violations = append(report.Violations,
			fmt.Sprintf("P3: %d filesets reference a missing remote volume", danglingVolumes))
	}

	// P4: filesets sorted by id are strictly increasing in timestamp.
	var filesets []Fileset
	db.WithContext(ctx).Order("id ASC").Find(&filesets)
	for i := 1; i < len(filesets); i++ {
		if !filesets[i].Timestamp.After(filesets[i-1].Timestamp) {
			report.Violations = append(report.Violations, fmt.Sprintf(
				"P4: fileset %d (t=%s) is not strictly newer than fileset %d (t=%s)",
				filesets[i].ID, filesets[i].Timestamp, filesets[i-1].ID, filesets[i-1].Timestamp))
			break
		}
	}

	if opts.Strict {
		violations, err := verifyBlocksetLengths(ctx, db)
		if err != nil {
			return nil, err
		}
		report.Violations = append(report.Violations, violations...)
	}

	return report, nil
}

// verifyBlocksetLengths checks P2: for every blockset, the sum of its
// block sizes equals the declared length, and every non-terminal block
// is exactly blocksize. Because "blocksize" is a per-repository
// configured constant rather than a catalog column, this takes it to be
// the size of the blockset's first block.
func verifyBlocksetLengths(ctx context.Context, db *gorm.DB) ([]string, error) {
	var blocksets []Blockset
	if err := db.WithContext(ctx).Find(&blocksets).Error; err != nil {
		return nil, fmt.Errorf("catalog: verify P2: load blocksets: %w", err)
	}

	var violations []string
	for _, bs := range blocksets {
		var entries []BlocksetEntry
		if err := db.WithContext(ctx).Where("blockset_id = ?", bs.ID).Order("\"index\" ASC").Find(&entries).Error; err != nil {
			return nil, fmt.Errorf("catalog: verify P2: load entries for blockset %d: %w", bs.ID, err)
		}
		if len(entries) == 0 {
			if bs.Length != 0 {
				violations = append(violations, fmt.Sprintf(
					"P2: blockset %d has no blocks but declares length %d", bs.ID, bs.Length))
			}
			continue
		}

		var total int64
		for _, e := range entries {
			var b Block
			if err := db.WithContext(ctx).First(&b, e.BlockID).Error; err != nil {
				return nil, fmt.Errorf("catalog: verify P2: load block %d: %w", e.BlockID, err)
			}
			total += b.Size
		}
		if total != bs.Length {
			violations = append(violations, fmt.Sprintf(
				"P2: blockset %d sums to %d bytes but declares length %d", bs.ID, total, bs.Length))
		}

		if len(entries) > 1 {
			var first Block
			if err := db.WithContext(ctx).First(&first, entries[0].BlockID).Error; err != nil {
				return nil, fmt.Errorf("catalog: verify P2: load block %d: %w", entries[0].BlockID, err)
			}
			blocksize := first.Size
			for i := 0; i < len(entries)-1; i++ {
				var b Block
				if err := db.WithContext(ctx).First(&b, entries[i].BlockID).Error; err != nil {
					return nil, fmt.Errorf("catalog: verify P2: load block %d: %w", entries[i].BlockID, err)
				}
				if b.Size != blocksize {
					violations = append(violations, fmt.Sprintf(
						"P2: blockset %d block at index %d has size %d, expected non-terminal size %d",
						bs.ID, i, b.Size, blocksize))
				}
			}
		}
	}
	return violations, nil
}
