package catalog

import (
	"context"
	"fmt"
	"time"
)

// FilesetTime pairs a fileset id with its timestamp.
type FilesetTime struct {
	ID        int64
	Timestamp time.Time
}

// VersionSelector resolves a user-supplied time range or version index
// list to a set of filesets (spec.md §4.3 get_fileset_ids).
//
// Indices are newest-first: index 0 is the most recent fileset. Since/
// Until select an inclusive timestamp range. A selector may combine
// both; an empty selector matches every fileset.
type VersionSelector struct {
	Indices []int
	Since   *time.Time
	Until   *time.Time
}

// FilesetTimes returns every fileset's (id, timestamp), ordered newest
// first (spec.md §4.3 fileset_times).
func (s *Store) FilesetTimes(ctx context.Context) ([]FilesetTime, error) {
	var rows []Fileset
	if err := s.db.WithContext(ctx).Order("timestamp DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("catalog: list fileset times: %w", err)
	}
	out := make([]FilesetTime, len(rows))
	for i, r := range rows {
		out[i] = FilesetTime{ID: r.ID, Timestamp: r.Timestamp}
	}
	return out, nil
}

// GetFilesetIDs resolves sel to an ordered set of fileset ids, newest
// first (spec.md §4.3 get_fileset_ids). Returns ErrNoVersionsMatched if
// the selector resolves to zero filesets (spec.md §4.5 precondition 4).
func (s *Store) GetFilesetIDs(ctx context.Context, sel VersionSelector) ([]int64, error) {
	times, err := s.FilesetTimes(ctx)
	if err != nil {
		return nil, err
	}

	var matched []int64
	seen := make(map[int64]bool)

	add := func(id int64) {
		if !seen[id] {
			seen[id] = true
			matched = append(matched, id)
		}
	}

	if len(sel.Indices) == 0 && sel.Since == nil && sel.Until == nil {
		for _, t := range times {
			add(t.ID)
		}
	} else {
		for _, idx := range sel.Indices {
			if idx < 0 || idx >= len(times) {
				continue
			}
			add(times[idx].ID)
		}
		if sel.Since != nil || sel.Until != nil {
			for _, t := range times {
				if sel.Since != nil && t.Timestamp.Before(*sel.Since) {
					continue
				}
				if sel.Until != nil && t.Timestamp.After(*sel.Until) {
					continue
				}
				add(t.ID)
			}
		}
	}

	if len(matched) == 0 {
		return nil, ErrNoVersionsMatched
	}
	return matched, nil
}

// CountOrphanFiles counts files referenced by no fileset (spec.md §4.3
// count_orphan_files, invariant P5).
func (s *Store) CountOrphanFiles(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&File{}).
		Where("id NOT IN (SELECT DISTINCT file_id FROM fileset_entries)").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("catalog: count orphan files: %w", err)
	}
	return count, nil
}

// ProbeUnusedFilename returns a timestamp >= original that no existing
// fileset row already uses, and which is strictly less than the timestamp
// of the next-newer fileset; remote_volumes names are not consulted
// fileset (spec.md §4.3 probe_unused_filename). Candidate timestamps are
// tried at one-second resolution, matching the filename format's second
// precision (spec.md §6).
func (s *Store) ProbeUnusedFilename(ctx context.Context, tx *Tx, original time.Time, nextNewer *time.Time) (time.Time, error) {
	db := tx.db

	var takenTimestamps []time.Time
	if err := db.WithContext(ctx).Model(&Fileset{}).Pluck("timestamp", &takenTimestamps).Error; err != nil {
		return time.Time{}, fmt.Errorf("catalog: probe unused filename: %w", err)
	}
	taken := make(map[int64]bool, len(takenTimestamps))
	for _, t := range takenTimestamps {
		taken[t.Unix()] = true
	}

	candidate := original.Truncate(time.Second)
	for {
		if nextNewer != nil && !candidate.Before(*nextNewer) {
			return time.Time{}, ErrTimestampCollision
		}
		if !taken[candidate.Unix()] {
			return candidate, nil
		}
		candidate = candidate.Add(time.Second)
	}
}

// ScratchFileset is a mutable, in-memory clone of a fileset's membership
// used while a purge filter is applied. It is not persisted until
// convertToPermanent writes it through WriteFileset.
type ScratchFileset struct {
	SourceFilesetID int64
	Entries         []FilesetEntryRecord
}

// FilesetEntryRecord is one membership row, detached from any particular
// Fileset id so it can be carried between the scratch structure and the
// final WriteFileset call.
type FilesetEntryRecord struct {
	FileID       int64
	Path         string
	ModifiedAt   time.Time
	LastModified bool
}

// CreateTemporaryFileset clones sourceFilesetID's membership into a
// mutable scratch structure bound to tx (spec.md §4.3
// create_temporary_fileset).
func (s *Store) CreateTemporaryFileset(ctx context.Context, tx *Tx, sourceFilesetID int64) (*ScratchFileset, error) {
	db := s.db
	if tx != nil {
		db = tx.db
	}

	var entries []FilesetEntry
	if err := db.WithContext(ctx).Where("fileset_id = ?", sourceFilesetID).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("catalog: load fileset membership: %w", err)
	}

	scratch := &ScratchFileset{SourceFilesetID: sourceFilesetID}
	for _, e := range entries {
		var f File
		if err := db.WithContext(ctx).First(&f, e.FileID).Error; err != nil {
			return nil, fmt.Errorf("catalog: load file %d: %w", e.FileID, err)
		}
		scratch.Entries = append(scratch.Entries, FilesetEntryRecord{
			FileID:       f.ID,
			Path:         f.Path,
			ModifiedAt:   e.ModifiedAt,
			LastModified: e.LastModified,
		})
	}
	return scratch, nil
}

// RemoteVolumeRef identifies a remote volume row without carrying its
// full state.
type RemoteVolumeRef struct {
	ID   int64
	Name string
}

// DropFilesetsFromTable removes fileset rows whose timestamps appear in
// timestamps and returns the now-orphaned remote volumes so the caller
// can transition them to deleting (spec.md §4.3
// drop_filesets_from_table).
func (s *Store) DropFilesetsFromTable(ctx context.Context, tx *Tx, timestamps []time.Time) ([]RemoteVolumeRef, error) {
	var filesets []Fileset
	if err := tx.db.WithContext(ctx).Where("timestamp IN ?", timestamps).Find(&filesets).Error; err != nil {
		return nil, fmt.Errorf("catalog: lookup filesets to drop: %w", err)
	}

	var refs []RemoteVolumeRef
	for _, fs := range filesets {
		var vol RemoteVolume
		if err := tx.db.WithContext(ctx).First(&vol, fs.VolumeID).Error; err != nil {
			return nil, fmt.Errorf("catalog: lookup volume %d: %w", fs.VolumeID, err)
		}
		refs = append(refs, RemoteVolumeRef{ID: vol.ID, Name: vol.Name})

		if err := tx.db.WithContext(ctx).Where("fileset_id = ?", fs.ID).Delete(&FilesetEntry{}).Error; err != nil {
			return nil, fmt.Errorf("catalog: delete fileset entries for %d: %w", fs.ID, err)
		}
		if err := tx.db.WithContext(ctx).Delete(&fs).Error; err != nil {
			return nil, fmt.Errorf("catalog: delete fileset %d: %w", fs.ID, err)
		}
	}
	return refs, nil
}

// WriteFileset persists a new fileset bound to volume with the given
// membership (spec.md §4.3 write_fileset). isFullBackup mirrors the
// source fileset's flag; callers pass false for a purge-produced
// fileset since purges never constitute a new full backup.
func (s *Store) WriteFileset(ctx context.Context, tx *Tx, timestamp time.Time, volumeID int64, isFullBackup bool, entries []FilesetEntryRecord) (int64, error) {
	fs := Fileset{Timestamp: timestamp, VolumeID: volumeID, IsFullBackup: isFullBackup}
	if err := tx.db.WithContext(ctx).Create(&fs).Error; err != nil {
		return 0, fmt.Errorf("catalog: create fileset: %w", err)
	}

	for _, e := range entries {
		row := FilesetEntry{
			FilesetID:    fs.ID,
			FileID:       e.FileID,
			ModifiedAt:   e.ModifiedAt,
			LastModified: e.LastModified,
		}
		if err := tx.db.WithContext(ctx).Create(&row).Error; err != nil {
			return 0, fmt.Errorf("catalog: create fileset entry: %w", err)
		}
	}
	return fs.ID, nil
}

// CreateRemoteVolume inserts a new RemoteVolume row in the temporary
// state, returning its id.
func (s *Store) CreateRemoteVolume(ctx context.Context, tx *Tx, name string, kind VolumeKind) (int64, error) {
	vol := RemoteVolume{Name: name, Kind: kind, State: VolumeStateTemporary}
	if err := tx.db.WithContext(ctx).Create(&vol).Error; err != nil {
		return 0, fmt.Errorf("catalog: create remote volume: %w", err)
	}
	return vol.ID, nil
}

// CreateFile inserts a new file record, returning its id. tx may be nil
// to run outside any transaction.
func (s *Store) CreateFile(ctx context.Context, tx *Tx, f *File) (int64, error) {
	db := s.db
	if tx != nil {
		db = tx.db
	}
	if err := db.WithContext(ctx).Create(f).Error; err != nil {
		return 0, fmt.Errorf("catalog: create file: %w", err)
	}
	return f.ID, nil
}

// GetFilesetByID looks up a fileset row by id.
func (s *Store) GetFilesetByID(ctx context.Context, id int64) (*Fileset, error) {
	var fs Fileset
	if err := s.db.WithContext(ctx).First(&fs, id).Error; err != nil {
		return nil, fmt.Errorf("catalog: get fileset %d: %w", id, err)
	}
	return &fs, nil
}

// GetBlockset looks up a blockset by id, used when materializing a
// dfileset's file-list entries from catalog rows.
func (s *Store) GetBlockset(ctx context.Context, tx *Tx, id int64) (*Blockset, error) {
	var bs Blockset
	db := s.db
	if tx != nil {
		db = tx.db
	}
	if err := db.WithContext(ctx).First(&bs, id).Error; err != nil {
		return nil, fmt.Errorf("catalog: get blockset %d: %w", id, err)
	}
	return &bs, nil
}

// GetFile looks up a file record by id.
func (s *Store) GetFile(ctx context.Context, tx *Tx, id int64) (*File, error) {
	var f File
	db := s.db
	if tx != nil {
		db = tx.db
	}
	if err := db.WithContext(ctx).First(&f, id).Error; err != nil {
		return nil, fmt.Errorf("catalog: get file %d: %w", id, err)
	}
	return &f, nil
}
