// Package catalog implements the local relational store of blocks,
// blocksets, files, filesets, and remote-volume state.
//
// The catalog is the single source of truth for what the repository
// believes exists, both locally and on the remote backend. All mutation
// happens inside a *Tx opened with Store.Begin; the catalog itself never
// talks to the backend (see pkg/objectstore).
package catalog

import (
	"time"
)

// BlockHashAlgorithm identifies the digest used to address blocks.
type BlockHashAlgorithm string

const (
	BlockHashSHA256 BlockHashAlgorithm = "sha256"
)

// FileKind enumerates the kinds of file record tracked by the catalog.
type FileKind string

const (
	FileKindFile    FileKind = "file"
	FileKindFolder  FileKind = "folder"
	FileKindSymlink FileKind = "symlink"
)

// VolumeKind enumerates the three remote-volume container kinds.
type VolumeKind string

const (
	VolumeKindDBlock   VolumeKind = "dblock"
	VolumeKindDIndex   VolumeKind = "dindex"
	VolumeKindDFileset VolumeKind = "dfileset"
)

// VolumeState is the remote-volume lifecycle state (spec.md §4.3).
type VolumeState string

const (
	VolumeStateTemporary VolumeState = "temporary"
	VolumeStateUploading VolumeState = "uploading"
	VolumeStateUploaded  VolumeState = "uploaded"
	VolumeStateVerified  VolumeState = "verified"
	VolumeStateDeleting  VolumeState = "deleting"
	VolumeStateDeleted   VolumeState = "deleted"
)

// Block is a fixed-size content chunk interned globally by (hash, size).
type Block struct {
	ID   int64  `gorm:"primaryKey;autoIncrement"`
	Hash string `gorm:"not null;size:128;uniqueIndex:idx_block_hash_size"`
	Size int64  `gorm:"not null;uniqueIndex:idx_block_hash_size"`

	// VolumeID is the dblock RemoteVolume this block's bytes live in.
	VolumeID int64 `gorm:"not null;index"`
}

func (Block) TableName() string { return "blocks" }

// Blockset is an ordered sequence of blocks representing a file's content
// or its metadata stream.
type Blockset struct {
	ID       int64              `gorm:"primaryKey;autoIncrement"`
	Length   int64              `gorm:"not null"`
	FullHash string             `gorm:"not null;size:128;index"`
	Entries  []BlocksetEntry    `gorm:"foreignKey:BlocksetID"`
	HashAlgo BlockHashAlgorithm `gorm:"not null;size:32"`
}

func (Blockset) TableName() string { return "blocksets" }

// BlocksetEntry pins one block at one ordinal position within a blockset.
type BlocksetEntry struct {
	ID         int64 `gorm:"primaryKey;autoIncrement"`
	BlocksetID int64 `gorm:"not null;index:idx_blockset_entry_order"`
	Index      int   `gorm:"not null;index:idx_blockset_entry_order"`
	BlockID    int64 `gorm:"not null;index"`
}

func (BlocksetEntry) TableName() string { return "blockset_entries" }

// File is a (path, content blockset, metadata blockset, kind) tuple.
// Paths are opaque byte strings; a trailing "/" marks a folder.
type File struct {
	ID                int64    `gorm:"primaryKey;autoIncrement"`
	Path              string   `gorm:"not null;index;size:4096"`
	Kind              FileKind `gorm:"not null;size:16"`
	ContentBlocksetID *int64   `gorm:"index"`
	MetaBlocksetID    *int64   `gorm:"index"`
}

func (File) TableName() string { return "files" }

// Fileset is a snapshot of the source tree at a point in time.
type Fileset struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	Timestamp    time.Time `gorm:"not null;uniqueIndex"`
	IsFullBackup bool      `gorm:"not null;default:false"`
	VolumeID     int64     `gorm:"not null;index"`
}

func (Fileset) TableName() string { return "filesets" }

// FilesetEntry is the membership join between a Fileset and a File, with
// per-entry timestamp metadata.
type FilesetEntry struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	FilesetID     int64     `gorm:"not null;index:idx_fileset_entry_fileset"`
	FileID        int64     `gorm:"not null;index"`
	ModifiedAt    time.Time `gorm:"not null"`
	LastModified  bool      `gorm:"not null;default:false"`
}

func (FilesetEntry) TableName() string { return "fileset_entries" }

// RemoteVolume tracks a single blob uploaded (or about to be uploaded) to
// the backend, together with its lifecycle state.
type RemoteVolume struct {
	ID              int64       `gorm:"primaryKey;autoIncrement"`
	Name            string      `gorm:"not null;uniqueIndex;size:512"`
	Kind            VolumeKind  `gorm:"not null;size:16"`
	Size            int64       `gorm:"not null;default:0"`
	Hash            string      `gorm:"size:128"`
	State           VolumeState `gorm:"not null;size:16;index"`
	DeleteGraceTime *time.Time

	// PairedVolumeID links a dindex row to the dblock volume it indexes
	// (nil for dblock and dfileset rows). The compact engine uses this
	// to find and retire a dblock volume's old dindex when the dblock
	// is rewritten.
	PairedVolumeID *int64 `gorm:"index"`
}

func (RemoteVolume) TableName() string { return "remote_volumes" }

// Operation is an append-only audit log of purge/compact invocations.
type Operation struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	Kind        string    `gorm:"not null;size:32"` // purge, compact, verify, repair
	StartedAt   time.Time `gorm:"not null"`
	FinishedAt  *time.Time
	Description string `gorm:"type:text"`
	Outcome     string `gorm:"size:32"` // success, failed, dry-run
	Detail      string `gorm:"type:text"`
}

func (Operation) TableName() string { return "operations" }

// RepositoryFlag is a process-wide single-row flag table. The only row
// (ID=1) carries TerminatedWithActiveUploads (spec.md §3 "Crash-flag")
// and the catalog-state flags purge/compact consult as a precondition
// (spec.md §4.5 precondition 2, §7 "Catalog-state" error kind).
type RepositoryFlag struct {
	ID                          int64 `gorm:"primaryKey"`
	TerminatedWithActiveUploads bool  `gorm:"not null;default:false"`
	PartiallyRecreated          bool  `gorm:"not null;default:false"`
	MidRepair                   bool  `gorm:"not null;default:false"`
}

func (RepositoryFlag) TableName() string { return "repository_flags" }

// AllModels returns every model for AutoMigrate, mirroring the teacher's
// models.AllModels convention.
func AllModels() []any {
	return []any{
		&Block{},
		&Blockset{},
		&BlocksetEntry{},
		&File{},
		&Fileset{},
		&FilesetEntry{},
		&RemoteVolume{},
		&Operation{},
		&RepositoryFlag{},
	}
}
