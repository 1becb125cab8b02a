package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(&Config{
		Type:   BackendSQLite,
		SQLite: SQLiteConfig{Path: filepath.Join(dir, "catalog.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustCreateBlock(t *testing.T, store *Store, hash string, size int64, volumeID int64) *Block {
	t.Helper()
	b := &Block{Hash: hash, Size: size, VolumeID: volumeID}
	require.NoError(t, store.db.Create(b).Error)
	return b
}

func TestCountOrphanFiles(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	f := &File{Path: "/a.txt", Kind: FileKindFile}
	require.NoError(t, store.db.Create(f).Error)

	count, err := store.CountOrphanFiles(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	fs := &Fileset{Timestamp: time.Now(), VolumeID: 1}
	require.NoError(t, store.db.Create(fs).Error)
	require.NoError(t, store.db.Create(&FilesetEntry{FilesetID: fs.ID, FileID: f.ID, ModifiedAt: time.Now()}).Error)

	count, err = store.CountOrphanFiles(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
}

func TestProbeUnusedFilename_Collision(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	t10 := time.Unix(10, 0).UTC()
	t11 := time.Unix(11, 0).UTC()
	require.NoError(t, store.db.Create(&Fileset{Timestamp: t10, VolumeID: 1}).Error)
	require.NoError(t, store.db.Create(&Fileset{Timestamp: t11, VolumeID: 2}).Error)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	// original == t10 which is taken; the only other candidate before
	// t11 is t10 itself (already taken), so the next attempt (t11) hits
	// the nextNewer boundary and must fail with ErrTimestampCollision.
	_, err = store.ProbeUnusedFilename(ctx, tx, t10, &t11)
	require.ErrorIs(t, err, ErrTimestampCollision)
}

func TestProbeUnusedFilename_FindsFreeSlot(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	t10 := time.Unix(10, 0).UTC()
	t20 := time.Unix(20, 0).UTC()
	require.NoError(t, store.db.Create(&Fileset{Timestamp: t10, VolumeID: 1}).Error)
	require.NoError(t, store.db.Create(&Fileset{Timestamp: t20, VolumeID: 2}).Error)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	got, err := store.ProbeUnusedFilename(ctx, tx, t10, &t20)
	require.NoError(t, err)
	require.True(t, got.After(t10) || got.Equal(t10.Add(time.Second)))
	require.True(t, got.Before(t20))
}

func TestUpdateRemoteVolumeState_EnforcesForwardEdges(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	id, err := store.CreateRemoteVolume(ctx, tx, "vol-1", VolumeKindDBlock)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	// temporary -> uploading is allowed.
	require.NoError(t, store.UpdateRemoteVolumeState(ctx, tx, id, VolumeStateUploading, 0, ""))
	// uploading -> verified is not (must go through uploaded first).
	err = store.UpdateRemoteVolumeState(ctx, tx, id, VolumeStateVerified, 0, "")
	require.ErrorIs(t, err, ErrInvalidStateTransition)
	// uploading -> uploaded is allowed.
	require.NoError(t, store.UpdateRemoteVolumeState(ctx, tx, id, VolumeStateUploaded, 1024, "deadbeef"))
	// deleted is terminal: uploaded -> deleting -> deleted, then no further transitions.
	require.NoError(t, store.UpdateRemoteVolumeState(ctx, tx, id, VolumeStateDeleting, 0, ""))
	require.NoError(t, store.UpdateRemoteVolumeState(ctx, tx, id, VolumeStateDeleted, 0, ""))
	err = store.UpdateRemoteVolumeState(ctx, tx, id, VolumeStateUploading, 0, "")
	require.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestVerifyConsistency_UniqueBlockReportsNoViolations(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	mustCreateBlock(t, store, "same-hash", 100, 1)
	// Bypass the unique index deliberately is not possible with
	// AutoMigrate enforcing it; instead this test checks the happy path
	// returns zero violations, and relies on TestUpdateRemoteVolumeState
	// and the unique index itself (exercised implicitly by gorm) for P1.
	report, err := store.VerifyConsistency(ctx, nil, VerifyOptions{Strict: true})
	require.NoError(t, err)
	require.True(t, report.OK())
}

func TestVerifyConsistency_MonotonicFilesets(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.db.Create(&RemoteVolume{ID: 1, Name: "vol-1", Kind: VolumeKindDFileset, State: VolumeStateUploaded}).Error)
	require.NoError(t, store.db.Create(&RemoteVolume{ID: 2, Name: "vol-2", Kind: VolumeKindDFileset, State: VolumeStateUploaded}).Error)
	require.NoError(t, store.db.Create(&Fileset{Timestamp: time.Unix(10, 0), VolumeID: 1}).Error)
	require.NoError(t, store.db.Create(&Fileset{Timestamp: time.Unix(20, 0), VolumeID: 2}).Error)

	report, err := store.VerifyConsistency(ctx, nil, VerifyOptions{})
	require.NoError(t, err)
	require.True(t, report.OK())
}
