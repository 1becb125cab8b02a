package purge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coldvault/coldvault/pkg/catalog"
	"github.com/coldvault/coldvault/pkg/volume"
)

// TestReconcile_RebuildsMissingDFilesetVolume simulates a dfileset blob
// lost after it was genuinely uploaded: the catalog still
// believes it durable, but the backend no longer has it. Reconcile must
// re-materialize and re-upload it without touching any other fileset.
func TestReconcile_RebuildsMissingDFilesetVolume(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	adapter := newTestAdapter(t)

	ts := time.Unix(1_700_000_100, 0).UTC()
	seedFileset(t, store, adapter, ts, []string{"/a.txt", "/b.txt"})

	ids, err := store.GetFilesetIDs(ctx, catalog.VersionSelector{})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	fs, err := store.GetFilesetByID(ctx, ids[0])
	require.NoError(t, err)
	vol, err := store.GetRemoteVolume(ctx, nil, fs.VolumeID)
	require.NoError(t, err)

	// Simulate the crash window this test targets: the catalog commit
	// that marks the volume uploaded already happened, but its blob never
	// reached the backend (or was lost before this run).
	delResult, err := adapter.Delete(ctx, vol.Name)
	require.NoError(t, err)
	require.NoError(t, <-delResult)

	report, err := Reconcile(ctx, store, adapter, testRepositoryParams())
	require.NoError(t, err)
	require.Len(t, report.Records, 1)
	require.Equal(t, "reuploaded", report.Records[0].Action)
	require.Equal(t, vol.Name, report.Records[0].VolumeName)

	entries, err := adapter.List(ctx, "")
	require.NoError(t, err)
	var found bool
	for _, e := range entries {
		if e.Name == vol.Name {
			found = true
		}
	}
	require.True(t, found, "expected re-uploaded volume to be present in the backend")

	ready, err := store.IsReadyForPurge(ctx)
	require.NoError(t, err)
	require.True(t, ready, "mid-repair flag must be cleared once Reconcile finishes")
}

// seedFilesetStrandedAtTemporary commits a fileset-rewrite transaction
// exactly as purge.rewriteOne does, but stops there: no flush hook ever
// ran and no bytes were ever handed to the backend. This is the actual
// crash window spec.md §8 scenario 6 describes, distinct from the
// post-upload blob loss TestReconcile_RebuildsMissingDFilesetVolume
// covers.
func seedFilesetStrandedAtTemporary(t *testing.T, store *catalog.Store, ts time.Time, paths []string) (name string, volID int64) {
	t.Helper()
	ctx := context.Background()

	name, err := volume.FormatFilename("cv", volume.KindDFileset, ts)
	require.NoError(t, err)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	volID, err = store.CreateRemoteVolume(ctx, tx, name, catalog.VolumeKindDFileset)
	require.NoError(t, err)

	var entries []catalog.FilesetEntryRecord
	for _, p := range paths {
		fileID, err := store.CreateFile(ctx, tx, &catalog.File{Path: p, Kind: catalog.FileKindFile})
		require.NoError(t, err)
		entries = append(entries, catalog.FilesetEntryRecord{FileID: fileID, Path: p, ModifiedAt: ts, LastModified: true})
	}

	_, err = store.WriteFileset(ctx, tx, ts, volID, true, entries)
	require.NoError(t, err)

	require.NoError(t, tx.Commit())
	return name, volID
}

// TestReconcile_RebuildsVolumeStrandedAtTemporary covers the crash window
// between a rewrite's commit and the point its upload actually begins: the
// volume row never advanced past "temporary" and the backend never
// received any bytes. Reconcile must still rebuild and upload it.
func TestReconcile_RebuildsVolumeStrandedAtTemporary(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	adapter := newTestAdapter(t)

	ts := time.Unix(1_700_000_300, 0).UTC()
	name, volID := seedFilesetStrandedAtTemporary(t, store, ts, []string{"/a.txt", "/b.txt"})

	vol, err := store.GetRemoteVolume(ctx, nil, volID)
	require.NoError(t, err)
	require.Equal(t, catalog.VolumeStateTemporary, vol.State, "volume must still be temporary: the upload never started")

	report, err := Reconcile(ctx, store, adapter, testRepositoryParams())
	require.NoError(t, err)
	require.Len(t, report.Records, 1)
	require.Equal(t, "reuploaded", report.Records[0].Action)
	require.Equal(t, name, report.Records[0].VolumeName)

	repaired, err := store.GetRemoteVolume(ctx, nil, volID)
	require.NoError(t, err)
	require.Equal(t, catalog.VolumeStateUploaded, repaired.State)

	entries, err := adapter.List(ctx, "")
	require.NoError(t, err)
	var found bool
	for _, e := range entries {
		if e.Name == name {
			found = true
		}
	}
	require.True(t, found, "expected re-uploaded volume to be present in the backend")
}

func TestReconcile_NoMissingVolumesIsANoop(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	adapter := newTestAdapter(t)

	seedFileset(t, store, adapter, time.Unix(1_700_000_200, 0).UTC(), []string{"/a.txt"})

	report, err := Reconcile(ctx, store, adapter, testRepositoryParams())
	require.NoError(t, err)
	require.Empty(t, report.Records)
}
