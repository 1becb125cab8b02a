package purge

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coldvault/coldvault/pkg/catalog"
	"github.com/coldvault/coldvault/pkg/objectstore"
	"github.com/coldvault/coldvault/pkg/volume"
)

func newTestStore(t *testing.T) *catalog.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := catalog.Open(&catalog.Config{
		Type:   catalog.BackendSQLite,
		SQLite: catalog.SQLiteConfig{Path: filepath.Join(dir, "catalog.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestAdapter(t *testing.T) *objectstore.Adapter {
	t.Helper()
	backend, err := objectstore.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	a := objectstore.NewAdapter(backend, objectstore.AdapterConfig{})
	ctx := context.Background()
	a.Start(ctx)
	t.Cleanup(func() { _ = a.Close(5 * time.Second) })
	return a
}

// seedFileset creates a fileset with one dfileset volume and the given
// file paths as its membership, actually sealing and uploading the
// volume's bytes through adapter so it round-trips like a real backup
// session would. Returns the created volume's name.
func seedFileset(t *testing.T, store *catalog.Store, adapter *objectstore.Adapter, ts time.Time, paths []string) string {
	t.Helper()
	ctx := context.Background()

	name, err := volume.FormatFilename("cv", volume.KindDFileset, ts)
	require.NoError(t, err)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	volID, err := store.CreateRemoteVolume(ctx, tx, name, catalog.VolumeKindDFileset)
	require.NoError(t, err)
	require.NoError(t, store.UpdateRemoteVolumeState(ctx, tx, volID, catalog.VolumeStateUploading, 0, ""))

	var entries []catalog.FilesetEntryRecord
	var records []volume.DFilesetFileRecord
	for _, p := range paths {
		fileID, err := store.CreateFile(ctx, tx, &catalog.File{Path: p, Kind: catalog.FileKindFile})
		require.NoError(t, err)
		entries = append(entries, catalog.FilesetEntryRecord{FileID: fileID, Path: p, ModifiedAt: ts, LastModified: true})
		records = append(records, volume.DFilesetFileRecord{Path: p, Kind: string(catalog.FileKindFile), ModifiedAt: ts, LastModified: true})
	}

	_, err = store.WriteFileset(ctx, tx, ts, volID, true, entries)
	require.NoError(t, err)

	repo := testRepositoryParams()
	w := volume.NewWriter(volume.NewManifest(repo.Blocksize, repo.BlockHashAlgo, repo.FileHashAlgo, repo.AppVersion))
	require.NoError(t, w.AddDFilesetEntry(nil, records))
	sealed, err := w.Seal(repo.Passphrase)
	require.NoError(t, err)

	require.NoError(t, store.UpdateRemoteVolumeState(ctx, tx, volID, catalog.VolumeStateUploaded, int64(len(sealed)), ""))
	require.NoError(t, tx.Commit())

	putResult, err := adapter.Put(ctx, name, bytes.NewReader(sealed), int64(len(sealed)), nil)
	require.NoError(t, err)
	require.NoError(t, <-putResult)

	return name
}

func testRepositoryParams() RepositoryParams {
	return RepositoryParams{
		Prefix:        "cv",
		Passphrase:    "correct horse battery staple",
		Blocksize:     1 << 20,
		BlockHashAlgo: catalog.BlockHashSHA256,
		FileHashAlgo:  catalog.BlockHashSHA256,
		AppVersion:    "test",
	}
}

func TestRun_RejectsEmptyFilter(t *testing.T) {
	store := newTestStore(t)
	adapter := newTestAdapter(t)
	_, err := Run(context.Background(), store, adapter, Options{Repository: testRepositoryParams()}, nil)
	require.ErrorIs(t, err, ErrEmptyFilter)
}

func TestRun_RejectsWhenOrphanFilesPresent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	adapter := newTestAdapter(t)

	_, err := store.CreateFile(ctx, nil, &catalog.File{Path: "/orphan.txt", Kind: catalog.FileKindFile})
	require.NoError(t, err)

	_, err = Run(ctx, store, adapter, Options{Filter: PathGlob("/nomatch"), Repository: testRepositoryParams(), SkipBackendVerification: true}, nil)
	require.ErrorIs(t, err, ErrOrphanFilesPresent)
}

func TestRun_RejectsWhenMidRepair(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	adapter := newTestAdapter(t)
	require.NoError(t, store.SetMidRepair(ctx, true))

	_, err := Run(ctx, store, adapter, Options{Filter: PathGlob("/a.txt"), Repository: testRepositoryParams(), SkipBackendVerification: true}, nil)
	require.ErrorIs(t, err, ErrCatalogNotReady)
}

func TestRun_RemovesMatchedPathAndRewritesFileset(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	adapter := newTestAdapter(t)

	ts := time.Unix(1_700_000_000, 0).UTC()
	seedFileset(t, store, adapter, ts, []string{"/keep.txt", "/secret.txt"})

	result, err := Run(ctx, store, adapter, Options{
		Filter:                  PathGlob("/secret.txt"),
		Repository:              testRepositoryParams(),
		SkipBackendVerification: true,
	}, nil)
	require.NoError(t, err)
	require.Len(t, result.Rewritten, 1)
	require.Equal(t, []string{"/secret.txt"}, result.Rewritten[0].RemovedPaths)
	require.Equal(t, 0, result.Unchanged)

	ids, err := store.GetFilesetIDs(ctx, catalog.VersionSelector{})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	require.Equal(t, result.Rewritten[0].NewFilesetID, ids[0])

	newVol, ok, err := findVolumeByName(ctx, store, result.Rewritten[0].NewVolumeName)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, catalog.VolumeStateUploaded, newVol.State)

	oldVol, ok, err := findVolumeByName(ctx, store, result.Rewritten[0].OldVolumeName)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, catalog.VolumeStateDeleted, oldVol.State)
}

// TestRun_RepeatedRunWithSameFilterIsANoop covers invariant R1: once a
// path has been purged, running the same filter again must succeed as
// a no-op rather than tripping precondition 3's orphan-files check.
// Before ReapOrphans ran from Run itself, the first call's rewrite left
// the dropped path's File row behind, and the second call's own
// precondition check then rejected it with ErrOrphanFilesPresent.
func TestRun_RepeatedRunWithSameFilterIsANoop(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	adapter := newTestAdapter(t)

	ts := time.Unix(1_700_000_400, 0).UTC()
	seedFileset(t, store, adapter, ts, []string{"/keep.txt", "/secret.txt"})

	opts := Options{
		Filter:                  PathGlob("/secret.txt"),
		Repository:              testRepositoryParams(),
		SkipBackendVerification: true,
	}

	first, err := Run(ctx, store, adapter, opts, nil)
	require.NoError(t, err)
	require.Len(t, first.Rewritten, 1)
	require.Zero(t, first.BlocksetsReaped)
	require.Equal(t, int64(1), first.FilesReaped)

	second, err := Run(ctx, store, adapter, opts, nil)
	require.NoError(t, err)
	require.Empty(t, second.Rewritten)
	require.Equal(t, 1, second.Unchanged)
	require.Zero(t, second.FilesReaped)
}

func TestRun_UnchangedWhenFilterMatchesNothing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	adapter := newTestAdapter(t)

	ts := time.Unix(1_700_000_000, 0).UTC()
	seedFileset(t, store, adapter, ts, []string{"/keep.txt"})

	result, err := Run(ctx, store, adapter, Options{
		Filter:                  PathGlob("/nomatch.txt"),
		Repository:              testRepositoryParams(),
		SkipBackendVerification: true,
	}, nil)
	require.NoError(t, err)
	require.Empty(t, result.Rewritten)
	require.Equal(t, 1, result.Unchanged)
}

func TestRun_DryRunMakesNoChanges(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	adapter := newTestAdapter(t)

	ts := time.Unix(1_700_000_000, 0).UTC()
	seedFileset(t, store, adapter, ts, []string{"/keep.txt", "/secret.txt"})

	result, err := Run(ctx, store, adapter, Options{
		Filter:                  PathGlob("/secret.txt"),
		Repository:              testRepositoryParams(),
		SkipBackendVerification: true,
		DryRun:                  true,
	}, nil)
	require.NoError(t, err)
	require.Len(t, result.Rewritten, 1)
	require.Equal(t, []string{"/secret.txt"}, result.Rewritten[0].WouldPurgePaths)

	// No new fileset was actually written.
	ids, err := store.GetFilesetIDs(ctx, catalog.VersionSelector{})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	fs, err := store.GetFilesetByID(ctx, ids[0])
	require.NoError(t, err)
	require.True(t, fs.Timestamp.Equal(ts))
}

func TestPathGlobFilter_Matches(t *testing.T) {
	f := PathGlob("/secret/*.txt")
	ok, err := f.Matches("/secret/a.txt")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.Matches("/other/a.txt")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCatalogSelectorFilter_Matches(t *testing.T) {
	f, err := CatalogSelector(`^/logs/.*\.log$`)
	require.NoError(t, err)

	ok, err := f.Matches("/logs/app.log")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.Matches("/logs/app.txt")
	require.NoError(t, err)
	require.False(t, ok)
}
