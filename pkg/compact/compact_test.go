package compact

import (
	"bytes"
	"context"
	"fmt"
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

// seededBlock is one block planted in a seeded dblock volume; whether it
// is wired into a surviving blockset depends on seedDBlockVolume's
// referencedCount.
type seededBlock struct {
	hash string
	data []byte
}

// seedDBlockVolume creates a dblock volume containing blocks, actually
// sealing and uploading it through adapter, and interns a catalog Block
// row for each. referencedCount of the leading blocks are then wired
// into a blockset referenced by a file that belongs to a real fileset,
// so only those survive as "referenced"; the remainder are planted as
// unreferenced filler. Returns the volume's name and id.
func seedDBlockVolume(t *testing.T, store *catalog.Store, adapter *objectstore.Adapter, blocks []seededBlock, referencedCount int) (string, int64) {
	t.Helper()
	ctx := context.Background()
	repo := testRepositoryParams()

	name, err := volume.FormatFilename(repo.Prefix, volume.KindDBlock, time.Now().UTC())
	require.NoError(t, err)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	volID, err := store.CreateRemoteVolume(ctx, tx, name, catalog.VolumeKindDBlock)
	require.NoError(t, err)
	require.NoError(t, store.UpdateRemoteVolumeState(ctx, tx, volID, catalog.VolumeStateUploading, 0, ""))

	w := volume.NewWriter(volume.NewManifest(repo.Blocksize, repo.BlockHashAlgo, repo.FileHashAlgo, repo.AppVersion))
	blockIDs := make([]int64, len(blocks))
	for i, b := range blocks {
		w.AddDBlockEntry(b.hash, b.data)
		id, err := store.CreateBlock(ctx, tx, &catalog.Block{Hash: b.hash, Size: int64(len(b.data)), VolumeID: volID})
		require.NoError(t, err)
		blockIDs[i] = id
	}
	sealed, err := w.Seal(repo.Passphrase)
	require.NoError(t, err)

	if referencedCount > 0 {
		bs := &catalog.Blockset{Length: int64(len(blocks[0].data)) * int64(referencedCount), FullHash: "fullhash-" + name, HashAlgo: repo.BlockHashAlgo}
		bsID, err := store.CreateBlockset(ctx, tx, bs, blockIDs[:referencedCount])
		require.NoError(t, err)

		fileID, err := store.CreateFile(ctx, tx, &catalog.File{Path: fmt.Sprintf("/referenced-%s.bin", name), Kind: catalog.FileKindFile, ContentBlocksetID: &bsID})
		require.NoError(t, err)

		fsVolName, err := volume.FormatFilename(repo.Prefix, volume.KindDFileset, time.Now().UTC())
		require.NoError(t, err)
		fsVolID, err := store.CreateRemoteVolume(ctx, tx, fsVolName, catalog.VolumeKindDFileset)
		require.NoError(t, err)
		require.NoError(t, store.UpdateRemoteVolumeState(ctx, tx, fsVolID, catalog.VolumeStateUploading, 0, ""))
		require.NoError(t, store.UpdateRemoteVolumeState(ctx, tx, fsVolID, catalog.VolumeStateUploaded, 1, ""))

		_, err = store.WriteFileset(ctx, tx, time.Now().UTC(), fsVolID, true, []catalog.FilesetEntryRecord{
			{FileID: fileID, Path: fmt.Sprintf("/referenced-%s.bin", name), ModifiedAt: time.Now().UTC(), LastModified: true},
		})
		require.NoError(t, err)
	}

	require.NoError(t, store.UpdateRemoteVolumeState(ctx, tx, volID, catalog.VolumeStateUploaded, int64(len(sealed)), ""))
	require.NoError(t, tx.Commit())

	putResult, err := adapter.Put(ctx, name, bytes.NewReader(sealed), int64(len(sealed)), nil)
	require.NoError(t, err)
	require.NoError(t, <-putResult)

	return name, volID
}

func blockSet(n int, size int) []seededBlock {
	out := make([]seededBlock, n)
	for i := 0; i < n; i++ {
		data := bytes.Repeat([]byte{byte(i + 1)}, size)
		out[i] = seededBlock{hash: fmt.Sprintf("hash-%d", i), data: data}
	}
	return out
}

func TestRun_RejectsWhenMidRepair(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	adapter := newTestAdapter(t)
	require.NoError(t, store.SetMidRepair(ctx, true))

	_, err := Run(ctx, store, adapter, Options{Repository: testRepositoryParams()}, nil)
	require.ErrorIs(t, err, ErrCatalogNotReady)
}

func TestRun_ReapsOrphanFiles(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	adapter := newTestAdapter(t)

	_, err := store.CreateFile(ctx, nil, &catalog.File{Path: "/orphan.txt", Kind: catalog.FileKindFile})
	require.NoError(t, err)

	result, err := Run(ctx, store, adapter, Options{Repository: testRepositoryParams()}, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.FilesReaped)

	orphans, err := store.CountOrphanFiles(ctx)
	require.NoError(t, err)
	require.Zero(t, orphans)
}

func TestRun_DeletesZeroReferenceVolume(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	adapter := newTestAdapter(t)

	name, volID := seedDBlockVolume(t, store, adapter, blockSet(3, 64), 0)

	result, err := Run(ctx, store, adapter, Options{Repository: testRepositoryParams()}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{name}, result.Deleted)

	vol, err := store.GetRemoteVolume(ctx, nil, volID)
	require.NoError(t, err)
	require.Equal(t, catalog.VolumeStateDeleted, vol.State)

	entries, err := adapter.List(ctx, "")
	require.NoError(t, err)
	for _, e := range entries {
		require.NotEqual(t, name, e.Name)
	}
}

func TestRun_RewritesSparseVolume(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	adapter := newTestAdapter(t)

	oldName, oldVolID := seedDBlockVolume(t, store, adapter, blockSet(10, 64), 1)

	result, err := Run(ctx, store, adapter, Options{Repository: testRepositoryParams()}, nil)
	require.NoError(t, err)
	require.Len(t, result.Rewritten, 1)
	rewritten := result.Rewritten[0]
	require.Equal(t, oldName, rewritten.OldVolumeName)
	require.Equal(t, 1, rewritten.BlocksRetained)
	require.Equal(t, 9, rewritten.BlocksDropped)

	oldVol, err := store.GetRemoteVolume(ctx, nil, oldVolID)
	require.NoError(t, err)
	require.Equal(t, catalog.VolumeStateDeleted, oldVol.State)

	newVols, err := store.ListRemoteVolumesByKind(ctx, catalog.VolumeKindDBlock)
	require.NoError(t, err)
	var newVol *catalog.RemoteVolume
	for i := range newVols {
		if newVols[i].Name == rewritten.NewVolumeName {
			newVol = &newVols[i]
		}
	}
	require.NotNil(t, newVol)
	require.Equal(t, catalog.VolumeStateUploaded, newVol.State)

	blocks, err := store.ListBlocksByVolume(ctx, nil, newVol.ID)
	require.NoError(t, err)
	require.Len(t, blocks, 1)

	entries, err := adapter.List(ctx, "")
	require.NoError(t, err)
	var sawNewDIndex bool
	for _, e := range entries {
		if e.Name == rewritten.NewDIndexName {
			sawNewDIndex = true
		}
		require.NotEqual(t, oldName, e.Name)
	}
	require.True(t, sawNewDIndex, "expected new dindex volume to be uploaded")
}

func TestRun_LeavesWellReferencedVolumeUnchanged(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	adapter := newTestAdapter(t)

	seedDBlockVolume(t, store, adapter, blockSet(2, 64), 2)

	result, err := Run(ctx, store, adapter, Options{Repository: testRepositoryParams()}, nil)
	require.NoError(t, err)
	require.Empty(t, result.Rewritten)
	require.Empty(t, result.Deleted)
	require.Equal(t, 1, result.Unchanged)
}
