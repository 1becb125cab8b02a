package verify

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coldvault/coldvault/pkg/catalog"
	"github.com/coldvault/coldvault/pkg/objectstore"
)

func TestLocal_EmptyCatalogIsOK(t *testing.T) {
	ctx := context.Background()
	store, err := catalog.Open(&catalog.Config{
		Type:   catalog.BackendSQLite,
		SQLite: catalog.SQLiteConfig{Path: filepath.Join(t.TempDir(), "catalog.db")},
	})
	require.NoError(t, err)
	defer store.Close()

	report, err := Local(ctx, store)
	require.NoError(t, err)
	require.True(t, report.OK())
}

func TestStrictRemote_DetectsMissingAndOrphanedObjects(t *testing.T) {
	ctx := context.Background()
	store, err := catalog.Open(&catalog.Config{
		Type:   catalog.BackendSQLite,
		SQLite: catalog.SQLiteConfig{Path: filepath.Join(t.TempDir(), "catalog.db")},
	})
	require.NoError(t, err)
	defer store.Close()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	id, err := store.CreateRemoteVolume(ctx, tx, "duplicati-abc-b-20250101T120000Z.zip.aes", catalog.VolumeKindDBlock)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	tx, err = store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.UpdateRemoteVolumeState(ctx, tx, id, catalog.VolumeStateUploading, 0, ""))
	require.NoError(t, store.UpdateRemoteVolumeState(ctx, tx, id, catalog.VolumeStateUploaded, 1024, "deadbeef"))
	require.NoError(t, tx.Commit())

	backend, err := objectstore.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	adapter := objectstore.NewAdapter(backend, objectstore.AdapterConfig{})
	adapter.Start(ctx)
	defer adapter.Close(5 * time.Second)

	// Backend holds an orphaned object with no catalog row, and is
	// missing the object the catalog believes is uploaded.
	result, err := adapter.Put(ctx, "duplicati-orphan-b-20250101T130000Z.zip.aes", strings.NewReader("orphan"), 6, nil)
	require.NoError(t, err)
	require.NoError(t, <-result)

	report, err := StrictRemote(ctx, store, adapter)
	require.NoError(t, err)
	require.False(t, report.OK())
	require.Contains(t, report.MissingRemote, "duplicati-abc-b-20250101T120000Z.zip.aes")
	require.Contains(t, report.OrphanedRemote, "duplicati-orphan-b-20250101T130000Z.zip.aes")
}
