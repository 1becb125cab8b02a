package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coldvault/coldvault/pkg/catalog"
	"github.com/coldvault/coldvault/pkg/config"
)

func testRepositoryConfig(t *testing.T) config.RepositoryConfig {
	t.Helper()
	dir := t.TempDir()
	return config.RepositoryConfig{
		Catalog: catalog.Config{
			Type:   catalog.BackendSQLite,
			SQLite: catalog.SQLiteConfig{Path: filepath.Join(dir, "catalog.db")},
		},
		ObjectStore: config.ObjectStoreConfig{
			Type:  "local",
			Local: config.LocalConfig{Dir: filepath.Join(dir, "volumes")},
		},
		Volume: config.VolumeConfig{
			Prefix:        "cv",
			Passphrase:    "correct horse battery staple",
			Blocksize:     1 << 20,
			BlockHashAlgo: catalog.BlockHashSHA256,
			FileHashAlgo:  catalog.BlockHashSHA256,
			AppVersion:    "test",
		},
	}
}

func TestRegistry_OpenAndGet(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()

	repo, err := r.Open(ctx, "home", testRepositoryConfig(t))
	require.NoError(t, err)
	require.NotNil(t, repo.Store)
	require.NotNil(t, repo.Adapter)

	got, ok := r.Get("home")
	require.True(t, ok)
	require.Same(t, repo, got)

	require.ElementsMatch(t, []string{"home"}, r.Names())

	require.NoError(t, r.Close("home", 5*time.Second))
	_, ok = r.Get("home")
	require.False(t, ok)
}

func TestRegistry_OpenDuplicateNameFails(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	cfg := testRepositoryConfig(t)

	_, err := r.Open(ctx, "home", cfg)
	require.NoError(t, err)

	_, err = r.Open(ctx, "home", cfg)
	require.ErrorContains(t, err, "already registered")

	require.NoError(t, r.CloseAll(5*time.Second))
}

func TestRegistry_CloseUnknownFails(t *testing.T) {
	r := NewRegistry()
	err := r.Close("missing", 5*time.Second)
	require.ErrorContains(t, err, "not registered")
}

func TestRepository_ParamConversion(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	repo, err := r.Open(ctx, "home", testRepositoryConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.CloseAll(5 * time.Second) })

	purgeParams := repo.PurgeParams()
	require.Equal(t, "cv", purgeParams.Prefix)
	require.Equal(t, int64(1<<20), purgeParams.Blocksize)

	compactParams := repo.CompactParams()
	require.Equal(t, "cv", compactParams.Prefix)
	require.Equal(t, catalog.BlockHashSHA256, compactParams.BlockHashAlgo)
}
