package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestOpen_SecondSQLiteOpenIsRejected covers spec.md §5's "the catalog
// is exclusive per process": a second Open against the same database
// path, while the first Store is still open, must fail with
// ErrCatalogLocked rather than silently sharing the file.
func TestOpen_SecondSQLiteOpenIsRejected(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		Type:   BackendSQLite,
		SQLite: SQLiteConfig{Path: filepath.Join(dir, "catalog.db")},
	}

	first, err := Open(cfg)
	require.NoError(t, err)
	defer first.Close()

	_, err = Open(cfg)
	require.ErrorIs(t, err, ErrCatalogLocked)
}

// TestOpen_ReopenAfterCloseSucceeds covers the converse: once the
// holder closes its Store, the lock is released and a later Open
// against the same path succeeds.
func TestOpen_ReopenAfterCloseSucceeds(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		Type:   BackendSQLite,
		SQLite: SQLiteConfig{Path: filepath.Join(dir, "catalog.db")},
	}

	first, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}
