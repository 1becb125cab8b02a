package objectstore

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalBackend_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	backend, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, backend.Put(ctx, "dblock-abc123.zip.aes", bytes.NewReader([]byte("hello")), 5))

	r, err := backend.Get(ctx, "dblock-abc123.zip.aes")
	require.NoError(t, err)
	defer r.Close()

	entries, err := backend.List(ctx, "dblock-")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "dblock-abc123.zip.aes", entries[0].Name)

	require.NoError(t, backend.Delete(ctx, "dblock-abc123.zip.aes"))
	_, err = backend.Get(ctx, "dblock-abc123.zip.aes")
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting twice is idempotent.
	require.NoError(t, backend.Delete(ctx, "dblock-abc123.zip.aes"))
}

func TestAdapter_OrdersOperationsFIFO(t *testing.T) {
	ctx := context.Background()
	backend, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	adapter := NewAdapter(backend, AdapterConfig{})
	adapter.Start(ctx)
	defer adapter.Close(5 * time.Second)

	putResult, err := adapter.Put(ctx, "dblock-1.zip.aes", bytes.NewReader([]byte("payload")), 7, nil)
	require.NoError(t, err)
	deleteResult, err := adapter.Delete(ctx, "dblock-1.zip.aes")
	require.NoError(t, err)

	require.NoError(t, <-putResult)
	require.NoError(t, <-deleteResult)

	require.NoError(t, adapter.WaitForEmpty(ctx))

	_, err = backend.Get(ctx, "dblock-1.zip.aes")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAdapter_WaitForEmptyReturnsWhenQuiescent(t *testing.T) {
	ctx := context.Background()
	backend, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	adapter := NewAdapter(backend, AdapterConfig{})
	adapter.Start(ctx)
	defer adapter.Close(5 * time.Second)

	for i := 0; i < 20; i++ {
		_, err := adapter.Put(ctx, "dblock-batch.zip.aes", bytes.NewReader([]byte("x")), 1, nil)
		require.NoError(t, err)
	}

	require.NoError(t, adapter.WaitForEmpty(ctx))
	pending, _, _, _ := adapter.Stats()
	require.Equal(t, 0, pending)
}
