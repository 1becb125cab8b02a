package volume

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coldvault/coldvault/pkg/catalog"
)

func TestFormatFilename_RoundTrip(t *testing.T) {
	created := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	name, err := FormatFilename("duplicati", KindDBlock, created)
	require.NoError(t, err)
	require.Regexp(t, `^duplicati-[0-9a-f]{6}-b-20250101T120000Z\.zip\.aes$`, name)

	parsed, err := ParseFilename(name)
	require.NoError(t, err)
	require.Equal(t, "duplicati", parsed.Prefix)
	require.Equal(t, KindDBlock, parsed.Kind)
	require.True(t, parsed.Created.Equal(created))
}

func TestWriterReader_DBlockRoundTrip(t *testing.T) {
	manifest := NewManifest(4*1024*1024, catalog.BlockHashSHA256, catalog.BlockHashSHA256, "test")
	w := NewWriter(manifest)
	w.AddDBlockEntry("hash-a", []byte("payload-a"))
	w.AddDBlockEntry("hash-b", []byte("payload-b"))

	sealed, err := w.Seal("correct horse battery staple")
	require.NoError(t, err)

	r, err := Open(sealed, "correct horse battery staple")
	require.NoError(t, err)
	require.Equal(t, ManifestVersion, r.Manifest.Version)

	data, err := r.DBlockEntry("hash-a")
	require.NoError(t, err)
	require.Equal(t, []byte("payload-a"), data)
}

func TestOpen_WrongPassphraseFailsAuthentication(t *testing.T) {
	manifest := NewManifest(1024, catalog.BlockHashSHA256, catalog.BlockHashSHA256, "test")
	w := NewWriter(manifest)
	w.AddDBlockEntry("hash-a", []byte("payload-a"))

	sealed, err := w.Seal("right-passphrase")
	require.NoError(t, err)

	_, err = Open(sealed, "wrong-passphrase")
	require.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestWriterReader_DIndexRoundTrip(t *testing.T) {
	manifest := NewManifest(1024, catalog.BlockHashSHA256, catalog.BlockHashSHA256, "test")
	w := NewWriter(manifest)
	err := w.AddDIndexEntry(
		DIndexBlockList{
			DBlockVolume: "duplicati-abc123-b-20250101T120000Z.zip.aes",
			Blocks:       []DIndexBlockRef{{Hash: "hash-a", Size: 9}},
		},
		[]DIndexBlocksetHash{
			{BlocksetFullHash: "full-hash", BlockHashes: []string{"hash-a"}},
		},
	)
	require.NoError(t, err)

	sealed, err := w.Seal("")
	require.NoError(t, err)

	r, err := Open(sealed, "")
	require.NoError(t, err)

	blockList, hashes, err := r.DIndexEntry()
	require.NoError(t, err)
	require.Equal(t, "duplicati-abc123-b-20250101T120000Z.zip.aes", blockList.DBlockVolume)
	require.Len(t, hashes, 1)
}

func TestWriterReader_DFilesetRoundTrip(t *testing.T) {
	manifest := NewManifest(1024, catalog.BlockHashSHA256, catalog.BlockHashSHA256, "test")
	w := NewWriter(manifest)
	err := w.AddDFilesetEntry(nil, []DFilesetFileRecord{
		{Path: "/A.txt", Kind: "file", ContentBlocksetID: "bs-1", ModifiedAt: time.Unix(10, 0).UTC(), LastModified: true},
	})
	require.NoError(t, err)

	sealed, err := w.Seal("")
	require.NoError(t, err)

	r, err := Open(sealed, "")
	require.NoError(t, err)

	records, err := r.DFilesetEntry()
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "/A.txt", records[0].Path)
}
