// Package volume implements the remote volume container format: a
// compress-then-encrypt archive of named entries, fronted by a JSON
// manifest, used for all three volume kinds (dblock, dindex, dfileset).
package volume

import (
	"time"

	"github.com/coldvault/coldvault/pkg/catalog"
)

// Kind identifies the three container kinds of spec.md §4.2 and their
// single-letter filename codes (spec.md §6).
type Kind string

const (
	KindDBlock   Kind = "dblock"
	KindDIndex   Kind = "dindex"
	KindDFileset Kind = "dfileset"
)

// letter returns the single-character kind code used in filenames.
func (k Kind) letter() string {
	switch k {
	case KindDBlock:
		return "b"
	case KindDIndex:
		return "i"
	case KindDFileset:
		return "f"
	default:
		return "?"
	}
}

// Manifest is the JSON document stored as the container's first entry.
type Manifest struct {
	Version    int                       `json:"Version"`
	Created    time.Time                 `json:"Created"`
	Encoding   string                    `json:"Encoding"`
	Blocksize  int64                     `json:"Blocksize"`
	BlockHash  catalog.BlockHashAlgorithm `json:"BlockHash"`
	FileHash   catalog.BlockHashAlgorithm `json:"FileHash"`
	AppVersion string                    `json:"AppVersion"`
}

// ManifestVersion is the current on-disk manifest schema version.
const ManifestVersion = 1

// Encoding identifiers recorded in the manifest, matching the filename's
// compressor/encrypter suffixes (spec.md §6).
const (
	EncodingCompressor = "zip"
	EncodingEncrypter  = "aes"
)

// NewManifest builds a manifest for a container created now, using the
// repository's configured blocksize and hash algorithms.
func NewManifest(blocksize int64, blockHash, fileHash catalog.BlockHashAlgorithm, appVersion string) Manifest {
	return Manifest{
		Version:    ManifestVersion,
		Created:    time.Now().UTC(),
		Encoding:   EncodingCompressor + "+" + EncodingEncrypter,
		Blocksize:  blocksize,
		BlockHash:  blockHash,
		FileHash:   fileHash,
		AppVersion: appVersion,
	}
}
