// Package compact implements the repository's compact engine: scanning
// dblock volumes for wasted space, repacking the blocks still
// referenced by a surviving blockset into fresh volumes, and retiring
// the volumes they replace (spec.md §4.6), using the same
// commit-before-upload discipline as pkg/purge.
package compact

import "github.com/coldvault/coldvault/pkg/catalog"

// Options configures a compact run (spec.md §4.6).
type Options struct {
	// ReferencedFractionThreshold selects a dblock volume for rewrite
	// when the fraction of its blocks still referenced is below this
	// value. Default 0.2 (spec.md §4.6 "below a threshold (default
	// 20%)").
	ReferencedFractionThreshold float64

	// WastedSpaceThreshold selects a dblock volume for rewrite when its
	// absolute wasted bytes (unreferenced block sizes) exceed this
	// value, regardless of fraction. Zero disables this trigger.
	WastedSpaceThreshold int64

	// Repository carries the volume-codec parameters needed to read the
	// old dblock container and write its replacement.
	Repository RepositoryParams
}

// RepositoryParams mirrors purge.RepositoryParams; kept as its own type
// so this package has no dependency on pkg/purge (purge depends on
// compact, not the reverse, to wire its auto-compact post-step).
type RepositoryParams struct {
	Prefix        string
	Passphrase    string
	Blocksize     int64
	BlockHashAlgo catalog.BlockHashAlgorithm
	FileHashAlgo  catalog.BlockHashAlgorithm
	AppVersion    string
}

func (o Options) fractionThreshold() float64 {
	if o.ReferencedFractionThreshold <= 0 {
		return 0.2
	}
	return o.ReferencedFractionThreshold
}

// RewrittenVolume describes one dblock volume compact rebuilt.
type RewrittenVolume struct {
	OldVolumeName      string
	NewVolumeName      string
	NewDIndexName      string
	BlocksRetained     int
	BlocksDropped      int
	BytesReclaimed     int64
	ReferencedFraction float64
}

// Result summarizes a completed compact run.
type Result struct {
	FilesReaped     int64
	BlocksetsReaped int64
	Rewritten       []RewrittenVolume
	Deleted         []string // dblock volumes deleted outright (zero references)
	Unchanged       int
	BytesReclaimed  int64
}
