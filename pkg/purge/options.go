package purge

import (
	"github.com/coldvault/coldvault/pkg/catalog"
	"github.com/coldvault/coldvault/pkg/compact"
)

// Options configures a purge run (spec.md §4.5 "Inputs").
type Options struct {
	Filter    Filter
	Selection catalog.VersionSelector

	// DryRun performs steps 1-6 of the per-fileset procedure in memory
	// then rolls back, issuing no remote side effects (spec.md §4.5
	// step 9, §8 scenario 4).
	DryRun bool

	// AutoCompact invokes the compact engine after a successful rewrite
	// (spec.md §4.5 "Post-processing").
	AutoCompact bool

	// Compact carries the thresholds passed through to the compact
	// engine when AutoCompact fires. Zero value uses compact's own
	// defaults.
	Compact compact.Options

	// SkipBackendVerification skips precondition 5's remote-list
	// verification, matching the CLI's --no-backend-verification flag.
	SkipBackendVerification bool

	// Repository carries the volume-codec parameters needed to write a
	// replacement dfileset blob.
	Repository RepositoryParams
}

// RepositoryParams mirrors the subset of repository configuration the
// volume codec needs to produce a new dfileset (spec.md §6 "Volume
// container").
type RepositoryParams struct {
	Prefix        string
	Passphrase    string
	Blocksize     int64
	BlockHashAlgo catalog.BlockHashAlgorithm
	FileHashAlgo  catalog.BlockHashAlgorithm
	AppVersion    string
}

// RewrittenFileset describes one fileset this run replaced.
type RewrittenFileset struct {
	OldFilesetID      int64
	NewFilesetID      int64
	OldVolumeName     string
	NewVolumeName     string
	RemovedPaths      []string
	WouldPurgePaths   []string
	NewTimestampEpoch int64
}

// Result summarizes a completed (or dry-run) purge.
type Result struct {
	Rewritten []RewrittenFileset
	Unchanged int
	DryRun    bool

	// FilesReaped and BlocksetsReaped count orphan rows the post-rewrite
	// reap step removed (invariant P5), zero on a dry run.
	FilesReaped     int64
	BlocksetsReaped int64

	// Compact holds the auto-compact post-step's result, nil unless
	// Options.AutoCompact fired (spec.md §4.5 "Post-processing").
	Compact *compact.Result
}

// compactRepositoryParams converts RepositoryParams to compact's own
// identically-shaped type, since compact has no dependency on purge.
func (p RepositoryParams) compactRepositoryParams() compact.RepositoryParams {
	return compact.RepositoryParams{
		Prefix:        p.Prefix,
		Passphrase:    p.Passphrase,
		Blocksize:     p.Blocksize,
		BlockHashAlgo: p.BlockHashAlgo,
		FileHashAlgo:  p.FileHashAlgo,
		AppVersion:    p.AppVersion,
	}
}
