package catalog

import "errors"

// Catalog-state and invariant errors (spec.md §7).
var (
	// ErrOrphanFiles is returned when a precondition requires zero orphan
	// files (spec.md §8 P5) but some exist.
	ErrOrphanFiles = errors.New("catalog: orphan files present")

	// ErrNoVersionsMatched is returned when a version/time selection
	// resolves to no filesets.
	ErrNoVersionsMatched = errors.New("catalog: no filesets matched selection")

	// ErrTimestampCollision is returned by ProbeUnusedFilename when no
	// timestamp strictly less than the next-newer fileset is free
	// (spec.md §9 Open Question: jittering the suffix is left
	// unimplemented, a collision is an Invariant-kind error).
	ErrTimestampCollision = errors.New("catalog: no unused filename timestamp available before next fileset")

	// ErrInvalidStateTransition is returned by UpdateRemoteVolumeState
	// when the requested transition is not permitted by the state
	// machine in spec.md §4.3.
	ErrInvalidStateTransition = errors.New("catalog: invalid remote volume state transition")

	// ErrNotFound is returned when a row looked up by id/name does not
	// exist.
	ErrNotFound = errors.New("catalog: row not found")

	// ErrFilesetNotMonotonic is raised by VerifyConsistency (P4) when
	// fileset timestamps are not strictly increasing by id.
	ErrFilesetNotMonotonic = errors.New("catalog: fileset timestamps are not strictly monotonic")
)
