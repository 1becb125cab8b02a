package purge

import "errors"

// ErrEmptyFilter is returned when Options.Filter would match every path,
// which would erase the whole fileset (spec.md §4.5 precondition 1, §8
// scenario 2 "EmptyFilterPurgeNotAllowed").
var ErrEmptyFilter = errors.New("purge: empty filter would remove every file")

// ErrCatalogNotReady is returned when the catalog is partially
// recreated or mid-repair (spec.md §4.5 precondition 2).
var ErrCatalogNotReady = errors.New("purge: catalog is partially recreated or mid-repair")

// ErrOrphanFilesPresent is returned when count_orphan_files() != 0
// before purge begins (spec.md §4.5 precondition 3).
var ErrOrphanFilesPresent = errors.New("purge: orphan files present, run repair first")

// ErrTimestampCollision surfaces catalog.ErrTimestampCollision with
// purge-specific context (spec.md §8 scenario 3).
var ErrTimestampCollision = errors.New("purge: no unused timestamp available before the next-newer fileset")
