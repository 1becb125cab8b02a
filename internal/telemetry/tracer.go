package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for repository and engine operations.
const (
	// ========================================================================
	// Repository/catalog attributes
	// ========================================================================
	AttrRepository   = "repository.name"
	AttrFilesetID    = "fileset.id"
	AttrVersionIndex = "fileset.version_index"
	AttrBlockHash    = "block.hash"
	AttrBlocksetID   = "blockset.id"
	AttrPath         = "catalog.path"

	// ========================================================================
	// Remote volume attributes
	// ========================================================================
	AttrVolumeName  = "volume.name"
	AttrVolumeKind  = "volume.kind"
	AttrVolumeState = "volume.state"

	// ========================================================================
	// Engine operation attributes (purge/compact/verify/repair)
	// ========================================================================
	AttrPhase           = "operation.phase"
	AttrFraction        = "operation.fraction"
	AttrDryRun          = "purge.dry_run"
	AttrAutoCompact     = "purge.auto_compact"
	AttrBytesReclaimed  = "compact.bytes_reclaimed"
	AttrFilesReaped     = "compact.files_reaped"
	AttrBlocksetsReaped = "compact.blocksets_reaped"
	AttrStrict          = "verify.strict_remote"

	// ========================================================================
	// Object store backend attributes
	// ========================================================================
	AttrStoreName = "store.name"
	AttrStoreType = "store.type"
	AttrBucket    = "storage.bucket"
	AttrKey       = "storage.key"
	AttrRegion    = "storage.region"
	AttrSize      = "storage.size"
)

// Span names for coldvault operations.
const (
	SpanPurgeRun   = "purge.run"
	SpanCompactRun = "compact.run"
	SpanVerify     = "verify.run"
	SpanRepair     = "repair.reconcile"

	SpanObjectStorePut    = "objectstore.put"
	SpanObjectStoreGet    = "objectstore.get"
	SpanObjectStoreDelete = "objectstore.delete"

	SpanCatalogRewriteFileset = "catalog.rewrite_fileset"
)

// Repository returns an attribute for the repository name.
func Repository(name string) attribute.KeyValue {
	return attribute.String(AttrRepository, name)
}

// FilesetID returns an attribute for a fileset's catalog ID.
func FilesetID(id int64) attribute.KeyValue {
	return attribute.Int64(AttrFilesetID, id)
}

// VersionIndex returns an attribute for a fileset's version index.
func VersionIndex(index int) attribute.KeyValue {
	return attribute.Int(AttrVersionIndex, index)
}

// BlockHash returns an attribute for a block's content hash.
func BlockHash(hash string) attribute.KeyValue {
	return attribute.String(AttrBlockHash, hash)
}

// BlocksetID returns an attribute for a blockset's catalog ID.
func BlocksetID(id int64) attribute.KeyValue {
	return attribute.Int64(AttrBlocksetID, id)
}

// Path returns an attribute for a cataloged file path.
func Path(path string) attribute.KeyValue {
	return attribute.String(AttrPath, path)
}

// VolumeName returns an attribute for a remote volume's name.
func VolumeName(name string) attribute.KeyValue {
	return attribute.String(AttrVolumeName, name)
}

// VolumeKind returns an attribute for a remote volume's kind (dblock,
// dindex, dfileset).
func VolumeKind(kind string) attribute.KeyValue {
	return attribute.String(AttrVolumeKind, kind)
}

// VolumeState returns an attribute for a remote volume's lifecycle
// state.
func VolumeState(state string) attribute.KeyValue {
	return attribute.String(AttrVolumeState, state)
}

// Phase returns an attribute for the current phase of a long-running
// engine operation.
func Phase(phase string) attribute.KeyValue {
	return attribute.String(AttrPhase, phase)
}

// Fraction returns an attribute for the completion fraction of a
// long-running engine operation.
func Fraction(fraction float64) attribute.KeyValue {
	return attribute.Float64(AttrFraction, fraction)
}

// DryRun returns an attribute marking a purge as dry-run.
func DryRun(dryRun bool) attribute.KeyValue {
	return attribute.Bool(AttrDryRun, dryRun)
}

// AutoCompact returns an attribute marking whether a purge chains into
// an automatic compact.
func AutoCompact(autoCompact bool) attribute.KeyValue {
	return attribute.Bool(AttrAutoCompact, autoCompact)
}

// BytesReclaimed returns an attribute for bytes reclaimed by a compact
// run.
func BytesReclaimed(n int64) attribute.KeyValue {
	return attribute.Int64(AttrBytesReclaimed, n)
}

// StrictRemote returns an attribute marking whether a verify run
// checked remote volume presence.
func StrictRemote(strict bool) attribute.KeyValue {
	return attribute.Bool(AttrStrict, strict)
}

// StoreName returns an attribute for an object store backend's name.
func StoreName(name string) attribute.KeyValue {
	return attribute.String(AttrStoreName, name)
}

// StoreType returns an attribute for an object store backend's type
// (local, s3).
func StoreType(t string) attribute.KeyValue {
	return attribute.String(AttrStoreType, t)
}

// Bucket returns an attribute for an S3 bucket name.
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// StorageKey returns an attribute for an object store key.
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// Region returns an attribute for a cloud region.
func Region(region string) attribute.KeyValue {
	return attribute.String(AttrRegion, region)
}

// Size returns an attribute for an object's byte size.
func Size(n int64) attribute.KeyValue {
	return attribute.Int64(AttrSize, n)
}

// StartEngineSpan starts a span for a purge/compact/verify/repair
// engine run against a named repository.
func StartEngineSpan(ctx context.Context, spanName, repository string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{Repository(repository)}, attrs...)
	return StartSpan(ctx, spanName, trace.WithAttributes(allAttrs...))
}

// StartObjectStoreSpan starts a span for an object store operation
// against a single remote object name.
func StartObjectStoreSpan(ctx context.Context, spanName, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{StorageKey(name)}, attrs...)
	return StartSpan(ctx, spanName, trace.WithAttributes(allAttrs...))
}
