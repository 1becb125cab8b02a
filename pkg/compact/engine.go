package compact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/coldvault/coldvault/internal/logger"
	"github.com/coldvault/coldvault/internal/telemetry"
	"github.com/coldvault/coldvault/pkg/catalog"
	"github.com/coldvault/coldvault/pkg/objectstore"
	"github.com/coldvault/coldvault/pkg/progress"
	"github.com/coldvault/coldvault/pkg/volume"
)

// compactSpan is the default progress span for a standalone compact
// run. A caller invoking compact as purge's post-step apportions its
// own trailing quarter instead (spec.md §4.7) by passing a narrower
// Span via RunWithSpan.
var compactSpan = progress.Span{Offset: 0, Width: 1}

// candidate is one dblock volume under consideration for rewrite.
type candidate struct {
	volume     catalog.RemoteVolume
	blocks     []catalog.Block
	referenced []catalog.Block
	dropped    []catalog.Block
	fraction   float64
	wasted     int64
}

// Run executes a compact pass against store (spec.md §4.6). progressCh
// may be nil.
func Run(ctx context.Context, store *catalog.Store, adapter *objectstore.Adapter, opts Options, progressCh chan<- progress.Event) (*Result, error) {
	return run(ctx, store, adapter, opts, progressCh, compactSpan)
}

// RunWithSpan is identical to Run but reports progress within span
// instead of the full [0, 1] axis, used when compact runs as a purge
// post-step and receives only the trailing 25% of the overall span
// (spec.md §4.7).
func RunWithSpan(ctx context.Context, store *catalog.Store, adapter *objectstore.Adapter, opts Options, progressCh chan<- progress.Event, span progress.Span) (*Result, error) {
	return run(ctx, store, adapter, opts, progressCh, span)
}

func run(ctx context.Context, store *catalog.Store, adapter *objectstore.Adapter, opts Options, progressCh chan<- progress.Event, span progress.Span) (result *Result, err error) {
	ctx, tspan := telemetry.StartEngineSpan(ctx, telemetry.SpanCompactRun, opts.Repository.Prefix)
	defer func() {
		if err != nil {
			telemetry.RecordError(ctx, err)
		} else if result != nil {
			tspan.SetAttributes(
				telemetry.BytesReclaimed(result.BytesReclaimed),
				telemetry.Fraction(1),
			)
		}
		tspan.End()
	}()

	ready, err := store.IsReadyForPurge(ctx)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, ErrCatalogNotReady
	}

	result = &Result{}

	// P5 requires zero orphan files once compact finishes; a prior
	// purge can have left File rows that no fileset_entry references
	// any more (spec.md §4.3 drop_filesets_from_table only removes
	// fileset/fileset-entry rows).
	reapTx, err := store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	filesReaped, blocksetsReaped, err := store.ReapOrphans(ctx, reapTx)
	if err != nil {
		_ = reapTx.Rollback()
		return nil, err
	}
	if err := reapTx.Commit(); err != nil {
		return nil, fmt.Errorf("compact: commit reap: %w", err)
	}
	result.FilesReaped = filesReaped
	result.BlocksetsReaped = blocksetsReaped
	progress.Emit(ctx, progressCh, "reap", span.At(0.1))

	volumes, err := store.ListRemoteVolumesByKind(ctx, catalog.VolumeKindDBlock)
	if err != nil {
		return nil, err
	}

	var candidates []candidate
	for _, vol := range volumes {
		if vol.State != catalog.VolumeStateUploaded && vol.State != catalog.VolumeStateVerified {
			continue
		}

		blocks, err := store.ListBlocksByVolume(ctx, nil, vol.ID)
		if err != nil {
			return nil, err
		}
		if len(blocks) == 0 {
			continue
		}

		ids := make([]int64, len(blocks))
		for i, b := range blocks {
			ids[i] = b.ID
		}
		refCounts, err := store.BlockReferenceCounts(ctx, nil, ids)
		if err != nil {
			return nil, err
		}

		c := candidate{volume: vol, blocks: blocks}
		for _, b := range blocks {
			if refCounts[b.ID] > 0 {
				c.referenced = append(c.referenced, b)
			} else {
				c.dropped = append(c.dropped, b)
				c.wasted += b.Size
			}
		}
		c.fraction = float64(len(c.referenced)) / float64(len(c.blocks))
		candidates = append(candidates, c)
	}

	// Tie-break: ascending referenced fraction, then ascending volume id
	// (spec.md §4.6).
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].fraction != candidates[j].fraction {
			return candidates[i].fraction < candidates[j].fraction
		}
		return candidates[i].volume.ID < candidates[j].volume.ID
	})

	total := len(candidates)
	for i, c := range candidates {
		progress.Emit(ctx, progressCh, "compact", span.At(0.1+0.9*float64(i)/float64(max(total, 1))))

		switch {
		case len(c.referenced) == 0:
			if err := deleteZeroReferenceVolume(ctx, store, adapter, c); err != nil {
				return nil, err
			}
			result.Deleted = append(result.Deleted, c.volume.Name)
			result.BytesReclaimed += c.wasted
		case c.fraction < opts.fractionThreshold() || (opts.WastedSpaceThreshold > 0 && c.wasted > opts.WastedSpaceThreshold):
			rewritten, err := rewriteVolume(ctx, store, adapter, opts, c)
			if err != nil {
				return nil, err
			}
			result.Rewritten = append(result.Rewritten, *rewritten)
			result.BytesReclaimed += rewritten.BytesReclaimed
		default:
			result.Unchanged++
		}
	}

	progress.Emit(ctx, progressCh, "compact", span.At(1))
	return result, nil
}

// deleteZeroReferenceVolume retires a dblock volume none of whose
// blocks are referenced any more, with no rewrite (spec.md §4.6
// "Volumes with zero references after a fileset removal are simply
// deleted").
func deleteZeroReferenceVolume(ctx context.Context, store *catalog.Store, adapter *objectstore.Adapter, c candidate) error {
	tx, err := store.Begin(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	blockIDs := make([]int64, len(c.blocks))
	for i, b := range c.blocks {
		blockIDs[i] = b.ID
	}
	if err := store.DeleteBlocks(ctx, tx, blockIDs); err != nil {
		return err
	}
	if err := store.UpdateRemoteVolumeState(ctx, tx, c.volume.ID, catalog.VolumeStateDeleting, 0, ""); err != nil {
		return err
	}

	pairedDIndex, ok, err := store.FindPairedDIndex(ctx, tx, c.volume.ID)
	if err != nil {
		return err
	}
	if ok {
		if err := store.UpdateRemoteVolumeState(ctx, tx, pairedDIndex.ID, catalog.VolumeStateDeleting, 0, ""); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("compact: delete volume %s: commit: %w", c.volume.Name, err)
	}
	committed = true

	if err := deleteAndMark(ctx, store, adapter, c.volume.ID, c.volume.Name); err != nil {
		return err
	}
	if ok {
		if err := deleteAndMark(ctx, store, adapter, pairedDIndex.ID, pairedDIndex.Name); err != nil {
			return err
		}
	}
	return adapter.WaitForEmpty(ctx)
}

// rewriteVolume repacks a dblock volume's still-referenced blocks into
// a fresh dblock volume with a matching dindex, using the same
// commit-before-upload discipline as pkg/purge (spec.md §4.6, §4.5
// step 7-8).
func rewriteVolume(ctx context.Context, store *catalog.Store, adapter *objectstore.Adapter, opts Options, c candidate) (*RewrittenVolume, error) {
	old, err := adapter.Get(ctx, c.volume.Name)
	if err != nil {
		return nil, fmt.Errorf("compact: fetch %s: %w", c.volume.Name, err)
	}
	sealed, err := io.ReadAll(old)
	_ = old.Close()
	if err != nil {
		return nil, fmt.Errorf("compact: read %s: %w", c.volume.Name, err)
	}

	reader, err := volume.Open(sealed, opts.Repository.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("compact: open %s: %w", c.volume.Name, err)
	}

	manifest := volume.NewManifest(opts.Repository.Blocksize, opts.Repository.BlockHashAlgo, opts.Repository.FileHashAlgo, opts.Repository.AppVersion)
	writer := volume.NewWriter(manifest)
	for _, b := range c.referenced {
		data, err := reader.DBlockEntry(b.Hash)
		if err != nil {
			return nil, fmt.Errorf("compact: read block %s from %s: %w", b.Hash, c.volume.Name, err)
		}
		writer.AddDBlockEntry(b.Hash, data)
	}
	newSealed, err := writer.Seal(opts.Repository.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("compact: seal new dblock volume: %w", err)
	}

	newDBlockName, err := volume.FormatFilename(opts.Repository.Prefix, volume.KindDBlock, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	newDIndexName, err := volume.FormatFilename(opts.Repository.Prefix, volume.KindDIndex, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	blockList := volume.DIndexBlockList{DBlockVolume: newDBlockName}
	var blocksetHashEntries []volume.DIndexBlocksetHash
	var referencedIDs []int64
	for _, b := range c.referenced {
		blockList.Blocks = append(blockList.Blocks, volume.DIndexBlockRef{Hash: b.Hash, Size: b.Size})
		referencedIDs = append(referencedIDs, b.ID)
	}
	blocksetIDs, err := store.BlocksetsReferencingBlocks(ctx, nil, referencedIDs)
	if err != nil {
		return nil, err
	}
	for _, bsID := range blocksetIDs {
		fullHash, hashes, err := store.BlocksetHashList(ctx, nil, bsID)
		if err != nil {
			return nil, err
		}
		blocksetHashEntries = append(blocksetHashEntries, volume.DIndexBlocksetHash{BlocksetFullHash: fullHash, BlockHashes: hashes})
	}

	dindexWriter := volume.NewWriter(manifest)
	if err := dindexWriter.AddDIndexEntry(blockList, blocksetHashEntries); err != nil {
		return nil, err
	}
	sealedDIndex, err := dindexWriter.Seal(opts.Repository.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("compact: seal new dindex volume: %w", err)
	}

	tx, err := store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	newDBlockID, err := store.CreateRemoteVolume(ctx, tx, newDBlockName, catalog.VolumeKindDBlock)
	if err != nil {
		return nil, err
	}
	pairedID := newDBlockID
	newDIndexID, err := store.CreateRemoteVolumePaired(ctx, tx, newDIndexName, catalog.VolumeKindDIndex, &pairedID)
	if err != nil {
		return nil, err
	}

	for _, b := range c.referenced {
		if err := store.ReassignBlockVolume(ctx, tx, b.ID, newDBlockID); err != nil {
			return nil, err
		}
	}
	droppedIDs := make([]int64, len(c.dropped))
	for i, b := range c.dropped {
		droppedIDs[i] = b.ID
	}
	if err := store.DeleteBlocks(ctx, tx, droppedIDs); err != nil {
		return nil, err
	}

	if err := store.UpdateRemoteVolumeState(ctx, tx, c.volume.ID, catalog.VolumeStateDeleting, 0, ""); err != nil {
		return nil, err
	}
	pairedOldDIndex, hasOldDIndex, err := store.FindPairedDIndex(ctx, tx, c.volume.ID)
	if err != nil {
		return nil, err
	}
	if hasOldDIndex {
		if err := store.UpdateRemoteVolumeState(ctx, tx, pairedOldDIndex.ID, catalog.VolumeStateDeleting, 0, ""); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("compact: rewrite %s: commit: %w", c.volume.Name, err)
	}
	committed = true

	// Volume rows stay "temporary" across the commit above; the flush
	// hook advances each to "uploading" only once its upload genuinely
	// starts, so a crash before then leaves a row with no bytes sent
	// rather than a stranded "uploading" (spec.md §5).
	putDBlock, err := adapter.Put(ctx, newDBlockName, bytes.NewReader(newSealed), int64(len(newSealed)), func(ctx context.Context) error {
		return markUploading(ctx, store, newDBlockID)
	})
	if err != nil {
		return nil, err
	}
	if err := <-putDBlock; err != nil {
		return nil, fmt.Errorf("compact: upload %s: %w", newDBlockName, err)
	}
	if err := markUploaded(ctx, store, newDBlockID, int64(len(newSealed))); err != nil {
		return nil, err
	}

	putDIndex, err := adapter.Put(ctx, newDIndexName, bytes.NewReader(sealedDIndex), int64(len(sealedDIndex)), func(ctx context.Context) error {
		return markUploading(ctx, store, newDIndexID)
	})
	if err != nil {
		return nil, err
	}
	if err := <-putDIndex; err != nil {
		return nil, fmt.Errorf("compact: upload %s: %w", newDIndexName, err)
	}
	if err := markUploaded(ctx, store, newDIndexID, int64(len(sealedDIndex))); err != nil {
		return nil, err
	}

	if err := deleteAndMark(ctx, store, adapter, c.volume.ID, c.volume.Name); err != nil {
		return nil, err
	}
	if hasOldDIndex {
		if err := deleteAndMark(ctx, store, adapter, pairedOldDIndex.ID, pairedOldDIndex.Name); err != nil {
			return nil, err
		}
	}
	if err := adapter.WaitForEmpty(ctx); err != nil {
		return nil, err
	}

	return &RewrittenVolume{
		OldVolumeName:      c.volume.Name,
		NewVolumeName:      newDBlockName,
		NewDIndexName:      newDIndexName,
		BlocksRetained:     len(c.referenced),
		BlocksDropped:      len(c.dropped),
		BytesReclaimed:     c.wasted,
		ReferencedFraction: c.fraction,
	}, nil
}

// deleteAndMark issues a backend delete for name and, on success, marks
// volumeID deleted in its own short transaction.
func deleteAndMark(ctx context.Context, store *catalog.Store, adapter *objectstore.Adapter, volumeID int64, name string) error {
	delResult, err := adapter.Delete(ctx, name)
	if err != nil {
		return err
	}
	if err := <-delResult; err != nil {
		logger.ErrorCtx(ctx, "compact: failed to delete superseded volume", logger.VolumeName(name), logger.Err(err))
		return nil
	}
	tx, err := store.Begin(ctx)
	if err != nil {
		return err
	}
	if err := store.UpdateRemoteVolumeState(ctx, tx, volumeID, catalog.VolumeStateDeleted, 0, ""); err != nil {
		_ = tx.Rollback()
		logger.ErrorCtx(ctx, "compact: failed to record superseded volume as deleted", logger.VolumeName(name), logger.Err(err))
		return nil
	}
	return tx.Commit()
}

// markUploading advances a volume row from "temporary" to "uploading" in
// its own short transaction, run from the objectstore flush hook at the
// moment the worker is about to attempt the real upload.
func markUploading(ctx context.Context, store *catalog.Store, volumeID int64) error {
	tx, err := store.Begin(ctx)
	if err != nil {
		return err
	}
	if err := store.UpdateRemoteVolumeState(ctx, tx, volumeID, catalog.VolumeStateUploading, 0, ""); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// markUploaded records a newly uploaded volume's size in its own short
// transaction, separate from the rewrite transaction already committed.
func markUploaded(ctx context.Context, store *catalog.Store, volumeID int64, size int64) error {
	tx, err := store.Begin(ctx)
	if err != nil {
		return err
	}
	if err := store.UpdateRemoteVolumeState(ctx, tx, volumeID, catalog.VolumeStateUploaded, size, ""); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
