// Package purge implements the repository's purge engine: rewriting
// filesets oldest-first to remove entries matched by a Filter, while
// honoring the commit-before-upload crash-safety discipline of spec.md
// §5 (catalog mutation and its transaction commit happen entirely
// before any remote side effect is enqueued).
package purge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/coldvault/coldvault/internal/logger"
	"github.com/coldvault/coldvault/internal/telemetry"
	"github.com/coldvault/coldvault/pkg/catalog"
	"github.com/coldvault/coldvault/pkg/compact"
	"github.com/coldvault/coldvault/pkg/objectstore"
	"github.com/coldvault/coldvault/pkg/progress"
	"github.com/coldvault/coldvault/pkg/verify"
	"github.com/coldvault/coldvault/pkg/volume"
)

// autoCompactSpan is the trailing quarter of the progress axis reserved
// for compact when it runs as a purge post-step (spec.md §4.7 "when
// compact runs as a post-step it receives the trailing 25% of the
// span").
var autoCompactSpan = progress.Span{Offset: 0.75, Width: 0.25}

// Run executes a purge against store, rewriting every fileset selected
// by opts.Selection that has at least one entry matched by opts.Filter
// (spec.md §4.5). Filesets are processed oldest first. progressCh may
// be nil.
func Run(ctx context.Context, store *catalog.Store, adapter *objectstore.Adapter, opts Options, progressCh chan<- progress.Event) (result *Result, err error) {
	ctx, span := telemetry.StartEngineSpan(ctx, telemetry.SpanPurgeRun, opts.Repository.Prefix,
		telemetry.DryRun(opts.DryRun), telemetry.AutoCompact(opts.AutoCompact))
	defer func() {
		if err != nil {
			telemetry.RecordError(ctx, err)
		}
		span.End()
	}()

	if opts.Filter.Empty() {
		return nil, ErrEmptyFilter
	}

	logger.InfoCtx(ctx, "purge: run starting", logger.DryRun(opts.DryRun))

	ready, err := store.IsReadyForPurge(ctx)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, ErrCatalogNotReady
	}

	orphans, err := store.CountOrphanFiles(ctx)
	if err != nil {
		return nil, err
	}
	if orphans != 0 {
		return nil, ErrOrphanFilesPresent
	}

	ids, err := store.GetFilesetIDs(ctx, opts.Selection)
	if err != nil {
		return nil, err
	}

	if !opts.SkipBackendVerification {
		report, err := verify.StrictRemote(ctx, store, adapter)
		if err != nil {
			return nil, fmt.Errorf("purge: precondition backend verification: %w", err)
		}
		if !report.OK() {
			return nil, fmt.Errorf("purge: backend verification failed: %d missing, %d orphaned remote objects",
				len(report.MissingRemote), len(report.OrphanedRemote))
		}
	}

	times, err := store.FilesetTimes(ctx)
	if err != nil {
		return nil, err
	}
	// FilesetTimes is newest-first; sort ascending for oldest-first
	// processing (spec.md §4.5).
	sort.Slice(times, func(i, j int) bool { return times[i].Timestamp.Before(times[j].Timestamp) })

	selected := make(map[int64]bool, len(ids))
	for _, id := range ids {
		selected[id] = true
	}

	var ordered []catalog.FilesetTime
	for _, t := range times {
		if selected[t.ID] {
			ordered = append(ordered, t)
		}
	}

	result = &Result{DryRun: opts.DryRun}
	total := len(ordered)

	// Purging reserves the full progress axis unless it will hand off to
	// compact afterward, in which case compact gets the trailing quarter
	// (spec.md §4.7).
	rewriteSpan := progress.Span{Offset: 0, Width: 1}
	if !opts.DryRun && opts.AutoCompact {
		rewriteSpan = progress.Span{Offset: 0, Width: 0.75}
	}

	for i, ft := range ordered {
		progress.Emit(ctx, progressCh, "rewrite", rewriteSpan.At(float64(i)/float64(max(total, 1))))

		var nextNewer *catalog.FilesetTime
		for _, candidate := range times {
			if candidate.Timestamp.After(ft.Timestamp) {
				c := candidate
				nextNewer = &c
				break
			}
		}

		rewritten, err := rewriteOne(ctx, store, adapter, opts, ft, nextNewer)
		if err != nil {
			return nil, err
		}
		if rewritten == nil {
			result.Unchanged++
			continue
		}
		result.Rewritten = append(result.Rewritten, *rewritten)
	}

	progress.Emit(ctx, progressCh, "rewrite", rewriteSpan.At(1))

	// DropFilesetsFromTable only removes fileset/fileset-entry rows, so a
	// path the filter just removed survives as an orphan File row until
	// reaped. P5 requires zero orphans after purge, not just after
	// compact, so this runs here unconditionally rather than only when
	// AutoCompact hands off to the compact engine's own reap step.
	if !opts.DryRun {
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
			return nil, fmt.Errorf("purge: commit reap: %w", err)
		}
		result.FilesReaped = filesReaped
		result.BlocksetsReaped = blocksetsReaped
	}

	if !opts.DryRun && opts.AutoCompact && len(result.Rewritten) > 0 {
		logger.InfoCtx(ctx, "purge: auto-compact triggered after rewrite", logger.Rewritten(len(result.Rewritten)))
		compactOpts := opts.Compact
		compactOpts.Repository = opts.Repository.compactRepositoryParams()
		compactResult, err := compact.RunWithSpan(ctx, store, adapter, compactOpts, progressCh, autoCompactSpan)
		if err != nil {
			return nil, fmt.Errorf("purge: auto-compact: %w", err)
		}
		result.Compact = compactResult
	}

	return result, nil
}

// rewriteOne performs the nine-step per-fileset procedure of spec.md
// §4.5 for a single fileset. It returns nil (no error) when the filter
// matched nothing in this fileset, leaving it untouched.
func rewriteOne(ctx context.Context, store *catalog.Store, adapter *objectstore.Adapter, opts Options, ft catalog.FilesetTime, nextNewer *catalog.FilesetTime) (*RewrittenFileset, error) {
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

	// Step 1: probe for an unused timestamp strictly before the next-newer
	// fileset, asserting t_new < t_next.
	var nextTimestamp *time.Time
	if nextNewer != nil {
		t := nextNewer.Timestamp
		nextTimestamp = &t
	}
	tNew, err := store.ProbeUnusedFilename(ctx, tx, ft.Timestamp, nextTimestamp)
	if err != nil {
		if errors.Is(err, catalog.ErrTimestampCollision) {
			return nil, fmt.Errorf("purge: fileset %d: %w: %w", ft.ID, ErrTimestampCollision, err)
		}
		return nil, fmt.Errorf("purge: fileset %d: %w", ft.ID, err)
	}

	// Step 2: materialize a scratch clone of the fileset's membership.
	scratch, err := store.CreateTemporaryFileset(ctx, tx, ft.ID)
	if err != nil {
		return nil, err
	}

	// Step 3: apply the filter, removing matched entries.
	var kept []catalog.FilesetEntryRecord
	var removedPaths []string
	for _, e := range scratch.Entries {
		match, err := opts.Filter.Matches(e.Path)
		if err != nil {
			return nil, fmt.Errorf("purge: fileset %d: evaluate filter on %q: %w", ft.ID, e.Path, err)
		}
		if match {
			removedPaths = append(removedPaths, e.Path)
			continue
		}
		kept = append(kept, e)
	}

	// Step 4: no change, nothing to rewrite.
	if len(removedPaths) == 0 {
		return nil, nil
	}

	oldVol, err := store.GetRemoteVolume(ctx, tx, ft.VolumeID)
	if err != nil {
		return nil, err
	}

	// Step 5: build the replacement dfileset volume.
	newName, err := volume.FormatFilename(opts.Repository.Prefix, volume.KindDFileset, tNew)
	if err != nil {
		return nil, err
	}

	var records []volume.DFilesetFileRecord
	for _, e := range kept {
		f, err := store.GetFile(ctx, tx, e.FileID)
		if err != nil {
			return nil, err
		}
		rec := volume.DFilesetFileRecord{
			Path:         f.Path,
			Kind:         string(f.Kind),
			ModifiedAt:   e.ModifiedAt,
			LastModified: e.LastModified,
		}
		if f.ContentBlocksetID != nil {
			bs, err := store.GetBlockset(ctx, tx, *f.ContentBlocksetID)
			if err != nil {
				return nil, err
			}
			rec.ContentBlocksetID = bs.FullHash
		}
		if f.MetaBlocksetID != nil {
			bs, err := store.GetBlockset(ctx, tx, *f.MetaBlocksetID)
			if err != nil {
				return nil, err
			}
			rec.MetaBlocksetID = bs.FullHash
		}
		records = append(records, rec)
	}

	manifest := volume.NewManifest(opts.Repository.Blocksize, opts.Repository.BlockHashAlgo, opts.Repository.FileHashAlgo, opts.Repository.AppVersion)
	w := volume.NewWriter(manifest)
	if err := w.AddDFilesetEntry(nil, records); err != nil {
		return nil, err
	}
	sealed, err := w.Seal(opts.Repository.Passphrase)
	if err != nil {
		return nil, err
	}

	newVolumeID, err := store.CreateRemoteVolume(ctx, tx, newName, catalog.VolumeKindDFileset)
	if err != nil {
		return nil, err
	}

	newFilesetID, err := store.WriteFileset(ctx, tx, tNew, newVolumeID, false, kept)
	if err != nil {
		return nil, err
	}

	// Step 6: drop the original fileset row and transition its volume.
	if _, err := store.DropFilesetsFromTable(ctx, tx, []time.Time{ft.Timestamp}); err != nil {
		return nil, err
	}
	if err := store.UpdateRemoteVolumeState(ctx, tx, oldVol.ID, catalog.VolumeStateDeleting, 0, ""); err != nil {
		return nil, err
	}

	// A dry run stops here; the deferred rollback discards steps 2-6.
	if opts.DryRun {
		return &RewrittenFileset{
			OldFilesetID:      ft.ID,
			OldVolumeName:     oldVol.Name,
			NewVolumeName:     newName,
			WouldPurgePaths:   removedPaths,
			NewTimestampEpoch: tNew.Unix(),
		}, nil
	}

	// Step 7: commit before any remote side effect.
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("purge: fileset %d: commit: %w", ft.ID, err)
	}
	committed = true

	// Step 8: upload the replacement, then delete the original, in order.
	// The volume row stays "temporary" across the commit in step 7; only
	// once the worker is about to make its first backend.Put attempt does
	// the flush hook advance it to "uploading", so a crash in between
	// leaves a row with no bytes ever sent, not a stranded "uploading".
	putResult, err := adapter.Put(ctx, newName, bytes.NewReader(sealed), int64(len(sealed)), func(ctx context.Context) error {
		return markUploading(ctx, store, newVolumeID)
	})
	if err != nil {
		return nil, err
	}
	if err := <-putResult; err != nil {
		return nil, fmt.Errorf("purge: fileset %d: upload %s: %w", ft.ID, newName, err)
	}

	if err := markUploaded(ctx, store, newVolumeID, int64(len(sealed))); err != nil {
		return nil, err
	}

	delResult, err := adapter.Delete(ctx, oldVol.Name)
	if err != nil {
		return nil, err
	}
	if err := <-delResult; err != nil {
		logger.ErrorCtx(ctx, "purge: failed to delete superseded volume", logger.VolumeName(oldVol.Name), logger.Err(err))
	} else if err := markDeleted(ctx, store, oldVol.ID); err != nil {
		logger.ErrorCtx(ctx, "purge: failed to record superseded volume as deleted", logger.VolumeName(oldVol.Name), logger.Err(err))
	}

	if err := adapter.WaitForEmpty(ctx); err != nil {
		return nil, err
	}

	return &RewrittenFileset{
		OldFilesetID:      ft.ID,
		NewFilesetID:      newFilesetID,
		OldVolumeName:     oldVol.Name,
		NewVolumeName:     newName,
		RemovedPaths:      removedPaths,
		NewTimestampEpoch: tNew.Unix(),
	}, nil
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
// transaction, separate from the fileset-rewrite transaction which was
// already committed in step 7.
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

// markDeleted records a superseded volume as deleted once its backend
// object has actually been removed.
func markDeleted(ctx context.Context, store *catalog.Store, volumeID int64) error {
	tx, err := store.Begin(ctx)
	if err != nil {
		return err
	}
	if err := store.UpdateRemoteVolumeState(ctx, tx, volumeID, catalog.VolumeStateDeleted, 0, ""); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
