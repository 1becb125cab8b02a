package purge

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/coldvault/coldvault/internal/logger"
	"github.com/coldvault/coldvault/internal/telemetry"
	"github.com/coldvault/coldvault/pkg/catalog"
	"github.com/coldvault/coldvault/pkg/objectstore"
	"github.com/coldvault/coldvault/pkg/verify"
	"github.com/coldvault/coldvault/pkg/volume"
)

// RecoveryRecord describes one volume Reconcile repaired or could not
// repair. ID identifies this single repair attempt in operator-facing
// logs and reports, independent of the volume's own name.
type RecoveryRecord struct {
	ID         string
	VolumeName string
	Action     string // "reuploaded", "manual-intervention-required"
	Detail     string
}

// RecoveryReport summarizes a Reconcile run.
type RecoveryReport struct {
	Records []RecoveryRecord
}

// Reconcile restores remote state to match the catalog after a crash
// between a purge's catalog commit and its upload (spec.md §8 scenario
// 6, property R3). It runs a strict-remote verification, and for every
// dfileset volume the catalog believes is durable (temporary, uploading,
// uploaded or verified) but which the backend does not have, re-materializes the blob from
// the fileset's own catalog rows and re-uploads it.
//
// dblock and dindex volumes cannot be rebuilt this way: their bytes are
// not retained in the catalog, only referenced by it. A missing dblock
// or dindex volume is reported as requiring manual intervention
// (restore from a mirror, or re-run backup for the affected files).
func Reconcile(ctx context.Context, store *catalog.Store, adapter *objectstore.Adapter, repo RepositoryParams) (report *RecoveryReport, err error) {
	ctx, span := telemetry.StartEngineSpan(ctx, telemetry.SpanRepair, repo.Prefix)
	defer func() {
		if err != nil {
			telemetry.RecordError(ctx, err)
		}
		span.End()
	}()

	if err := store.SetMidRepair(ctx, true); err != nil {
		return nil, err
	}
	defer func() {
		if err := store.SetMidRepair(ctx, false); err != nil {
			logger.ErrorCtx(ctx, "purge: failed to clear mid-repair flag", logger.Err(err))
		}
	}()

	vreport, err := verify.StrictRemote(ctx, store, adapter)
	if err != nil {
		return nil, fmt.Errorf("purge: reconcile: strict-remote verify: %w", err)
	}

	result := &RecoveryReport{}

	for _, name := range vreport.MissingRemote {
		record, err := reconcileVolume(ctx, store, adapter, repo, name)
		if err != nil {
			return nil, fmt.Errorf("purge: reconcile %s: %w", name, err)
		}
		result.Records = append(result.Records, *record)
	}

	if err := adapter.WaitForEmpty(ctx); err != nil {
		return nil, err
	}

	return result, nil
}

func reconcileVolume(ctx context.Context, store *catalog.Store, adapter *objectstore.Adapter, repo RepositoryParams, name string) (*RecoveryRecord, error) {
	parsed, err := volume.ParseFilename(name)
	if err != nil {
		return nil, err
	}

	if parsed.Kind != volume.KindDFileset {
		logger.WarnCtx(ctx, "purge: reconcile: volume missing remotely cannot be rebuilt from catalog", logger.VolumeName(name), logger.VolumeKind(string(parsed.Kind)))
		return &RecoveryRecord{
			ID:         uuid.NewString(),
			VolumeName: name,
			Action:     "manual-intervention-required",
			Detail:     fmt.Sprintf("%s volume has no recoverable bytes in the catalog", parsed.Kind),
		}, nil
	}

	vol, ok, err := findVolumeByName(ctx, store, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &RecoveryRecord{
			ID:         uuid.NewString(),
			VolumeName: name,
			Action:     "manual-intervention-required",
			Detail:     "no catalog row references this volume name",
		}, nil
	}

	fs, ok, err := findFilesetByVolume(ctx, store, vol.ID)
	if !ok || err != nil {
		if err != nil {
			return nil, err
		}
		return &RecoveryRecord{
			ID:         uuid.NewString(),
			VolumeName: name,
			Action:     "manual-intervention-required",
			Detail:     "volume has no associated fileset row to rebuild from",
		}, nil
	}

	entries, err := store.CreateTemporaryFileset(ctx, nil, fs.ID)
	if err != nil {
		return nil, err
	}

	var records []volume.DFilesetFileRecord
	for _, e := range entries.Entries {
		f, err := store.GetFile(ctx, nil, e.FileID)
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
			bs, err := store.GetBlockset(ctx, nil, *f.ContentBlocksetID)
			if err != nil {
				return nil, err
			}
			rec.ContentBlocksetID = bs.FullHash
		}
		if f.MetaBlocksetID != nil {
			bs, err := store.GetBlockset(ctx, nil, *f.MetaBlocksetID)
			if err != nil {
				return nil, err
			}
			rec.MetaBlocksetID = bs.FullHash
		}
		records = append(records, rec)
	}

	manifest := volume.NewManifest(repo.Blocksize, repo.BlockHashAlgo, repo.FileHashAlgo, repo.AppVersion)
	w := volume.NewWriter(manifest)
	if err := w.AddDFilesetEntry(nil, records); err != nil {
		return nil, err
	}
	sealed, err := w.Seal(repo.Passphrase)
	if err != nil {
		return nil, err
	}

	// vol.State is whatever the crash left behind: "temporary" if the
	// upload was never even attempted, "uploading" if it was attempted
	// but never confirmed, or "uploaded"/"verified" if this is a
	// surviving blob lost after the fact. The flush hook and the
	// post-upload transition both key off the state captured here,
	// before either mutates it.
	putResult, err := adapter.Put(ctx, name, bytes.NewReader(sealed), int64(len(sealed)), func(ctx context.Context) error {
		if vol.State == catalog.VolumeStateTemporary {
			return markUploading(ctx, store, vol.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := <-putResult; err != nil {
		return nil, fmt.Errorf("re-upload %s: %w", name, err)
	}
	if err := advanceToUploaded(ctx, store, vol.ID, vol.State, int64(len(sealed))); err != nil {
		return nil, err
	}

	return &RecoveryRecord{
		ID:         uuid.NewString(),
		VolumeName: name,
		Action:     "reuploaded",
		Detail:     fmt.Sprintf("re-materialized from fileset %d and re-uploaded", fs.ID),
	}, nil
}

// advanceToUploaded moves a re-uploaded volume row to "uploaded", taking
// whichever path the state machine requires from currentState: a
// "temporary" row needs the "uploading" rung first, an "uploading" row
// moves directly, and an already-"uploaded"/"verified" row (the blob was
// lost after a successful upload, not before one) simply has its size
// refreshed in place.
func advanceToUploaded(ctx context.Context, store *catalog.Store, volumeID int64, currentState catalog.VolumeState, size int64) error {
	target := catalog.VolumeStateUploaded
	if currentState == catalog.VolumeStateVerified {
		target = catalog.VolumeStateVerified
	}
	if currentState == catalog.VolumeStateTemporary {
		if err := markUploading(ctx, store, volumeID); err != nil {
			return err
		}
	}
	tx, err := store.Begin(ctx)
	if err != nil {
		return err
	}
	if err := store.UpdateRemoteVolumeState(ctx, tx, volumeID, target, size, ""); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func findVolumeByName(ctx context.Context, store *catalog.Store, name string) (*catalog.RemoteVolume, bool, error) {
	vols, err := store.ListRemoteVolumesByKind(ctx, catalog.VolumeKindDFileset)
	if err != nil {
		return nil, false, err
	}
	for i := range vols {
		if vols[i].Name == name {
			return &vols[i], true, nil
		}
	}
	return nil, false, nil
}

func findFilesetByVolume(ctx context.Context, store *catalog.Store, volumeID int64) (*catalog.FilesetTime, bool, error) {
	times, err := store.FilesetTimes(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, t := range times {
		fs, err := store.GetFilesetByID(ctx, t.ID)
		if err != nil {
			return nil, false, err
		}
		if fs.VolumeID == volumeID {
			return &catalog.FilesetTime{ID: fs.ID, Timestamp: fs.Timestamp}, true, nil
		}
	}
	return nil, false, nil
}
