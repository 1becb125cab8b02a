// Package verify implements the repository-wide consistency checks of
// spec.md §4.4: a local catalog-only pass, and a strict-remote pass that
// additionally reconciles the catalog's remote-volume rows against an
// actual backend listing.
package verify

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/coldvault/coldvault/internal/telemetry"
	"github.com/coldvault/coldvault/pkg/catalog"
	"github.com/coldvault/coldvault/pkg/objectstore"
)

// Report is the outcome of a verification pass. It wraps the catalog's
// structural ConsistencyReport and adds remote-reconciliation findings
// when run in strict mode.
type Report struct {
	Catalog *catalog.ConsistencyReport

	// MissingRemote lists volume names the catalog believes are durable
	// (temporary, uploading, uploaded or verified) but which the backend
	// does not list.
	MissingRemote []string

	// OrphanedRemote lists backend object names with no corresponding
	// remote-volume row in any non-deleted state.
	OrphanedRemote []string
}

// OK reports whether every check, local and remote, passed.
func (r *Report) OK() bool {
	return r.Catalog.OK() && len(r.MissingRemote) == 0 && len(r.OrphanedRemote) == 0
}

// Local runs the catalog-only invariant checks (P1-P4) without touching
// the backend (spec.md §4.4 "local").
func Local(ctx context.Context, store *catalog.Store) (*Report, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanVerify, trace.WithAttributes(telemetry.StrictRemote(false)))
	defer span.End()

	report, err := store.VerifyConsistency(ctx, nil, catalog.VerifyOptions{Strict: true})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, fmt.Errorf("verify: local consistency check: %w", err)
	}
	return &Report{Catalog: report}, nil
}

// StrictRemote runs every local check plus a reconciliation of the
// catalog's remote-volume rows against the backend's actual object
// listing (spec.md §4.4 "strict-remote"), flagging volumes the catalog
// believes are durable but which are missing remotely (P6, and the
// crash-recovery precondition checked by pkg/purge's Reconcile) and
// backend objects with no corresponding catalog row.
func StrictRemote(ctx context.Context, store *catalog.Store, adapter *objectstore.Adapter) (*Report, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanVerify, trace.WithAttributes(telemetry.StrictRemote(true)))
	defer span.End()

	local, err := Local(ctx, store)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	// A volume row can be left behind by a crash at any point along the
	// commit-before-upload discipline of spec.md §5: "temporary" if the
	// rewrite transaction committed but the flush hook never fired to
	// start the upload, "uploading" if the upload started but was never
	// confirmed, or "uploaded"/"verified" once it genuinely completed.
	// All four are volumes the catalog expects to exist remotely, so all
	// four belong in the durable set Reconcile repairs against — a row
	// left at "temporary" or "uploading" is exactly the crash window
	// pkg/purge.Reconcile exists to recover (spec.md §8 scenario 6).
	durableStates := []catalog.VolumeState{
		catalog.VolumeStateTemporary,
		catalog.VolumeStateUploading,
		catalog.VolumeStateUploaded,
		catalog.VolumeStateVerified,
	}

	durable := make(map[string]bool)
	for _, state := range durableStates {
		vols, err := store.ListRemoteVolumesByState(ctx, state)
		if err != nil {
			telemetry.RecordError(ctx, err)
			return nil, fmt.Errorf("verify: list %s volumes: %w", state, err)
		}
		for _, v := range vols {
			durable[v.Name] = true
		}
	}

	entries, err := adapter.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("verify: list backend objects: %w", err)
	}
	remote := make(map[string]bool, len(entries))
	for _, e := range entries {
		remote[e.Name] = true
	}

	for name := range durable {
		if !remote[name] {
			local.MissingRemote = append(local.MissingRemote, name)
		}
	}
	for name := range remote {
		if !durable[name] {
			local.OrphanedRemote = append(local.OrphanedRemote, name)
		}
	}

	return local, nil
}
