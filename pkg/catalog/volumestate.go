package catalog

import (
	"context"
	"fmt"
)

// allowedTransitions enumerates the permitted forward edges of the
// remote-volume state machine (spec.md §4.3), plus the two permitted
// backward edges: temporary->deleting (abort) and
// uploaded/verified->deleting (retire).
var allowedTransitions = map[VolumeState]map[VolumeState]bool{
	VolumeStateTemporary: {VolumeStateUploading: true, VolumeStateDeleting: true},
	VolumeStateUploading: {VolumeStateUploaded: true},
	VolumeStateUploaded:  {VolumeStateVerified: true, VolumeStateDeleting: true},
	VolumeStateVerified:  {VolumeStateDeleting: true},
	VolumeStateDeleting:  {VolumeStateDeleted: true},
	VolumeStateDeleted:   {},
}

// UpdateRemoteVolumeState performs a state-machine-enforced update of a
// RemoteVolume row (spec.md §4.3 update_remote_volume, invariant P6: "no
// remote-volume row transitions backward except along the permitted
// abort edges"). size and hash are only applied when non-zero/non-empty,
// so callers can pass zero values when only the state is changing.
func (s *Store) UpdateRemoteVolumeState(ctx context.Context, tx *Tx, id int64, newState VolumeState, size int64, hash string) error {
	db := tx.db

	var vol RemoteVolume
	if err := db.WithContext(ctx).First(&vol, id).Error; err != nil {
		return fmt.Errorf("catalog: lookup remote volume %d: %w", id, err)
	}

	if vol.State != newState {
		allowed, ok := allowedTransitions[vol.State]
		if !ok || !allowed[newState] {
			return fmt.Errorf("%w: %s -> %s (volume %d)", ErrInvalidStateTransition, vol.State, newState, id)
		}
	}

	updates := map[string]any{"state": newState}
	if size != 0 {
		updates["size"] = size
	}
	if hash != "" {
		updates["hash"] = hash
	}

	if err := db.WithContext(ctx).Model(&RemoteVolume{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("catalog: update remote volume %d: %w", id, err)
	}
	return nil
}

// GetRemoteVolume looks up a remote-volume row by id.
func (s *Store) GetRemoteVolume(ctx context.Context, tx *Tx, id int64) (*RemoteVolume, error) {
	db := s.db
	if tx != nil {
		db = tx.db
	}
	var vol RemoteVolume
	if err := db.WithContext(ctx).First(&vol, id).Error; err != nil {
		return nil, fmt.Errorf("catalog: get remote volume %d: %w", id, err)
	}
	return &vol, nil
}

// ListRemoteVolumesByState returns every remote-volume row in the given
// state, used by the verifier and by compact to find rewrite candidates.
func (s *Store) ListRemoteVolumesByState(ctx context.Context, state VolumeState) ([]RemoteVolume, error) {
	var rows []RemoteVolume
	if err := s.db.WithContext(ctx).Where("state = ?", state).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("catalog: list remote volumes in state %s: %w", state, err)
	}
	return rows, nil
}

// ListRemoteVolumesByKind returns every remote-volume row of the given
// kind, regardless of state.
func (s *Store) ListRemoteVolumesByKind(ctx context.Context, kind VolumeKind) ([]RemoteVolume, error) {
	var rows []RemoteVolume
	if err := s.db.WithContext(ctx).Where("kind = ?", kind).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("catalog: list remote volumes of kind %s: %w", kind, err)
	}
	return rows, nil
}
