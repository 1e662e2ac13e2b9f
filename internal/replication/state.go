package replication

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/stockroom/internal/inventory"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SyncState is a client replica's progress against one hub.
type SyncState struct {
	Peer              string              `gorm:"column:peer;primaryKey;size:512"`
	// Watermark is the hub-issued instant of the last committed round.
	Watermark         inventory.Timestamp `gorm:"column:watermark_us;not null"`
	// PushedThrough is the local instant up to which changes were delivered.
	PushedThrough     inventory.Timestamp `gorm:"column:pushed_through_us;not null"`
	LastRoundAt       inventory.Timestamp `gorm:"column:last_round_at_us;not null"`
	LastConflictCount int                 `gorm:"column:last_conflict_count;not null"`
}

func (SyncState) TableName() string {
	return "sync_states"
}

// Advance moves both marks forward, never backward.
func (s SyncState) Advance(syncedAt, pushedThrough, roundAt inventory.Timestamp, conflicts int) SyncState {
	s.Watermark = s.Watermark.Later(syncedAt)
	s.PushedThrough = s.PushedThrough.Later(pushedThrough)
	s.LastRoundAt = roundAt
	s.LastConflictCount = conflicts
	return s
}

// LoadState returns the stored progress for a peer, or the epoch state.
func LoadState(ctx context.Context, db *gorm.DB, peer string) (SyncState, error) {
	var state SyncState
	err := db.WithContext(ctx).Where("peer = ?", peer).Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SyncState{Peer: peer}, nil
	}
	if err != nil {
		return SyncState{}, fmt.Errorf("%w: load sync state: %v", inventory.ErrStorageFailure, err)
	}
	return state, nil
}

func saveState(ctx context.Context, db *gorm.DB, state SyncState) error {
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&state).Error
	if err != nil {
		return fmt.Errorf("%w: save sync state: %v", inventory.ErrStorageFailure, err)
	}
	return nil
}

// Models lists the gorm models owned by this package, for migrations.
func Models() []any {
	return []any{&SyncState{}, &ConflictRecord{}}
}
