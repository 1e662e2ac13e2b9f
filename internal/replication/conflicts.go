package replication

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/stockroom/internal/inventory"
	"github.com/MarcoPoloResearchLab/stockroom/internal/reconcile"
	"gorm.io/gorm"
)

// ConflictRecord logs a merge in which the local copy was kept over a
// different remote copy.
type ConflictRecord struct {
	ID              uint64              `gorm:"column:id;primaryKey;autoIncrement"`
	Peer            string              `gorm:"column:peer;size:512;not null;index:idx_sync_conflicts_peer"`
	EntityKind      string              `gorm:"column:entity_kind;size:32;not null"`
	EntityID        int64               `gorm:"column:entity_id;not null"`
	LocalUpdatedAt  inventory.Timestamp `gorm:"column:local_updated_at_us;not null"`
	RemoteUpdatedAt inventory.Timestamp `gorm:"column:remote_updated_at_us;not null"`
	Resolution      string              `gorm:"column:resolution;size:32;not null"`
	DetectedAt      inventory.Timestamp `gorm:"column:detected_at_us;not null;index:idx_sync_conflicts_detected"`
}

func (ConflictRecord) TableName() string {
	return "sync_conflicts"
}

func newConflictRecord(peer string, local, remote inventory.Entity, detectedAt inventory.Timestamp) ConflictRecord {
	return ConflictRecord{
		Peer:            peer,
		EntityKind:      string(local.Kind()),
		EntityID:        local.EntityID(),
		LocalUpdatedAt:  inventory.Timestamp(local.Version()),
		RemoteUpdatedAt: inventory.Timestamp(remote.Version()),
		Resolution:      reconcile.DecisionKeepLocal.String(),
		DetectedAt:      detectedAt,
	}
}

func saveConflicts(ctx context.Context, db *gorm.DB, records []ConflictRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := db.WithContext(ctx).Create(&records).Error; err != nil {
		return fmt.Errorf("%w: save conflict records: %v", inventory.ErrStorageFailure, err)
	}
	return nil
}

// RecentConflicts lists the newest conflict records first.
func RecentConflicts(ctx context.Context, db *gorm.DB, limit int) ([]ConflictRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []ConflictRecord
	err := db.WithContext(ctx).
		Order("detected_at_us DESC, id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list conflict records: %v", inventory.ErrStorageFailure, err)
	}
	return records, nil
}
