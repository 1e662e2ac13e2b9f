package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/stockroom/internal/inventory"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillRecordedAt = "2026-09-14_backfill_recorded_at"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillRecordedAt, apply: backfillRecordedAt},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillRecordedAt stamps rows loaded before the recorded_at column existed,
// so they are offered to peers on the next round.
func backfillRecordedAt(db *gorm.DB) error {
	for _, model := range []any{&inventory.Product{}, &inventory.Category{}, &inventory.StorageLocation{}} {
		err := db.Model(model).
			Where("recorded_at_us = 0").
			Update("recorded_at_us", gorm.Expr("updated_at_us")).Error
		if err != nil {
			return err
		}
	}
	return db.Model(&inventory.StockMovement{}).
		Where("recorded_at_us = 0").
		Update("recorded_at_us", gorm.Expr("created_at_us")).Error
}
