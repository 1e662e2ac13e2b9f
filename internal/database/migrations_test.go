package database

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/stockroom/internal/inventory"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsBackfillsRecordedAt(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(append(inventory.Models(), &migrationRecord{})...); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	legacy := inventory.Category{ID: 1, Name: "Tools", CreatedAtMicros: 10, UpdatedAtMicros: 25}
	if err := database.Create(&legacy).Error; err != nil {
		testContext.Fatalf("failed to insert category: %v", err)
	}
	movement := inventory.StockMovement{
		ID:              "movement-1",
		ProductID:       1,
		MovementType:    inventory.MovementInbound,
		Quantity:        3,
		QuantityAfter:   3,
		CreatedAtMicros: 40,
	}
	if err := database.Create(&movement).Error; err != nil {
		testContext.Fatalf("failed to insert movement: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var storedCategory inventory.Category
	if err := database.Where("id = ?", legacy.ID).Take(&storedCategory).Error; err != nil {
		testContext.Fatalf("failed to reload category: %v", err)
	}
	if storedCategory.RecordedAtMicros != 25 {
		testContext.Fatalf("expected recorded_at to equal updated_at, got %d", storedCategory.RecordedAtMicros)
	}

	var storedMovement inventory.StockMovement
	if err := database.Where("id = ?", movement.ID).Take(&storedMovement).Error; err != nil {
		testContext.Fatalf("failed to reload movement: %v", err)
	}
	if storedMovement.RecordedAtMicros != 40 {
		testContext.Fatalf("expected movement recorded_at to equal created_at, got %d", storedMovement.RecordedAtMicros)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationBackfillRecordedAt).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("second migration pass failed: %v", err)
	}
	var count int64
	if err := database.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count migration records: %v", err)
	}
	if count != 1 {
		testContext.Fatalf("expected migrations to run once, got %d records", count)
	}
}

func TestOpenRejectsUnknownDriver(testContext *testing.T) {
	if _, err := Open(Settings{Driver: "oracle"}, zap.NewNop()); err == nil {
		testContext.Fatalf("expected unsupported driver error")
	}
}

func TestOpenSQLiteCreatesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "replica.db")
	database, err := Open(Settings{Driver: DriverSQLite, Path: databasePath}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	for _, table := range []string{"products", "categories", "storage_locations", "stock_movements", "sync_states", "sync_conflicts", "user_identities", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}
}
