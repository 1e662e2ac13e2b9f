package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/stockroom/internal/inventory"
	"github.com/MarcoPoloResearchLab/stockroom/internal/replication"
	"github.com/MarcoPoloResearchLab/stockroom/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	slowQueryThreshold = 200 * time.Millisecond
)

// Settings selects and addresses the backing database.
type Settings struct {
	Driver string
	Path   string
	DSN    string
}

// Open dispatches to the configured driver.
func Open(settings Settings, logger *zap.Logger) (*gorm.DB, error) {
	switch strings.ToLower(strings.TrimSpace(settings.Driver)) {
	case DriverSQLite, "":
		return OpenSQLite(settings.Path, logger)
	case DriverPostgres:
		return OpenPostgres(settings.DSN, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", settings.Driver)
	}
}

// gormConfig routes gorm's own log lines through zap. Missing rows are an
// expected answer in this service and are not logged.
func gormConfig(logger *zap.Logger) *gorm.Config {
	if logger == nil {
		logger = zap.NewNop()
	}
	writer, err := zap.NewStdLogAt(logger.Named("gorm"), zap.WarnLevel)
	if err != nil {
		writer = zap.NewStdLog(logger.Named("gorm"))
	}
	return &gorm.Config{
		Logger: gormlogger.New(writer, gormlogger.Config{
			SlowThreshold:             slowQueryThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}
}

// Models lists every table the service owns.
func Models() []any {
	models := inventory.Models()
	models = append(models, replication.Models()...)
	models = append(models, &users.Identity{}, &migrationRecord{})
	return models
}

func prepareSchema(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}
