package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/MarcoPoloResearchLab/stockroom/internal/config"
	"github.com/MarcoPoloResearchLab/stockroom/internal/database"
	"github.com/MarcoPoloResearchLab/stockroom/internal/inventory"
	"github.com/MarcoPoloResearchLab/stockroom/internal/logging"
	"github.com/MarcoPoloResearchLab/stockroom/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	cfgFile string
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "stockroom",
		Short:         "Offline-capable inventory with hub and replica reconciliation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(
		newServeCommand(),
		newAgentCommand(),
		newSyncCommand(),
		newStatusCommand(),
		newBookCommand(),
		newProductCommand(),
		newExportCommand(),
		newImportCommand(),
		newTokenCommand(),
	)
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "PostgreSQL DSN")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("hub-url", "", "Hub base URL for replica commands")
	cmd.PersistentFlags().String("hub-token", "", "Session token presented to the hub")
	cmd.PersistentFlags().Duration("sync-interval", defaults.GetDuration("sync.interval"), "Interval between scheduled rounds")
	cmd.PersistentFlags().Int64("id-stride", defaults.GetInt64("ids.stride"), "Number of id stripes shared by the hub and its replicas")
	cmd.PersistentFlags().Int64("id-offset", defaults.GetInt64("ids.offset"), "Id stripe owned by this process (0 is the hub)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "hub.url", "hub-url")
	bindFlag(cmd, "hub.token", "hub-token")
	bindFlag(cmd, "sync.interval", "sync-interval")
	bindFlag(cmd, "ids.stride", "id-stride")
	bindFlag(cmd, "ids.offset", "id-offset")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// runtime bundles what every command needs: configuration, a logger and an
// open store.
type runtime struct {
	config config.AppConfig
	logger *zap.Logger
	db     *gorm.DB
	store  *inventory.Store
}

func openRuntime(logFormat string) (*runtime, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLoggerWithFormat(appConfig.LogLevel, logFormat)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(database.Settings{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	store, err := inventory.NewStore(inventory.StoreConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
		IDs:      inventory.IDAllocation{Stride: appConfig.IDStride, Offset: appConfig.IDOffset},
	})
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	return &runtime{config: appConfig, logger: logger, db: db, store: store}, nil
}

func (r *runtime) Close() {
	if sqlDB, err := r.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = r.logger.Sync()
}

func (r *runtime) users() (*users.Service, error) {
	return users.NewService(users.ServiceConfig{Database: r.db})
}

func (r *runtime) ledger() (*inventory.Ledger, error) {
	return inventory.NewLedger(inventory.LedgerConfig{
		Store:      r.store,
		IDProvider: inventory.NewUUIDProvider(),
		Logger:     r.logger,
	})
}
