package database

import (
	"log/slog"
	"path/filepath"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"referly/internal/aggregates"
	"referly/internal/config"
	"referly/internal/counters"
	"referly/internal/partneremails"
	"referly/internal/partners"
	"referly/internal/snapshots"
)

// DBManager wraps cartridge's sqlite.Manager with referly-specific migration methods.
type DBManager struct {
	*sqlite.Manager
	logger *slog.Logger
}

// NewDBManager creates a new database manager using cartridge's sqlite.Manager.
func NewDBManager(cfg *config.Config, logger *slog.Logger) *DBManager {
	sqliteCfg := sqlite.Config{
		Path:         DatabasePath(cfg),
		MaxOpenConns: cfg.GetMaxOpenConns(),
		MaxIdleConns: cfg.GetMaxIdleConns(),
		Logger:       logger,
		EnableWAL:    true,
		TxImmediate:  true,
		BusyTimeout:  5000,
	}

	return &DBManager{
		Manager: sqlite.NewManager(sqliteCfg),
		logger:  logger,
	}
}

// DatabasePath resolves the sqlite file: the database name inside the
// directory named by the connection string.
func DatabasePath(cfg *config.Config) string {
	name := cfg.DatabaseName
	if filepath.Ext(name) == "" {
		name += ".db"
	}
	return filepath.Join(cfg.DatabaseURL, name)
}

// Init initializes the database connection.
func (dm *DBManager) Init() error {
	_, err := dm.Manager.Connect()
	return err
}

// Models lists every persisted model in migration order.
func Models() []any {
	return []any{
		&counters.PopupCounter{},
		&counters.Referral{},
		&snapshots.Snapshot{},
		&aggregates.Daily{},
		&aggregates.Weekly{},
		&aggregates.Monthly{},
		&partners.Partner{},
		&partneremails.Draft{},
	}
}

// Migrate runs the schema migrations against db.
func Migrate(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		return tx.AutoMigrate(Models()...)
	})
}

// MigrateDatabase runs referly-specific migrations.
func (dm *DBManager) MigrateDatabase() error {
	db := dm.GetConnection()
	if db == nil {
		return gorm.ErrInvalidDB
	}

	if err := Migrate(db); err != nil {
		dm.logger.Error("Failed to auto-migrate database", slog.Any("error", err))
		return err
	}

	if err := dm.CheckpointWAL("FULL"); err != nil {
		dm.logger.Warn("Failed to checkpoint WAL after migration", slog.Any("error", err))
	}

	dm.logger.Info("Database migration completed successfully")
	return nil
}
