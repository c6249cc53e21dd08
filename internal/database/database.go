package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/records"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

var (
	// ErrMissingDSN indicates that no connection string was configured.
	ErrMissingDSN = errors.New("database: dsn is required")
	// ErrUnsupportedDriver indicates a driver name outside sqlite and mysql.
	ErrUnsupportedDriver = errors.New("database: unsupported driver")
)

// Open establishes a connection with the configured driver and performs schema migrations.
func Open(driver string, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrMissingDSN
	}

	dialector, err := dialectorFor(driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if normalizeDriver(driver) == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(append(records.Models(), &users.Identity{}, &appliedMigration{})...); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("driver", normalizeDriver(driver)))
	}

	return db, nil
}

// OpenSQLite opens a SQLite database file and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	return Open(DriverSQLite, path, logger)
}

func dialectorFor(driver string, dsn string) (gorm.Dialector, error) {
	switch normalizeDriver(driver) {
	case DriverSQLite:
		return sqlite.Open(dsn), nil
	case DriverMySQL:
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driver)
	}
}

func normalizeDriver(driver string) string {
	normalized := strings.ToLower(strings.TrimSpace(driver))
	if normalized == "" {
		return DriverSQLite
	}
	return normalized
}
