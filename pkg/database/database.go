// Package database is the SQL record store, on Postgres in production and
// SQLite for single-node deployments and tests.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/backsoul/leadquiz/pkg/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// printfWriter routes gorm's own log lines into the service logger
type printfWriter struct {
	log *logger.Logger
}

func (w printfWriter) Printf(format string, args ...interface{}) {
	w.log.Warn(fmt.Sprintf(format, args...))
}

// Open connects with driver ("postgres" or "sqlite") and migrates the schema
func Open(ctx context.Context, driver, dsn string, log *logger.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}

	gormLog := gormLogger.New(
		printfWriter{log: log.With("component", "gorm")},
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// SQLite takes a single writer
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.WithContext(ctx).AutoMigrate(&userRow{}, &attemptRow{}, &starRow{}, &questionRow{}); err != nil {
		return nil, fmt.Errorf("migrating %s schema: %w", driver, err)
	}
	log.Info("connected to database", "driver", driver)
	return New(db, log), nil
}
