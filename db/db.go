package db

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ip-tracker/config"
	"ip-tracker/models"
)

var ErrMissingConnectionString = errors.New("DB_CONNECTION_STRING environment variable is not set")

// InitDatabase connects to postgres and migrates the tracking tables.
func InitDatabase(cfg config.Config) (*gorm.DB, error) {
	if cfg.DBConnectionString == "" {
		return nil, ErrMissingConnectionString
	}

	conn, err := gorm.Open(postgres.Open(cfg.DBConnectionString), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %w", ErrStoreUnavailable, err)
	}

	if err := Migrate(conn); err != nil {
		return nil, err
	}

	log.Info("Database connection established and migrations completed")
	return conn, nil
}

// Migrate creates or updates the tables owned by the tracker.
func Migrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(&models.RequestLog{}, &models.BlockedIP{}, &models.SuspiciousIP{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
