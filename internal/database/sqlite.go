package database

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/sheets"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection, migrates the tab schema and seeds the hackathon tabs.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// Row renumbering on delete must not interleave with appends.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&sheets.SheetRow{}, &migrationRecord{}); err != nil {
		return nil, err
	}

	if err := applyMigrations(ctx, db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
