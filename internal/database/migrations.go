package database

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/hackathon"
	"github.com/MarcoPoloResearchLab/hackboard/backend/internal/sheets"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationSeedHackathonTabs  = "2026-09-14_seed_hackathon_tabs"
	migrationDropBlankCellsJSON = "2026-10-02_drop_blank_cells_json"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(context.Context, *gorm.DB, *zap.Logger) error
}

func applyMigrations(ctx context.Context, db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationSeedHackathonTabs, apply: seedHackathonTabs},
		{name: migrationDropBlankCellsJSON, apply: repairBlankCells},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.WithContext(ctx).Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(ctx, db, logger); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.WithContext(ctx).Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func seedHackathonTabs(ctx context.Context, db *gorm.DB, logger *zap.Logger) error {
	store, err := sheets.NewStore(sheets.StoreConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	return hackathon.EnsureTabs(ctx, store)
}

// repairBlankCells rewrites rows stored with an empty cells column as an empty JSON array.
func repairBlankCells(ctx context.Context, db *gorm.DB, _ *zap.Logger) error {
	return db.WithContext(ctx).Model(&sheets.SheetRow{}).
		Where("cells_json = ? OR cells_json IS NULL", "").
		Update("cells_json", "[]").Error
}
