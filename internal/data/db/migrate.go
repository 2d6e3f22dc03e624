package db

import (
	"gorm.io/gorm"

	types "github.com/imran1337/solid-prediction/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.FeatureDocument{},
		&types.IndexerError{},
	)
}
