package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/glavox/glavox-server/internal/models"
)

// AutoMigrate creates or updates the schema for the tracking models.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}
	if err := db.AutoMigrate(
		&models.Session{},
		&models.TimeTracking{},
		&models.CacheEntry{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
