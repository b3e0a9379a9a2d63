package database

import (
	"fmt"

	"propertysearch/server/internal/models"
)

func (d *Database) RunMigrations() error {
	if err := d.db.AutoMigrate(&models.TubeStation{}, &models.PropertySummary{}, &models.LastUpdated{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	// Lookups by postcode and action back the map view
	if err := d.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_property_summaries_lookup
		ON property_summaries(postcode, action, num_beds);
	`).Error; err != nil {
		return fmt.Errorf("failed to create summary index: %w", err)
	}

	return nil
}
