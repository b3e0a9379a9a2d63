package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"propertysearch/server/internal/models"
)

const (
	insertBatchSize = 200
	// lastUpdatedID is the primary key of the single marker row.
	lastUpdatedID = 1
)

type Database struct {
	db *gorm.DB
}

// NewDatabase opens (or creates) the SQLite database at dbPath.
func NewDatabase(dbPath string) (*Database, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_foreign_keys=on&_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Database{db: db}, nil
}

// NewTestDB opens a private in-memory database.
func NewTestDB() (*Database, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open test database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// One connection keeps the in-memory database alive and serialises access.
	sqlDB.SetMaxOpenConns(1)

	return &Database{db: db}, nil
}

// GetDB exposes the underlying handle for tests and tooling.
func (d *Database) GetDB() *gorm.DB {
	return d.db
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (d *Database) GetTubeStations(ctx context.Context) ([]models.TubeStation, error) {
	var stations []models.TubeStation
	if err := d.db.WithContext(ctx).Order("id").Find(&stations).Error; err != nil {
		return nil, fmt.Errorf("failed to query tube stations: %w", err)
	}
	return stations, nil
}

// ReplaceTubeStations swaps the whole station set and stamps the tube marker
// in one transaction.
func (d *Database) ReplaceTubeStations(ctx context.Context, stations []models.TubeStation, at time.Time) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.TubeStation{}).Error; err != nil {
			return fmt.Errorf("failed to delete tube stations: %w", err)
		}
		if len(stations) > 0 {
			rows := make([]models.TubeStation, len(stations))
			copy(rows, stations)
			if err := tx.CreateInBatches(rows, insertBatchSize).Error; err != nil {
				return fmt.Errorf("failed to insert tube stations: %w", err)
			}
		}
		return touchLastUpdated(tx, "tube", at)
	})
}

func (d *Database) GetPropertySummaries(ctx context.Context) ([]models.PropertySummary, error) {
	var summaries []models.PropertySummary
	if err := d.db.WithContext(ctx).Order("id").Find(&summaries).Error; err != nil {
		return nil, fmt.Errorf("failed to query property summaries: %w", err)
	}
	return summaries, nil
}

// ReplacePropertySummaries deletes every summary, inserts the new set and
// stamps the property marker. Readers see either the old or the new set.
func (d *Database) ReplacePropertySummaries(ctx context.Context, summaries []models.PropertySummary, at time.Time) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.PropertySummary{}).Error; err != nil {
			return fmt.Errorf("failed to delete property summaries: %w", err)
		}
		if len(summaries) > 0 {
			rows := make([]models.PropertySummary, len(summaries))
			for i, s := range summaries {
				s.ID = 0
				rows[i] = s
			}
			if err := tx.CreateInBatches(rows, insertBatchSize).Error; err != nil {
				return fmt.Errorf("failed to insert property summaries: %w", err)
			}
		}
		return touchLastUpdated(tx, "property", at)
	})
}

// GetLastUpdated returns the refresh marker; a zero value when nothing ran yet.
func (d *Database) GetLastUpdated(ctx context.Context) (models.LastUpdated, error) {
	var marker models.LastUpdated
	err := d.db.WithContext(ctx).First(&marker, lastUpdatedID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.LastUpdated{}, nil
	}
	if err != nil {
		return models.LastUpdated{}, fmt.Errorf("failed to query last updated: %w", err)
	}
	return marker, nil
}

func touchLastUpdated(tx *gorm.DB, column string, at time.Time) error {
	marker := models.LastUpdated{ID: lastUpdatedID}
	switch column {
	case "property":
		marker.Property = at.UnixMilli()
	case "tube":
		marker.Tube = at.UnixMilli()
	default:
		return fmt.Errorf("unknown last updated column %q", column)
	}

	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{column}),
	}).Create(&marker).Error
	if err != nil {
		return fmt.Errorf("failed to update last updated: %w", err)
	}
	return nil
}
