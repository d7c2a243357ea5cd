package models

import (
	"fmt"
	"log"

	"github.com/WPS/radvis-sub019/config"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func migrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&Knoten{},
		&Kante{},
		&ImportedFeature{},
		&ImportSession{},
		&ImportLogEintrag{},
		&FeatureZuordnung{},
		&Massnahme{},
		&JobExecutionDescription{},
		&KonsistenzregelVerletzung{},
	)
}

// InitDatabase connects the main PostGIS database and migrates the schema.
func InitDatabase() error {
	var err error
	DB, err = gorm.Open(postgres.Open(config.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}
	if err := migrateAll(DB); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	log.Println("database initialized")
	return nil
}

// InitTestDatabase opens an isolated in-memory sqlite database, used by
// tests and standalone mode without a PostGIS instance. cache=shared keeps
// the pooled connections on one database.
func InitTestDatabase() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := migrateAll(db); err != nil {
		return nil, err
	}
	return db, nil
}

// GetDB returns the shared database handle.
func GetDB() *gorm.DB {
	return DB
}
