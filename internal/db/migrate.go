package db

import (
	"civicsync/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.QueueItem{},
		&models.CacheEntry{},
		&models.ConflictRecord{},
		&models.SyncSession{},
	)
}
