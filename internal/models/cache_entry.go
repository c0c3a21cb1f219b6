package models

import (
	"time"

	"gorm.io/datatypes"
)

// CacheEntry is one cached read snapshot, unique per (device_id, cache_key).
type CacheEntry struct {
	ID       string `gorm:"primaryKey;type:uuid"`
	UserKey  string `gorm:"type:varchar(100);not null;index"`
	DeviceID string `gorm:"type:varchar(100);not null;index;uniqueIndex:uniq_cache_key"`
	CacheKey string `gorm:"type:varchar(200);not null;uniqueIndex:uniq_cache_key"`

	EntityType string `gorm:"type:varchar(30);not null;index:idx_cache_entity"`
	EntityID   string `gorm:"type:varchar(100);not null;index:idx_cache_entity"`

	Data     datatypes.JSON `gorm:"type:jsonb;not null"`
	Metadata datatypes.JSON `gorm:"type:jsonb"`

	IsStale    bool       `gorm:"not null;default:false;index"`
	ExpiresAt  *time.Time `gorm:"type:timestamptz;index"`
	LastSyncAt time.Time  `gorm:"type:timestamptz;not null"`

	// Eviction inputs: priority tier dominates recency and frequency.
	Priority     int       `gorm:"not null;default:5"`
	AccessCount  int64     `gorm:"not null;default:0"`
	LastAccessAt time.Time `gorm:"type:timestamptz;not null;index"`
	SizeBytes    int64     `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (CacheEntry) TableName() string {
	return "offline_cache"
}
