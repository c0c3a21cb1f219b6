package models

import (
	"time"

	"gorm.io/datatypes"
)

// Conflict types reported by the sync endpoint.
const (
	ConflictDataMismatch = "data_mismatch"
	ConflictVersion      = "version_conflict"
	ConflictDelete       = "delete_conflict"
	ConflictPermission   = "permission_conflict"
)

// Resolution strategies.
const (
	ResolveUseLocal  = "use_local"
	ResolveUseServer = "use_server"
	ResolveMerge     = "merge"
	ResolveManual    = "manual"
	ResolveSkip      = "skip"
)

// ConflictRecord is one detected divergence between local and server
// state, linked one-to-one with the queue item that produced it until
// resolved.
type ConflictRecord struct {
	ID          string `gorm:"primaryKey;type:uuid"`
	QueueItemID string `gorm:"type:uuid;not null;index"`
	UserKey     string `gorm:"type:varchar(100);not null;index"`
	DeviceID    string `gorm:"type:varchar(100);not null;index"`

	EntityType string `gorm:"type:varchar(30);not null"`
	EntityID   string `gorm:"type:varchar(100);not null"`

	ConflictType string `gorm:"type:varchar(30);not null;index"`

	LocalData  datatypes.JSON `gorm:"type:jsonb;not null"`
	ServerData datatypes.JSON `gorm:"type:jsonb;not null"`

	Resolution   *string        `gorm:"type:varchar(20);index"`
	ResolvedData datatypes.JSON `gorm:"type:jsonb"`
	IsResolved   bool           `gorm:"not null;default:false;index"`
	ResolvedAt   *time.Time     `gorm:"type:timestamptz"`
	ResolvedBy   *string        `gorm:"type:varchar(100)"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (ConflictRecord) TableName() string {
	return "conflict_records"
}
