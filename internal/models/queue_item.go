package models

import (
	"time"

	"gorm.io/datatypes"
)

// Queue item status values.
const (
	QueueStatusPending   = "pending"
	QueueStatusSyncing   = "syncing"
	QueueStatusCompleted = "completed"
	QueueStatusFailed    = "failed"
	QueueStatusConflict  = "conflict"
)

// Mutation operations.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Entity types accepted by the queue and cache.
const (
	EntityDocument     = "document"
	EntityGrievance    = "grievance"
	EntityProfile      = "profile"
	EntityNotification = "notification"
	EntityMessage      = "message"
	EntityConfig       = "config"
)

// QueueItem is one pending client-side mutation awaiting synchronization.
// (device_id, entity_type, entity_id, operation) is unique while the item
// is pending or syncing; re-enqueuing the same key updates the row.
type QueueItem struct {
	ID       string `gorm:"primaryKey;type:uuid"`
	UserKey  string `gorm:"type:varchar(100);not null;index"`
	DeviceID string `gorm:"type:varchar(100);not null;index;uniqueIndex:uniq_queue_identity"`

	EntityType string `gorm:"type:varchar(30);not null;index:idx_queue_entity;uniqueIndex:uniq_queue_identity"`
	EntityID   string `gorm:"type:varchar(100);not null;index:idx_queue_entity;uniqueIndex:uniq_queue_identity"`
	Operation  string `gorm:"type:varchar(10);not null;uniqueIndex:uniq_queue_identity,where:status IN ('pending','syncing')"`

	// 1 = highest, 10 = lowest.
	Priority int `gorm:"not null;default:5;index"`

	Payload  datatypes.JSON `gorm:"type:jsonb"`
	Metadata datatypes.JSON `gorm:"type:jsonb"`

	Status      string `gorm:"type:varchar(20);not null;default:'pending';index"`
	Attempts    int    `gorm:"not null;default:0"`
	MaxAttempts int    `gorm:"not null;default:3"`

	// SHA-256 of the serialized payload, used for conflict detection only.
	Checksum string `gorm:"type:varchar(64)"`

	ErrorMessage  *string        `gorm:"type:text"`
	ConflictData  datatypes.JSON `gorm:"type:jsonb"`
	LastModified  time.Time      `gorm:"type:timestamptz;not null;index"`
	LastAttemptAt *time.Time     `gorm:"type:timestamptz"`
	CompletedAt   *time.Time     `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (QueueItem) TableName() string {
	return "sync_queue"
}
