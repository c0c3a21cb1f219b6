package models

import (
	"time"

	"gorm.io/datatypes"
)

// Session status values.
const (
	SessionStarted   = "started"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
	SessionCancelled = "cancelled"
)

// SyncSession is one orchestration pass over a device's pending queue.
// At most one session is `started` per device at any time.
type SyncSession struct {
	ID       string `gorm:"primaryKey;type:uuid"`
	UserKey  string `gorm:"type:varchar(100);not null;index"`
	DeviceID string `gorm:"type:varchar(100);not null;index"`

	StartTime time.Time  `gorm:"type:timestamptz;not null;index"`
	EndTime   *time.Time `gorm:"type:timestamptz"`
	Status    string     `gorm:"type:varchar(20);not null;default:'started';index"`

	TotalItems       int   `gorm:"not null;default:0"`
	ProcessedItems   int   `gorm:"not null;default:0"`
	SuccessfulItems  int   `gorm:"not null;default:0"`
	FailedItems      int   `gorm:"not null;default:0"`
	ConflictItems    int   `gorm:"not null;default:0"`
	BytesTransferred int64 `gorm:"not null;default:0"`

	// Ordered list of {itemId, entityType, entityId, error} objects.
	ErrorMessages datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (SyncSession) TableName() string {
	return "sync_sessions"
}
