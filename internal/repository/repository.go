package repository

import (
	"context"
	"time"

	"civicsync/internal/models"
)

// QueueRepository persists pending mutations. List results are always
// ordered (priority asc, last_modified asc): lower numeric priority
// first, ties broken oldest-edit-first.
type QueueRepository interface {
	// UpsertQueueItem atomically applies the enqueue rule: if a row with
	// the same (device, entity type, entity id, operation) is pending or
	// syncing, its payload, metadata, priority, checksum and
	// last_modified are replaced and attempts reset; otherwise a new row
	// is created. Returns the stored row.
	UpsertQueueItem(ctx context.Context, item *models.QueueItem) (*models.QueueItem, error)

	GetQueueItemByID(ctx context.Context, id string) (*models.QueueItem, error)
	SaveQueueItem(ctx context.Context, item *models.QueueItem) error
	UpdateQueueItem(ctx context.Context, id string, updates map[string]any) error
	ListQueueItems(ctx context.Context, params ListQueueItemsParams) ([]models.QueueItem, error)
	CountQueueItems(ctx context.Context, params ListQueueItemsParams) (int64, error)

	// Crash recovery and retention.
	ResetSyncingQueueItems(ctx context.Context) (int64, error)
	DeleteCompletedQueueItemsBefore(ctx context.Context, before time.Time) (int64, error)
}

// CacheRepository persists read snapshots with per-device size accounting.
type CacheRepository interface {
	GetCacheEntry(ctx context.Context, deviceID, cacheKey string) (*models.CacheEntry, error)
	UpsertCacheEntry(ctx context.Context, entry *models.CacheEntry) (*models.CacheEntry, error)
	TouchCacheEntry(ctx context.Context, id string, at time.Time) error

	// MarkCacheStale flags all entries for the device whose key matches
	// the pattern; '*' is a wildcard segment.
	MarkCacheStale(ctx context.Context, deviceID, pattern string) (int64, error)

	SumCacheBytes(ctx context.Context, deviceID string) (int64, error)
	TotalCacheBytes(ctx context.Context) (int64, error)
	CountCacheEntries(ctx context.Context) (total int64, stale int64, err error)

	// ListEvictionCandidates returns up to limit entries for the device
	// ordered worst-first for reclamation: priority desc (lowest tier
	// first), then last_access_at asc, then access_count asc.
	ListEvictionCandidates(ctx context.Context, deviceID string, limit int) ([]models.CacheEntry, error)
	DeleteCacheEntry(ctx context.Context, id string) error
	DeleteExpiredCacheEntries(ctx context.Context, before time.Time) (int64, error)
}

// ConflictRepository persists unresolved conflicts and their resolutions.
type ConflictRepository interface {
	CreateConflict(ctx context.Context, rec *models.ConflictRecord) error
	GetConflictByID(ctx context.Context, id string) (*models.ConflictRecord, error)
	SaveConflict(ctx context.Context, rec *models.ConflictRecord) error
	ListConflicts(ctx context.Context, params ListConflictsParams) ([]models.ConflictRecord, error)
	CountUnresolvedConflicts(ctx context.Context) (int64, error)
}

// SessionRepository persists orchestration runs.
type SessionRepository interface {
	CreateSession(ctx context.Context, s *models.SyncSession) error
	SaveSession(ctx context.Context, s *models.SyncSession) error
	GetSessionByID(ctx context.Context, id string) (*models.SyncSession, error)
	ListStartedSessions(ctx context.Context) ([]models.SyncSession, error)
	CountStartedSessions(ctx context.Context) (int64, error)
	DeleteSessionsEndedBefore(ctx context.Context, before time.Time) (int64, error)
}

// Repository is the unified store expected by the engine wiring.
type Repository interface {
	QueueRepository
	CacheRepository
	ConflictRepository
	SessionRepository
}

type ListQueueItemsParams struct {
	DeviceID   string
	UserKey    *string
	Status     *string
	EntityType *string
	Limit      int
	Offset     int
}

type ListConflictsParams struct {
	UserKey  *string
	DeviceID *string
	Resolved *bool
	Limit    int
	Offset   int
}
