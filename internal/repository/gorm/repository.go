package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"civicsync/internal/models"
	"civicsync/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// --- queue -------------------------------------------------------------

func (s *Store) UpsertQueueItem(ctx context.Context, item *models.QueueItem) (*models.QueueItem, error) {
	if s == nil || s.db == nil || item == nil {
		return nil, nil
	}
	var out *models.QueueItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.QueueItem
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("device_id = ?", item.DeviceID).
			Where("entity_type = ?", item.EntityType).
			Where("entity_id = ?", item.EntityID).
			Where("operation = ?", item.Operation).
			Where("status IN ?", []string{models.QueueStatusPending, models.QueueStatusSyncing}).
			First(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil {
			// Latest intent wins over an unsynced one.
			existing.Payload = item.Payload
			existing.Metadata = item.Metadata
			existing.Priority = item.Priority
			existing.Checksum = item.Checksum
			existing.LastModified = item.LastModified
			existing.Status = models.QueueStatusPending
			existing.Attempts = 0
			existing.ErrorMessage = nil
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			out = &existing
			return nil
		}
		if err := tx.Create(item).Error; err != nil {
			return err
		}
		out = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetQueueItemByID(ctx context.Context, id string) (*models.QueueItem, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.QueueItem
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveQueueItem(ctx context.Context, item *models.QueueItem) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) UpdateQueueItem(ctx context.Context, id string, updates map[string]any) error {
	if s == nil || s.db == nil || len(updates) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.QueueItem{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (s *Store) ListQueueItems(ctx context.Context, params repository.ListQueueItemsParams) ([]models.QueueItem, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.queueQuery(ctx, params).
		Order("priority asc").
		Order("last_modified asc")
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.QueueItem
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountQueueItems(ctx context.Context, params repository.ListQueueItemsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.queueQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) queueQuery(ctx context.Context, params repository.ListQueueItemsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.QueueItem{})
	if v := strings.TrimSpace(params.DeviceID); v != "" {
		query = query.Where("device_id = ?", v)
	}
	if params.UserKey != nil && strings.TrimSpace(*params.UserKey) != "" {
		query = query.Where("user_key = ?", strings.ToLower(strings.TrimSpace(*params.UserKey)))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.EntityType != nil && strings.TrimSpace(*params.EntityType) != "" {
		query = query.Where("entity_type = ?", strings.TrimSpace(*params.EntityType))
	}
	return query
}

func (s *Store) ResetSyncingQueueItems(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.QueueItem{}).
		Where("status = ?", models.QueueStatusSyncing).
		Updates(map[string]any{"status": models.QueueStatusPending})
	return res.RowsAffected, res.Error
}

func (s *Store) DeleteCompletedQueueItemsBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("status = ?", models.QueueStatusCompleted).
		Where("completed_at IS NOT NULL").
		Where("completed_at < ?", before).
		Delete(&models.QueueItem{})
	return res.RowsAffected, res.Error
}

// --- cache -------------------------------------------------------------

func (s *Store) GetCacheEntry(ctx context.Context, deviceID, cacheKey string) (*models.CacheEntry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var entry models.CacheEntry
	err := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Where("cache_key = ?", cacheKey).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) UpsertCacheEntry(ctx context.Context, entry *models.CacheEntry) (*models.CacheEntry, error) {
	if s == nil || s.db == nil || entry == nil {
		return nil, nil
	}
	var out *models.CacheEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.CacheEntry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("device_id = ?", entry.DeviceID).
			Where("cache_key = ?", entry.CacheKey).
			First(&existing).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil {
			existing.UserKey = entry.UserKey
			existing.EntityType = entry.EntityType
			existing.EntityID = entry.EntityID
			existing.Data = entry.Data
			existing.Metadata = entry.Metadata
			existing.ExpiresAt = entry.ExpiresAt
			existing.Priority = entry.Priority
			existing.SizeBytes = entry.SizeBytes
			existing.IsStale = false
			existing.LastSyncAt = entry.LastSyncAt
			existing.AccessCount = existing.AccessCount + 1
			existing.LastAccessAt = entry.LastAccessAt
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			out = &existing
			return nil
		}
		entry.AccessCount = 1
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		out = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) TouchCacheEntry(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.CacheEntry{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"access_count":   gorm.Expr("access_count + 1"),
			"last_access_at": at,
		}).Error
}

func (s *Store) MarkCacheStale(ctx context.Context, deviceID, pattern string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := s.db.WithContext(ctx).
		Model(&models.CacheEntry{}).
		Where("device_id = ?", deviceID)
	if strings.Contains(pattern, "*") {
		query = query.Where("cache_key LIKE ?", strings.ReplaceAll(pattern, "*", "%"))
	} else {
		query = query.Where("cache_key = ?", pattern)
	}
	res := query.Updates(map[string]any{"is_stale": true})
	return res.RowsAffected, res.Error
}

func (s *Store) SumCacheBytes(ctx context.Context, deviceID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.CacheEntry{}).
		Where("device_id = ?", deviceID).
		Select("COALESCE(SUM(size_bytes), 0)").
		Scan(&total).Error
	return total, err
}

func (s *Store) TotalCacheBytes(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.CacheEntry{}).
		Select("COALESCE(SUM(size_bytes), 0)").
		Scan(&total).Error
	return total, err
}

func (s *Store) CountCacheEntries(ctx context.Context) (int64, int64, error) {
	if s == nil || s.db == nil {
		return 0, 0, nil
	}
	var total, stale int64
	if err := s.db.WithContext(ctx).Model(&models.CacheEntry{}).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err := s.db.WithContext(ctx).
		Model(&models.CacheEntry{}).
		Where("is_stale = ?", true).
		Count(&stale).Error; err != nil {
		return 0, 0, err
	}
	return total, stale, nil
}

func (s *Store) ListEvictionCandidates(ctx context.Context, deviceID string, limit int) ([]models.CacheEntry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit = normalizeLimit(limit, 20)
	var items []models.CacheEntry
	err := s.db.WithContext(ctx).
		Model(&models.CacheEntry{}).
		Where("device_id = ?", deviceID).
		Order("priority desc").
		Order("last_access_at asc").
		Order("access_count asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) DeleteCacheEntry(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.CacheEntry{}).Error
}

func (s *Store) DeleteExpiredCacheEntries(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL").
		Where("expires_at < ?", before).
		Delete(&models.CacheEntry{})
	return res.RowsAffected, res.Error
}

// --- conflicts ---------------------------------------------------------

func (s *Store) CreateConflict(ctx context.Context, rec *models.ConflictRecord) error {
	if s == nil || s.db == nil || rec == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *Store) GetConflictByID(ctx context.Context, id string) (*models.ConflictRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var rec models.ConflictRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) SaveConflict(ctx context.Context, rec *models.ConflictRecord) error {
	if s == nil || s.db == nil || rec == nil {
		return nil
	}
	return s.db.WithContext(ctx).Save(rec).Error
}

func (s *Store) ListConflicts(ctx context.Context, params repository.ListConflictsParams) ([]models.ConflictRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.ConflictRecord{})
	if params.UserKey != nil && strings.TrimSpace(*params.UserKey) != "" {
		query = query.Where("user_key = ?", strings.ToLower(strings.TrimSpace(*params.UserKey)))
	}
	if params.DeviceID != nil && strings.TrimSpace(*params.DeviceID) != "" {
		query = query.Where("device_id = ?", strings.TrimSpace(*params.DeviceID))
	}
	if params.Resolved != nil {
		query = query.Where("is_resolved = ?", *params.Resolved)
	}
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.ConflictRecord
	// Oldest conflicts surface first.
	if err := query.Order("created_at asc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountUnresolvedConflicts(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.ConflictRecord{}).
		Where("is_resolved = ?", false).
		Count(&total).Error
	return total, err
}

// --- sessions ----------------------------------------------------------

func (s *Store) CreateSession(ctx context.Context, sess *models.SyncSession) error {
	if s == nil || s.db == nil || sess == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(sess).Error
}

func (s *Store) SaveSession(ctx context.Context, sess *models.SyncSession) error {
	if s == nil || s.db == nil || sess == nil {
		return nil
	}
	return s.db.WithContext(ctx).Save(sess).Error
}

func (s *Store) GetSessionByID(ctx context.Context, id string) (*models.SyncSession, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var sess models.SyncSession
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) ListStartedSessions(ctx context.Context) ([]models.SyncSession, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SyncSession
	err := s.db.WithContext(ctx).
		Model(&models.SyncSession{}).
		Where("status = ?", models.SessionStarted).
		Order("start_time asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountStartedSessions(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.SyncSession{}).
		Where("status = ?", models.SessionStarted).
		Count(&total).Error
	return total, err
}

func (s *Store) DeleteSessionsEndedBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("end_time IS NOT NULL").
		Where("end_time < ?", before).
		Delete(&models.SyncSession{})
	return res.RowsAffected, res.Error
}

// --- helpers -----------------------------------------------------------

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
