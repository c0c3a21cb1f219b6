package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/datatypes"

	"civicsync/internal/models"
	"civicsync/internal/repository"
)

// stubRepo is a test-only in-memory implementation of
// repository.Repository. It mirrors the store's ordering and upsert
// semantics so service tests exercise the real contracts.
type stubRepo struct {
	mu        sync.Mutex
	seq       int
	queue     map[string]*models.QueueItem
	queueSeq  map[string]int
	cache     map[string]*models.CacheEntry
	conflicts map[string]*models.ConflictRecord
	sessions  map[string]*models.SyncSession
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		queue:     map[string]*models.QueueItem{},
		queueSeq:  map[string]int{},
		cache:     map[string]*models.CacheEntry{},
		conflicts: map[string]*models.ConflictRecord{},
		sessions:  map[string]*models.SyncSession{},
	}
}

func cacheKeyOf(deviceID, cacheKey string) string {
	return deviceID + "|" + cacheKey
}

// --- queue -------------------------------------------------------------

func (s *stubRepo) UpsertQueueItem(ctx context.Context, item *models.QueueItem) (*models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.queue {
		if existing.DeviceID == item.DeviceID &&
			existing.EntityType == item.EntityType &&
			existing.EntityID == item.EntityID &&
			existing.Operation == item.Operation &&
			(existing.Status == models.QueueStatusPending || existing.Status == models.QueueStatusSyncing) {
			existing.Payload = item.Payload
			existing.Metadata = item.Metadata
			existing.Priority = item.Priority
			existing.Checksum = item.Checksum
			existing.LastModified = item.LastModified
			existing.Status = models.QueueStatusPending
			existing.Attempts = 0
			existing.ErrorMessage = nil
			out := *existing
			return &out, nil
		}
	}
	cp := *item
	s.queue[cp.ID] = &cp
	s.seq++
	s.queueSeq[cp.ID] = s.seq
	out := cp
	return &out, nil
}

func (s *stubRepo) GetQueueItemByID(ctx context.Context, id string) (*models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.queue[id]
	if !ok {
		return nil, nil
	}
	out := *item
	return &out, nil
}

func (s *stubRepo) SaveQueueItem(ctx context.Context, item *models.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *item
	s.queue[cp.ID] = &cp
	return nil
}

func (s *stubRepo) UpdateQueueItem(ctx context.Context, id string, updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.queue[id]
	if !ok {
		return nil
	}
	for key, val := range updates {
		switch key {
		case "status":
			item.Status = val.(string)
		case "attempts":
			item.Attempts = val.(int)
		case "error_message":
			if val == nil {
				item.ErrorMessage = nil
			} else {
				msg := val.(string)
				item.ErrorMessage = &msg
			}
		case "completed_at":
			t := val.(time.Time)
			item.CompletedAt = &t
		case "last_attempt_at":
			t := val.(time.Time)
			item.LastAttemptAt = &t
		case "conflict_data":
			item.ConflictData = val.(datatypes.JSON)
		case "payload":
			item.Payload = val.(datatypes.JSON)
		case "checksum":
			item.Checksum = val.(string)
		case "last_modified":
			item.LastModified = val.(time.Time)
		}
	}
	return nil
}

func (s *stubRepo) ListQueueItems(ctx context.Context, params repository.ListQueueItemsParams) ([]models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.QueueItem
	for _, item := range s.queue {
		if params.DeviceID != "" && item.DeviceID != params.DeviceID {
			continue
		}
		if params.UserKey != nil && item.UserKey != strings.ToLower(*params.UserKey) {
			continue
		}
		if params.Status != nil && item.Status != *params.Status {
			continue
		}
		if params.EntityType != nil && item.EntityType != *params.EntityType {
			continue
		}
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		if !out[i].LastModified.Equal(out[j].LastModified) {
			return out[i].LastModified.Before(out[j].LastModified)
		}
		return s.queueSeq[out[i].ID] < s.queueSeq[out[j].ID]
	})
	if params.Offset > 0 {
		if params.Offset >= len(out) {
			return nil, nil
		}
		out = out[params.Offset:]
	}
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

func (s *stubRepo) CountQueueItems(ctx context.Context, params repository.ListQueueItemsParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, item := range s.queue {
		if params.DeviceID != "" && item.DeviceID != params.DeviceID {
			continue
		}
		if params.Status != nil && item.Status != *params.Status {
			continue
		}
		if params.EntityType != nil && item.EntityType != *params.EntityType {
			continue
		}
		total++
	}
	return total, nil
}

func (s *stubRepo) ResetSyncingQueueItems(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, item := range s.queue {
		if item.Status == models.QueueStatusSyncing {
			item.Status = models.QueueStatusPending
			n++
		}
	}
	return n, nil
}

func (s *stubRepo) DeleteCompletedQueueItemsBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, item := range s.queue {
		if item.Status == models.QueueStatusCompleted && item.CompletedAt != nil && item.CompletedAt.Before(before) {
			delete(s.queue, id)
			n++
		}
	}
	return n, nil
}

// --- cache -------------------------------------------------------------

func (s *stubRepo) GetCacheEntry(ctx context.Context, deviceID, cacheKey string) (*models.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache[cacheKeyOf(deviceID, cacheKey)]
	if !ok {
		return nil, nil
	}
	out := *entry
	return &out, nil
}

func (s *stubRepo) UpsertCacheEntry(ctx context.Context, entry *models.CacheEntry) (*models.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cacheKeyOf(entry.DeviceID, entry.CacheKey)
	if existing, ok := s.cache[key]; ok {
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
		existing.AccessCount++
		existing.LastAccessAt = entry.LastAccessAt
		out := *existing
		return &out, nil
	}
	cp := *entry
	cp.AccessCount = 1
	s.cache[key] = &cp
	out := cp
	return &out, nil
}

func (s *stubRepo) TouchCacheEntry(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.cache {
		if entry.ID == id {
			entry.AccessCount++
			entry.LastAccessAt = at
		}
	}
	return nil
}

func (s *stubRepo) MarkCacheStale(ctx context.Context, deviceID, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	prefix, suffix, wildcard := pattern, "", false
	if idx := strings.Index(pattern, "*"); idx >= 0 {
		wildcard = true
		prefix = pattern[:idx]
		suffix = pattern[idx+1:]
	}
	for _, entry := range s.cache {
		if entry.DeviceID != deviceID {
			continue
		}
		match := entry.CacheKey == pattern
		if wildcard {
			match = strings.HasPrefix(entry.CacheKey, prefix) && strings.HasSuffix(entry.CacheKey, suffix)
		}
		if match {
			entry.IsStale = true
			n++
		}
	}
	return n, nil
}

func (s *stubRepo) SumCacheBytes(ctx context.Context, deviceID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, entry := range s.cache {
		if entry.DeviceID == deviceID {
			total += entry.SizeBytes
		}
	}
	return total, nil
}

func (s *stubRepo) TotalCacheBytes(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, entry := range s.cache {
		total += entry.SizeBytes
	}
	return total, nil
}

func (s *stubRepo) CountCacheEntries(ctx context.Context) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total, stale int64
	for _, entry := range s.cache {
		total++
		if entry.IsStale {
			stale++
		}
	}
	return total, stale, nil
}

func (s *stubRepo) ListEvictionCandidates(ctx context.Context, deviceID string, limit int) ([]models.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CacheEntry
	for _, entry := range s.cache {
		if entry.DeviceID == deviceID {
			out = append(out, *entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].LastAccessAt.Equal(out[j].LastAccessAt) {
			return out[i].LastAccessAt.Before(out[j].LastAccessAt)
		}
		return out[i].AccessCount < out[j].AccessCount
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubRepo) DeleteCacheEntry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.cache {
		if entry.ID == id {
			delete(s.cache, key)
		}
	}
	return nil
}

func (s *stubRepo) DeleteExpiredCacheEntries(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key, entry := range s.cache {
		if entry.ExpiresAt != nil && entry.ExpiresAt.Before(before) {
			delete(s.cache, key)
			n++
		}
	}
	return n, nil
}

// --- conflicts ---------------------------------------------------------

func (s *stubRepo) CreateConflict(ctx context.Context, rec *models.ConflictRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	if cp.CreatedAt.IsZero() {
		s.seq++
		cp.CreatedAt = time.Unix(int64(s.seq), 0)
	}
	s.conflicts[cp.ID] = &cp
	return nil
}

func (s *stubRepo) GetConflictByID(ctx context.Context, id string) (*models.ConflictRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.conflicts[id]
	if !ok {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

func (s *stubRepo) SaveConflict(ctx context.Context, rec *models.ConflictRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.conflicts[cp.ID] = &cp
	return nil
}

func (s *stubRepo) ListConflicts(ctx context.Context, params repository.ListConflictsParams) ([]models.ConflictRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ConflictRecord
	for _, rec := range s.conflicts {
		if params.UserKey != nil && rec.UserKey != strings.ToLower(*params.UserKey) {
			continue
		}
		if params.DeviceID != nil && rec.DeviceID != *params.DeviceID {
			continue
		}
		if params.Resolved != nil && rec.IsResolved != *params.Resolved {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *stubRepo) CountUnresolvedConflicts(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, rec := range s.conflicts {
		if !rec.IsResolved {
			n++
		}
	}
	return n, nil
}

// --- sessions ----------------------------------------------------------

func (s *stubRepo) CreateSession(ctx context.Context, sess *models.SyncSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[cp.ID] = &cp
	return nil
}

func (s *stubRepo) SaveSession(ctx context.Context, sess *models.SyncSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[cp.ID] = &cp
	return nil
}

func (s *stubRepo) GetSessionByID(ctx context.Context, id string) (*models.SyncSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	out := *sess
	return &out, nil
}

func (s *stubRepo) ListStartedSessions(ctx context.Context) ([]models.SyncSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SyncSession
	for _, sess := range s.sessions {
		if sess.Status == models.SessionStarted {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}

func (s *stubRepo) CountStartedSessions(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, sess := range s.sessions {
		if sess.Status == models.SessionStarted {
			n++
		}
	}
	return n, nil
}

func (s *stubRepo) DeleteSessionsEndedBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.EndTime != nil && sess.EndTime.Before(before) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}
