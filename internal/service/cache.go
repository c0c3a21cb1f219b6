package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"civicsync/internal/models"
	"civicsync/internal/repository"
)

const (
	// DefaultMaxCacheBytes is the per-device ceiling (100 MiB).
	DefaultMaxCacheBytes int64 = 100 * 1024 * 1024
	DefaultCacheTTL            = 7 * 24 * time.Hour
	DefaultEvictionScanLimit   = 20
)

// CacheService owns the durable table of cached entity snapshots and the
// per-device size accounting.
type CacheService struct {
	Repo   repository.CacheRepository
	Logger *zap.Logger

	// Zero values fall back to the package defaults.
	MaxBytesPerDevice int64
	DefaultTTL        time.Duration
	EvictionScanLimit int
}

type CachePutOptions struct {
	ExpiresAt *time.Time
	Priority  int
	Metadata  json.RawMessage
}

func (s *CacheService) maxBytes() int64 {
	if s.MaxBytesPerDevice > 0 {
		return s.MaxBytesPerDevice
	}
	return DefaultMaxCacheBytes
}

func (s *CacheService) ttl() time.Duration {
	if s.DefaultTTL > 0 {
		return s.DefaultTTL
	}
	return DefaultCacheTTL
}

func (s *CacheService) scanLimit() int {
	if s.EvictionScanLimit > 0 {
		return s.EvictionScanLimit
	}
	return DefaultEvictionScanLimit
}

// Put upserts a snapshot by (deviceId, cacheKey), enforcing the size
// ceiling first. The entry comes back fresh: stale flag cleared, access
// stats bumped, sync time set to now.
func (s *CacheService) Put(ctx context.Context, userKey, deviceID, cacheKey, entityType, entityID string, data json.RawMessage, opts CachePutOptions) (*models.CacheEntry, error) {
	userKey = strings.ToLower(strings.TrimSpace(userKey))
	deviceID = strings.TrimSpace(deviceID)
	cacheKey = strings.TrimSpace(cacheKey)
	if userKey == "" || deviceID == "" || cacheKey == "" {
		return nil, fmt.Errorf("%w: userKey, deviceId and cacheKey are required", ErrValidation)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: cache data is required", ErrValidation)
	}

	size := int64(len(data))
	if err := s.EnforceLimit(ctx, deviceID, size); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	expiresAt := opts.ExpiresAt
	if expiresAt == nil {
		t := now.Add(s.ttl())
		expiresAt = &t
	}
	priority := opts.Priority
	if priority == 0 {
		priority = 5
	}

	entry := &models.CacheEntry{
		ID:           uuid.NewString(),
		UserKey:      userKey,
		DeviceID:     deviceID,
		CacheKey:     cacheKey,
		EntityType:   entityType,
		EntityID:     entityID,
		Data:         datatypes.JSON(data),
		Metadata:     datatypes.JSON(opts.Metadata),
		ExpiresAt:    expiresAt,
		Priority:     priority,
		SizeBytes:    size,
		LastSyncAt:   now,
		LastAccessAt: now,
	}
	stored, err := s.Repo.UpsertCacheEntry(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("cache put %s: %w", cacheKey, err)
	}
	return stored, nil
}

// Get returns the entry only while unexpired; expired rows are left for
// the retention job (lazy expiry). Reading bumps the access stats.
func (s *CacheService) Get(ctx context.Context, deviceID, cacheKey string) (*models.CacheEntry, error) {
	entry, err := s.Repo.GetCacheEntry(ctx, deviceID, cacheKey)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	now := time.Now().UTC()
	if entry.ExpiresAt != nil && !entry.ExpiresAt.After(now) {
		return nil, nil
	}
	if err := s.Repo.TouchCacheEntry(ctx, entry.ID, now); err != nil {
		return nil, err
	}
	entry.AccessCount++
	entry.LastAccessAt = now
	return entry, nil
}

// MarkStale flags every entry for the device whose key matches the
// pattern ('*' wildcard). Used by collaborators to invalidate cached
// reads after a server-side change.
func (s *CacheService) MarkStale(ctx context.Context, deviceID, pattern string) (int64, error) {
	deviceID = strings.TrimSpace(deviceID)
	pattern = strings.TrimSpace(pattern)
	if deviceID == "" || pattern == "" {
		return 0, fmt.Errorf("%w: deviceId and pattern are required", ErrValidation)
	}
	n, err := s.Repo.MarkCacheStale(ctx, deviceID, pattern)
	if err != nil {
		return 0, err
	}
	if s.Logger != nil && n > 0 {
		s.Logger.Info("marked cache entries stale",
			zap.String("device_id", deviceID),
			zap.String("pattern", pattern),
			zap.Int64("count", n))
	}
	return n, nil
}

// EnforceLimit evicts the least important, least recently and least
// frequently used entries until the incoming write fits under the
// ceiling, considering at most a bounded number of candidates. When that
// is not enough the write still proceeds; the overage is logged.
func (s *CacheService) EnforceLimit(ctx context.Context, deviceID string, incoming int64) error {
	current, err := s.Repo.SumCacheBytes(ctx, deviceID)
	if err != nil {
		return err
	}
	ceiling := s.maxBytes()
	if current+incoming <= ceiling {
		return nil
	}
	need := current + incoming - ceiling

	candidates, err := s.Repo.ListEvictionCandidates(ctx, deviceID, s.scanLimit())
	if err != nil {
		return err
	}
	var freed int64
	for _, c := range candidates {
		if err := s.Repo.DeleteCacheEntry(ctx, c.ID); err != nil {
			return err
		}
		freed += c.SizeBytes
		if freed >= need {
			break
		}
	}
	if s.Logger != nil {
		if freed < need {
			s.Logger.Warn("cache over soft ceiling",
				zap.String("device_id", deviceID),
				zap.Int64("needed", need),
				zap.Int64("freed", freed),
				zap.Error(ErrCacheLimitUnreachable))
		} else if freed > 0 {
			s.Logger.Info("cache eviction",
				zap.String("device_id", deviceID),
				zap.Int64("freed", freed))
		}
	}
	return nil
}
