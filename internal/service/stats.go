package service

import (
	"context"

	"civicsync/internal/models"
	"civicsync/internal/repository"
)

// StatsService aggregates engine-wide counters for the admin surface.
type StatsService struct {
	Repo              repository.Repository
	Registry          *SessionRegistry
	MaxBytesPerDevice int64
}

type QueueStats struct {
	Total   int64 `json:"total"`
	Pending int64 `json:"pending"`
}

type CacheStats struct {
	Total             int64 `json:"total"`
	Stale             int64 `json:"stale"`
	TotalBytes        int64 `json:"totalBytes"`
	MaxBytesPerDevice int64 `json:"maxBytesPerDevice"`
}

type ConflictStats struct {
	Unresolved int64 `json:"unresolved"`
}

type SessionStats struct {
	Started int64 `json:"started"`
	Live    int   `json:"live"`
}

type Statistics struct {
	Queue     QueueStats    `json:"queue"`
	Cache     CacheStats    `json:"cache"`
	Conflicts ConflictStats `json:"conflicts"`
	Sessions  SessionStats  `json:"sessions"`
}

func (s *StatsService) Collect(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{}

	total, err := s.Repo.CountQueueItems(ctx, repository.ListQueueItemsParams{})
	if err != nil {
		return nil, err
	}
	pendingStatus := models.QueueStatusPending
	pending, err := s.Repo.CountQueueItems(ctx, repository.ListQueueItemsParams{Status: &pendingStatus})
	if err != nil {
		return nil, err
	}
	stats.Queue = QueueStats{Total: total, Pending: pending}

	cacheTotal, cacheStale, err := s.Repo.CountCacheEntries(ctx)
	if err != nil {
		return nil, err
	}
	cacheBytes, err := s.Repo.TotalCacheBytes(ctx)
	if err != nil {
		return nil, err
	}
	maxBytes := s.MaxBytesPerDevice
	if maxBytes <= 0 {
		maxBytes = DefaultMaxCacheBytes
	}
	stats.Cache = CacheStats{
		Total:             cacheTotal,
		Stale:             cacheStale,
		TotalBytes:        cacheBytes,
		MaxBytesPerDevice: maxBytes,
	}

	unresolved, err := s.Repo.CountUnresolvedConflicts(ctx)
	if err != nil {
		return nil, err
	}
	stats.Conflicts = ConflictStats{Unresolved: unresolved}

	started, err := s.Repo.CountStartedSessions(ctx)
	if err != nil {
		return nil, err
	}
	live := 0
	if s.Registry != nil {
		live = s.Registry.Len()
	}
	stats.Sessions = SessionStats{Started: started, Live: live}

	return stats, nil
}
