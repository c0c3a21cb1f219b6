package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"civicsync/internal/repository"
)

const (
	DefaultQueueRetention   = 30 * 24 * time.Hour
	DefaultSessionRetention = 30 * 24 * time.Hour
)

// CleanupService is the out-of-band reclamation pass: expired cache rows
// (Get expires lazily and never deletes), long-completed queue items and
// old finished sessions. Runs on a cron schedule.
type CleanupService struct {
	Repo   repository.Repository
	Logger *zap.Logger

	QueueRetention   time.Duration
	SessionRetention time.Duration
}

func (s *CleanupService) Run(ctx context.Context) {
	now := time.Now().UTC()

	expired, err := s.Repo.DeleteExpiredCacheEntries(ctx, now)
	if err != nil && s.Logger != nil {
		s.Logger.Warn("cleanup: expired cache delete failed", zap.Error(err))
	}

	queueRetention := s.QueueRetention
	if queueRetention <= 0 {
		queueRetention = DefaultQueueRetention
	}
	oldItems, err := s.Repo.DeleteCompletedQueueItemsBefore(ctx, now.Add(-queueRetention))
	if err != nil && s.Logger != nil {
		s.Logger.Warn("cleanup: completed queue delete failed", zap.Error(err))
	}

	sessionRetention := s.SessionRetention
	if sessionRetention <= 0 {
		sessionRetention = DefaultSessionRetention
	}
	oldSessions, err := s.Repo.DeleteSessionsEndedBefore(ctx, now.Add(-sessionRetention))
	if err != nil && s.Logger != nil {
		s.Logger.Warn("cleanup: old session delete failed", zap.Error(err))
	}

	if s.Logger != nil && (expired > 0 || oldItems > 0 || oldSessions > 0) {
		s.Logger.Info("cleanup pass",
			zap.Int64("expired_cache", expired),
			zap.Int64("completed_queue", oldItems),
			zap.Int64("old_sessions", oldSessions))
	}
}
