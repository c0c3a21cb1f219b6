package service

import "errors"

var (
	// ErrValidation covers bad enqueue/resolve arguments.
	ErrValidation = errors.New("validation error")

	// ErrSessionActive is returned when a sync pass is requested for a
	// device that already has a started session.
	ErrSessionActive = errors.New("sync session already active for device")

	ErrConflictNotFound = errors.New("conflict not found")
	ErrConflictResolved = errors.New("conflict already resolved")

	ErrQueueItemNotFound = errors.New("queue item not found")

	// ErrCacheLimitUnreachable means eviction could not free enough
	// space. Put proceeds anyway; the overage is logged, never raised to
	// the caller.
	ErrCacheLimitUnreachable = errors.New("cache eviction could not free enough space")
)
