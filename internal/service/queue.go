package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
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

const DefaultMaxAttempts = 3

var validEntityTypes = map[string]struct{}{
	models.EntityDocument:     {},
	models.EntityGrievance:    {},
	models.EntityProfile:      {},
	models.EntityNotification: {},
	models.EntityMessage:      {},
	models.EntityConfig:       {},
}

var validOperations = map[string]struct{}{
	models.OpCreate: {},
	models.OpUpdate: {},
	models.OpDelete: {},
}

// QueueService owns the durable table of pending mutations.
type QueueService struct {
	Repo   repository.QueueRepository
	Logger *zap.Logger
}

type EnqueueOptions struct {
	Priority    int
	Metadata    json.RawMessage
	MaxAttempts int
}

// Enqueue upserts a mutation by its (device, entityType, entityId,
// operation) key. The latest intent always wins over an unsynced one:
// re-enqueuing a pending key replaces payload, metadata, priority and
// checksum and resets attempts.
func (s *QueueService) Enqueue(ctx context.Context, userKey, deviceID, entityType, entityID, operation string, payload json.RawMessage, opts EnqueueOptions) (*models.QueueItem, error) {
	userKey = strings.ToLower(strings.TrimSpace(userKey))
	deviceID = strings.TrimSpace(deviceID)
	entityID = strings.TrimSpace(entityID)
	if userKey == "" || deviceID == "" || entityID == "" {
		return nil, fmt.Errorf("%w: userKey, deviceId and entityId are required", ErrValidation)
	}
	if _, ok := validEntityTypes[entityType]; !ok {
		return nil, fmt.Errorf("%w: unknown entity type %q", ErrValidation, entityType)
	}
	if _, ok := validOperations[operation]; !ok {
		return nil, fmt.Errorf("%w: unknown operation %q", ErrValidation, operation)
	}

	priority := opts.Priority
	if priority == 0 {
		priority = 5
	}
	if priority < 1 || priority > 10 {
		return nil, fmt.Errorf("%w: priority must be 1..10, got %d", ErrValidation, priority)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	item := &models.QueueItem{
		ID:           uuid.NewString(),
		UserKey:      userKey,
		DeviceID:     deviceID,
		EntityType:   entityType,
		EntityID:     entityID,
		Operation:    operation,
		Priority:     priority,
		Payload:      datatypes.JSON(payload),
		Metadata:     datatypes.JSON(opts.Metadata),
		Status:       models.QueueStatusPending,
		MaxAttempts:  maxAttempts,
		Checksum:     Checksum(payload),
		LastModified: time.Now().UTC(),
	}

	stored, err := s.Repo.UpsertQueueItem(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s %s: %w", entityType, entityID, err)
	}
	if s.Logger != nil {
		s.Logger.Debug("queued mutation",
			zap.String("device_id", deviceID),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.String("operation", operation))
	}
	return stored, nil
}

// ListPending returns the device's queue filtered by optional status and
// entity type, ordered (priority asc, lastModified asc).
func (s *QueueService) ListPending(ctx context.Context, deviceID string, params repository.ListQueueItemsParams) ([]models.QueueItem, error) {
	params.DeviceID = deviceID
	return s.Repo.ListQueueItems(ctx, params)
}

// MarkSyncing transitions an item to syncing and stamps the attempt time.
func (s *QueueService) MarkSyncing(ctx context.Context, itemID string) error {
	return s.Repo.UpdateQueueItem(ctx, itemID, map[string]any{
		"status":          models.QueueStatusSyncing,
		"last_attempt_at": time.Now().UTC(),
	})
}

// MarkCompleted finalizes an item.
func (s *QueueService) MarkCompleted(ctx context.Context, itemID string) error {
	return s.Repo.UpdateQueueItem(ctx, itemID, map[string]any{
		"status":       models.QueueStatusCompleted,
		"completed_at": time.Now().UTC(),
	})
}

// MarkConflict parks an item until its conflict is resolved.
func (s *QueueService) MarkConflict(ctx context.Context, itemID string, serverData json.RawMessage) error {
	return s.Repo.UpdateQueueItem(ctx, itemID, map[string]any{
		"status":        models.QueueStatusConflict,
		"conflict_data": datatypes.JSON(serverData),
	})
}

// RecordFailure increments the attempt counter and decides whether the
// item is terminally failed or stays pending for a later pass. Returns
// true when the failure was terminal.
func (s *QueueService) RecordFailure(ctx context.Context, item *models.QueueItem, errMsg string) (bool, error) {
	attempts := item.Attempts + 1
	status := models.QueueStatusPending
	if attempts >= item.MaxAttempts {
		status = models.QueueStatusFailed
	}
	err := s.Repo.UpdateQueueItem(ctx, item.ID, map[string]any{
		"status":        status,
		"attempts":      attempts,
		"error_message": errMsg,
	})
	if err != nil {
		return false, err
	}
	item.Attempts = attempts
	item.Status = status
	return status == models.QueueStatusFailed, nil
}

// Checksum is a deterministic content hash over the serialized payload,
// used for conflict detection only, never as an identity key.
func Checksum(payload json.RawMessage) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
