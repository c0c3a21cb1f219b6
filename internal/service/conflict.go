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

var validResolutions = map[string]struct{}{
	models.ResolveUseLocal:  {},
	models.ResolveUseServer: {},
	models.ResolveMerge:     {},
	models.ResolveManual:    {},
	models.ResolveSkip:      {},
}

var validConflictTypes = map[string]struct{}{
	models.ConflictDataMismatch: {},
	models.ConflictVersion:      {},
	models.ConflictDelete:       {},
	models.ConflictPermission:   {},
}

// ConflictService records detected conflicts and applies resolutions to
// the linked queue item. Detection itself happens in the orchestrator.
type ConflictService struct {
	Repo      repository.ConflictRepository
	QueueRepo repository.QueueRepository
	Logger    *zap.Logger
}

// Create records one conflict for a queue item. Unknown conflict types
// collapse to data_mismatch rather than failing the sync pass.
func (s *ConflictService) Create(ctx context.Context, item *models.QueueItem, conflictType string, serverData json.RawMessage) (*models.ConflictRecord, error) {
	if item == nil {
		return nil, fmt.Errorf("%w: queue item is required", ErrValidation)
	}
	if _, ok := validConflictTypes[conflictType]; !ok {
		conflictType = models.ConflictDataMismatch
	}
	rec := &models.ConflictRecord{
		ID:           uuid.NewString(),
		QueueItemID:  item.ID,
		UserKey:      item.UserKey,
		DeviceID:     item.DeviceID,
		EntityType:   item.EntityType,
		EntityID:     item.EntityID,
		ConflictType: conflictType,
		LocalData:    item.Payload,
		ServerData:   datatypes.JSON(serverData),
	}
	if err := s.Repo.CreateConflict(ctx, rec); err != nil {
		return nil, fmt.Errorf("create conflict for %s %s: %w", item.EntityType, item.EntityID, err)
	}
	if s.Logger != nil {
		s.Logger.Warn("conflict recorded",
			zap.String("entity_type", item.EntityType),
			zap.String("entity_id", item.EntityID),
			zap.String("conflict_type", conflictType))
	}
	return rec, nil
}

// ListUnresolved returns open conflicts for a user/device, oldest first.
func (s *ConflictService) ListUnresolved(ctx context.Context, userKey, deviceID string) ([]models.ConflictRecord, error) {
	resolved := false
	params := repository.ListConflictsParams{Resolved: &resolved}
	if v := strings.TrimSpace(userKey); v != "" {
		params.UserKey = &v
	}
	if v := strings.TrimSpace(deviceID); v != "" {
		params.DeviceID = &v
	}
	return s.Repo.ListConflicts(ctx, params)
}

// Resolve applies exactly one resolution to a conflict and transitions
// the linked queue item: skip completes it without error, every other
// resolution replaces its payload and re-arms it pending with attempts
// reset so it re-enters the next pass.
func (s *ConflictService) Resolve(ctx context.Context, conflictID, resolution string, resolvedData json.RawMessage, resolvedBy string) (*models.ConflictRecord, error) {
	if _, ok := validResolutions[resolution]; !ok {
		return nil, fmt.Errorf("%w: unknown resolution %q", ErrValidation, resolution)
	}
	if (resolution == models.ResolveMerge || resolution == models.ResolveManual) && len(resolvedData) == 0 {
		return nil, fmt.Errorf("%w: resolvedData is required for %s", ErrValidation, resolution)
	}
	rec, err := s.Repo.GetConflictByID(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrConflictNotFound
	}
	if rec.IsResolved {
		return nil, ErrConflictResolved
	}

	resolvedBy = strings.TrimSpace(resolvedBy)
	if resolvedBy == "" {
		resolvedBy = "user"
	}
	now := time.Now().UTC()
	rec.Resolution = &resolution
	rec.ResolvedData = datatypes.JSON(resolvedData)
	rec.IsResolved = true
	rec.ResolvedAt = &now
	rec.ResolvedBy = &resolvedBy
	if err := s.Repo.SaveConflict(ctx, rec); err != nil {
		return nil, fmt.Errorf("save resolution: %w", err)
	}

	item, err := s.QueueRepo.GetQueueItemByID(ctx, rec.QueueItemID)
	if err != nil {
		return nil, err
	}
	if item != nil {
		if resolution == models.ResolveSkip {
			// The mutation is abandoned without error.
			err = s.QueueRepo.UpdateQueueItem(ctx, item.ID, map[string]any{
				"status":       models.QueueStatusCompleted,
				"completed_at": now,
			})
		} else {
			payload := resolvedData
			if len(payload) == 0 {
				if resolution == models.ResolveUseLocal {
					payload = json.RawMessage(rec.LocalData)
				} else {
					payload = json.RawMessage(rec.ServerData)
				}
			}
			err = s.QueueRepo.UpdateQueueItem(ctx, item.ID, map[string]any{
				"status":        models.QueueStatusPending,
				"payload":       datatypes.JSON(payload),
				"checksum":      Checksum(payload),
				"attempts":      0,
				"error_message": nil,
				"last_modified": now,
			})
		}
		if err != nil {
			return nil, fmt.Errorf("apply resolution to queue item: %w", err)
		}
	}

	if s.Logger != nil {
		s.Logger.Info("conflict resolved",
			zap.String("conflict_id", conflictID),
			zap.String("resolution", resolution),
			zap.String("resolved_by", resolvedBy))
	}
	return rec, nil
}
