package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"civicsync/internal/endpoint"
	"civicsync/internal/models"
	"civicsync/internal/repository"
)

const (
	DefaultBatchSize   = 50
	DefaultItemTimeout = 30 * time.Second
)

// Orchestrator drives one synchronization pass per device: it reads due
// items in priority order, pushes each to the sync endpoint, classifies
// the outcome and keeps the session record current after every item. One
// item's failure never blocks the rest of the batch.
type Orchestrator struct {
	Repo      repository.Repository
	Queue     *QueueService
	Conflicts *ConflictService
	Endpoint  endpoint.Endpoint
	Registry  *SessionRegistry
	Logger    *zap.Logger

	BatchSize   int
	ItemTimeout time.Duration
}

// ItemError is one per-item failure recorded on the session.
type ItemError struct {
	ItemID     string `json:"itemId"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Error      string `json:"error"`
}

// SessionSummary is the finalized result of a pass. A non-empty error
// list does not mean overall failure; check Status.
type SessionSummary struct {
	SessionID        string      `json:"sessionId"`
	Status           string      `json:"status"`
	TotalItems       int         `json:"totalItems"`
	ProcessedItems   int         `json:"processedItems"`
	SuccessfulItems  int         `json:"successfulItems"`
	FailedItems      int         `json:"failedItems"`
	ConflictItems    int         `json:"conflictItems"`
	BytesTransferred int64       `json:"bytesTransferred"`
	Errors           []ItemError `json:"errors"`
}

func (o *Orchestrator) batchSize() int {
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return DefaultBatchSize
}

func (o *Orchestrator) itemTimeout() time.Duration {
	if o.ItemTimeout > 0 {
		return o.ItemTimeout
	}
	return DefaultItemTimeout
}

// RunPass executes one session for (deviceID, userKey). A second pass
// for a device whose session is still started is rejected, not queued.
func (o *Orchestrator) RunPass(ctx context.Context, deviceID, userKey string) (*SessionSummary, error) {
	if deviceID == "" || userKey == "" {
		return nil, fmt.Errorf("%w: deviceId and userKey are required", ErrValidation)
	}

	sessionID := uuid.NewString()
	if !o.Registry.Acquire(deviceID, sessionID) {
		return nil, ErrSessionActive
	}
	// The release must hold on every exit path, panics included.
	defer o.Registry.Release(deviceID)

	now := time.Now().UTC()
	session := &models.SyncSession{
		ID:        sessionID,
		UserKey:   userKey,
		DeviceID:  deviceID,
		StartTime: now,
		Status:    models.SessionStarted,
	}
	if err := o.Repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	summary, err := o.processBatch(ctx, session)
	end := time.Now().UTC()
	session.EndTime = &end
	if err != nil {
		session.Status = models.SessionFailed
		summary.Errors = append(summary.Errors, ItemError{Error: err.Error()})
		o.persistSession(ctx, session, summary)
		return summary, err
	}
	session.Status = models.SessionCompleted
	o.persistSession(ctx, session, summary)

	if o.Logger != nil {
		o.Logger.Info("sync session finished",
			zap.String("device_id", deviceID),
			zap.String("session_id", sessionID),
			zap.Int("success", summary.SuccessfulItems),
			zap.Int("failed", summary.FailedItems),
			zap.Int("conflicts", summary.ConflictItems),
			zap.Int64("bytes", summary.BytesTransferred))
	}
	return summary, nil
}

func (o *Orchestrator) processBatch(ctx context.Context, session *models.SyncSession) (*SessionSummary, error) {
	summary := &SessionSummary{SessionID: session.ID, Errors: []ItemError{}}

	status := models.QueueStatusPending
	items, err := o.Repo.ListQueueItems(ctx, repository.ListQueueItemsParams{
		DeviceID: session.DeviceID,
		UserKey:  &session.UserKey,
		Status:   &status,
		Limit:    o.batchSize(),
	})
	if err != nil {
		return summary, fmt.Errorf("list pending items: %w", err)
	}
	summary.TotalItems = len(items)
	session.TotalItems = len(items)
	o.persistSession(ctx, session, summary)

	for i := range items {
		item := &items[i]
		o.processItem(ctx, item, summary)
		summary.ProcessedItems++
		// Keep the session row truthful after every item so progress
		// survives interruption mid-pass.
		o.persistSession(ctx, session, summary)
	}

	return summary, nil
}

func (o *Orchestrator) processItem(ctx context.Context, item *models.QueueItem, summary *SessionSummary) {
	if err := o.Queue.MarkSyncing(ctx, item.ID); err != nil {
		o.recordFailure(ctx, item, summary, fmt.Sprintf("mark syncing: %v", err))
		return
	}

	itemCtx, cancel := context.WithTimeout(ctx, o.itemTimeout())
	res, err := o.Endpoint.Push(itemCtx, endpoint.Request{
		UserKey:    item.UserKey,
		DeviceID:   item.DeviceID,
		EntityType: item.EntityType,
		EntityID:   item.EntityID,
		Operation:  item.Operation,
		Payload:    json.RawMessage(item.Payload),
		Checksum:   item.Checksum,
	})
	cancel()

	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "sync endpoint timed out"
		}
		o.recordFailure(ctx, item, summary, msg)
		return
	}

	switch res.Outcome {
	case endpoint.OutcomeSuccess:
		if err := o.Queue.MarkCompleted(ctx, item.ID); err != nil {
			o.recordFailure(ctx, item, summary, fmt.Sprintf("mark completed: %v", err))
			return
		}
		summary.SuccessfulItems++
		summary.BytesTransferred += res.BytesTransferred

	case endpoint.OutcomeConflict:
		if err := o.Queue.MarkConflict(ctx, item.ID, res.ServerData); err != nil {
			o.recordFailure(ctx, item, summary, fmt.Sprintf("mark conflict: %v", err))
			return
		}
		if _, err := o.Conflicts.Create(ctx, item, res.ConflictType, res.ServerData); err != nil {
			o.recordFailure(ctx, item, summary, fmt.Sprintf("record conflict: %v", err))
			return
		}
		summary.ConflictItems++

	default:
		msg := res.Message
		if msg == "" {
			msg = "sync endpoint rejected item"
		}
		o.recordFailure(ctx, item, summary, msg)
	}
}

func (o *Orchestrator) recordFailure(ctx context.Context, item *models.QueueItem, summary *SessionSummary, msg string) {
	terminal, err := o.Queue.RecordFailure(ctx, item, msg)
	if err != nil && o.Logger != nil {
		o.Logger.Error("failed to record item failure",
			zap.String("item_id", item.ID), zap.Error(err))
	}
	summary.FailedItems++
	summary.Errors = append(summary.Errors, ItemError{
		ItemID:     item.ID,
		EntityType: item.EntityType,
		EntityID:   item.EntityID,
		Error:      msg,
	})
	if o.Logger != nil {
		o.Logger.Warn("item sync failed",
			zap.String("entity_type", item.EntityType),
			zap.String("entity_id", item.EntityID),
			zap.Bool("terminal", terminal),
			zap.String("error", msg))
	}
}

func (o *Orchestrator) persistSession(ctx context.Context, session *models.SyncSession, summary *SessionSummary) {
	session.ProcessedItems = summary.ProcessedItems
	session.SuccessfulItems = summary.SuccessfulItems
	session.FailedItems = summary.FailedItems
	session.ConflictItems = summary.ConflictItems
	session.BytesTransferred = summary.BytesTransferred
	if raw, err := json.Marshal(summary.Errors); err == nil {
		session.ErrorMessages = datatypes.JSON(raw)
	}
	summary.Status = session.Status
	if err := o.Repo.SaveSession(ctx, session); err != nil && o.Logger != nil {
		o.Logger.Error("failed to persist session progress",
			zap.String("session_id", session.ID), zap.Error(err))
	}
}

// RecoverInterrupted finalizes sessions left started by a previous run
// and re-arms their queue items so the next pass retries them. Called
// once at startup; problems are logged, not raised to request paths.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) error {
	stale, err := o.Repo.ListStartedSessions(ctx)
	if err != nil {
		return fmt.Errorf("list started sessions: %w", err)
	}
	now := time.Now().UTC()
	for i := range stale {
		s := &stale[i]
		s.Status = models.SessionFailed
		s.EndTime = &now
		msg, _ := json.Marshal([]ItemError{{Error: "session interrupted by process restart"}})
		s.ErrorMessages = datatypes.JSON(msg)
		if err := o.Repo.SaveSession(ctx, s); err != nil {
			return fmt.Errorf("finalize interrupted session %s: %w", s.ID, err)
		}
	}
	reset, err := o.Repo.ResetSyncingQueueItems(ctx)
	if err != nil {
		return fmt.Errorf("reset syncing items: %w", err)
	}
	if o.Logger != nil && (len(stale) > 0 || reset > 0) {
		o.Logger.Info("recovered interrupted sync state",
			zap.Int("sessions", len(stale)),
			zap.Int64("items_reset", reset))
	}
	return nil
}
