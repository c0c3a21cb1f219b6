package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"civicsync/internal/models"
)

func seedConflict(t *testing.T, repo *stubRepo, serverData json.RawMessage) (*ConflictService, *models.QueueItem, *models.ConflictRecord) {
	t.Helper()
	ctx := context.Background()
	queue := &QueueService{Repo: repo}
	item, err := queue.Enqueue(ctx, "u", "dev-1", models.EntityDocument, "doc-1", models.OpUpdate,
		json.RawMessage(`{"title":"local"}`), EnqueueOptions{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := queue.MarkConflict(ctx, item.ID, serverData); err != nil {
		t.Fatalf("mark conflict: %v", err)
	}
	svc := &ConflictService{Repo: repo, QueueRepo: repo}
	rec, err := svc.Create(ctx, item, models.ConflictVersion, serverData)
	if err != nil {
		t.Fatalf("create conflict: %v", err)
	}
	return svc, item, rec
}

func TestConflictResolveUseServer(t *testing.T) {
	repo := newStubRepo()
	serverData := json.RawMessage(`{"title":"server"}`)
	svc, item, rec := seedConflict(t, repo, serverData)
	ctx := context.Background()

	resolved, err := svc.Resolve(ctx, rec.ID, models.ResolveUseServer, nil, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !resolved.IsResolved || resolved.Resolution == nil || *resolved.Resolution != models.ResolveUseServer {
		t.Fatalf("conflict not marked resolved: %+v", resolved)
	}
	if resolved.ResolvedBy == nil || *resolved.ResolvedBy != "user" {
		t.Fatalf("resolvedBy default missing: %v", resolved.ResolvedBy)
	}

	got, _ := repo.GetQueueItemByID(ctx, item.ID)
	if got.Status != models.QueueStatusPending {
		t.Fatalf("queue item not re-armed: %s", got.Status)
	}
	if string(got.Payload) != string(serverData) {
		t.Fatalf("payload not replaced with server data: %s", got.Payload)
	}
	if got.Checksum != Checksum(serverData) {
		t.Fatal("checksum not recomputed for the new payload")
	}
	if got.Attempts != 0 || got.ErrorMessage != nil {
		t.Fatalf("attempts/error not reset: %d %v", got.Attempts, got.ErrorMessage)
	}
}

func TestConflictResolveUseLocal(t *testing.T) {
	repo := newStubRepo()
	svc, item, rec := seedConflict(t, repo, json.RawMessage(`{"title":"server"}`))
	ctx := context.Background()

	if _, err := svc.Resolve(ctx, rec.ID, models.ResolveUseLocal, nil, "admin"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	got, _ := repo.GetQueueItemByID(ctx, item.ID)
	if string(got.Payload) != `{"title":"local"}` {
		t.Fatalf("payload should keep the local version: %s", got.Payload)
	}
	if got.Status != models.QueueStatusPending {
		t.Fatalf("queue item not re-armed: %s", got.Status)
	}
}

func TestConflictResolveMerge(t *testing.T) {
	repo := newStubRepo()
	svc, item, rec := seedConflict(t, repo, json.RawMessage(`{"title":"server"}`))
	ctx := context.Background()

	if _, err := svc.Resolve(ctx, rec.ID, models.ResolveMerge, nil, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("merge without data: want ErrValidation, got %v", err)
	}

	merged := json.RawMessage(`{"title":"merged"}`)
	if _, err := svc.Resolve(ctx, rec.ID, models.ResolveMerge, merged, ""); err != nil {
		t.Fatalf("merge: %v", err)
	}
	got, _ := repo.GetQueueItemByID(ctx, item.ID)
	if string(got.Payload) != string(merged) {
		t.Fatalf("merged payload not applied: %s", got.Payload)
	}
}

func TestConflictResolveSkipCompletesItem(t *testing.T) {
	repo := newStubRepo()
	svc, item, rec := seedConflict(t, repo, json.RawMessage(`{"title":"server"}`))
	ctx := context.Background()

	if _, err := svc.Resolve(ctx, rec.ID, models.ResolveSkip, nil, ""); err != nil {
		t.Fatalf("skip: %v", err)
	}
	got, _ := repo.GetQueueItemByID(ctx, item.ID)
	if got.Status != models.QueueStatusCompleted {
		t.Fatalf("skip must complete the item, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatal("completed_at not stamped")
	}
}

func TestConflictResolveErrors(t *testing.T) {
	repo := newStubRepo()
	svc, _, rec := seedConflict(t, repo, json.RawMessage(`{}`))
	ctx := context.Background()

	if _, err := svc.Resolve(ctx, rec.ID, "discard", nil, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown resolution: want ErrValidation, got %v", err)
	}
	if _, err := svc.Resolve(ctx, "missing-id", models.ResolveSkip, nil, ""); !errors.Is(err, ErrConflictNotFound) {
		t.Fatalf("missing conflict: want ErrConflictNotFound, got %v", err)
	}

	if _, err := svc.Resolve(ctx, rec.ID, models.ResolveSkip, nil, ""); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if _, err := svc.Resolve(ctx, rec.ID, models.ResolveUseLocal, nil, ""); !errors.Is(err, ErrConflictResolved) {
		t.Fatalf("second resolve: want ErrConflictResolved, got %v", err)
	}
}

func TestConflictCreateUnknownTypeCollapses(t *testing.T) {
	repo := newStubRepo()
	svc := &ConflictService{Repo: repo, QueueRepo: repo}
	ctx := context.Background()
	item := &models.QueueItem{ID: "q1", UserKey: "u", DeviceID: "d", EntityType: models.EntityDocument, EntityID: "e"}

	rec, err := svc.Create(ctx, item, "weird", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.ConflictType != models.ConflictDataMismatch {
		t.Fatalf("unknown type should collapse to data_mismatch, got %s", rec.ConflictType)
	}
}

func TestConflictListUnresolved(t *testing.T) {
	repo := newStubRepo()
	svc, _, rec := seedConflict(t, repo, json.RawMessage(`{}`))
	ctx := context.Background()

	open, err := svc.ListUnresolved(ctx, "u", "dev-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 1 || open[0].ID != rec.ID {
		t.Fatalf("expected the seeded conflict, got %d records", len(open))
	}

	if _, err := svc.Resolve(ctx, rec.ID, models.ResolveSkip, nil, ""); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	open, err = svc.ListUnresolved(ctx, "u", "dev-1")
	if err != nil {
		t.Fatalf("list after resolve: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("resolved conflict still listed: %d", len(open))
	}
}
