package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"squeeze-discovery/internal/domain"
	"squeeze-discovery/internal/storage"
)

func TestScoreSnapshotStore_InsertAndGet(t *testing.T) {
	store := NewScoreSnapshotStore()
	ctx := context.Background()

	snaps := []*domain.ScoreSnapshot{
		{Symbol: "abc", Timestamp: 2000, Score: 70, Tier: domain.TierEarlyReady},
		{Symbol: "ABC", Timestamp: 1000, Score: 60, Tier: domain.TierMonitor},
		{Symbol: "XYZ", Timestamp: 1500, Score: 50, Tier: domain.TierMonitor},
	}
	if err := store.InsertBulk(ctx, snaps); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}
	// Re-inserting is a no-op.
	if err := store.InsertBulk(ctx, snaps[:1]); err != nil {
		t.Fatalf("InsertBulk re-insert failed: %v", err)
	}

	got, err := store.GetBySymbol(ctx, "ABC", 0, 5000)
	if err != nil {
		t.Fatalf("GetBySymbol failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(got))
	}
	if got[0].Timestamp != 1000 || got[1].Timestamp != 2000 {
		t.Errorf("snapshots not ordered by timestamp: %d, %d", got[0].Timestamp, got[1].Timestamp)
	}

	got, _ = store.GetBySymbol(ctx, "ABC", 1500, 5000)
	if len(got) != 1 {
		t.Errorf("time range filter: expected 1, got %d", len(got))
	}

	if err := store.InsertBulk(ctx, []*domain.ScoreSnapshot{{}}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestScanCheckpointStore(t *testing.T) {
	store := NewScanCheckpointStore()
	ctx := context.Background()

	if _, err := store.GetLastGood(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	items := []json.RawMessage{json.RawMessage(`{"symbol":"ABC"}`)}
	if err := store.SaveLastGood(ctx, &storage.ScanCheckpoint{RunID: "r1", Items: items}); err != nil {
		t.Fatalf("SaveLastGood failed: %v", err)
	}
	items[0][2] = 'X' // caller mutation must not leak into the store

	cp, err := store.GetLastGood(ctx)
	if err != nil {
		t.Fatalf("GetLastGood failed: %v", err)
	}
	if cp.RunID != "r1" || string(cp.Items[0]) != `{"symbol":"ABC"}` {
		t.Errorf("unexpected checkpoint: %+v", cp)
	}

	if err := store.SaveLastGood(ctx, &storage.ScanCheckpoint{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
