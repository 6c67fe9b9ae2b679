package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squeeze-discovery/internal/domain"
	"squeeze-discovery/internal/storage"
)

func TestScoreSnapshotStore_InsertAndGet(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewScoreSnapshotStore(conn)

	snaps := []*domain.ScoreSnapshot{
		{
			Symbol: "ABC", Timestamp: 2000, Score: 74, RawScore: 81,
			Tier: domain.TierEarlyReady, ColdTape: true,
			Components: domain.SubScores{VolumeMomentum: 0.8, Catalyst: 1},
		},
		{Symbol: "ABC", Timestamp: 1000, Score: 55, RawScore: 55, Tier: domain.TierMonitor},
		{Symbol: "ABC", Timestamp: 2000, Score: 40, RawScore: 40, Tier: domain.TierWatch, Synthetic: true},
		{Symbol: "XYZ", Timestamp: 1500, Score: 50, RawScore: 50, Tier: domain.TierMonitor},
	}
	require.NoError(t, store.InsertBulk(ctx, snaps))

	got, err := store.GetBySymbol(ctx, "abc", 0, 5000)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, int64(1000), got[0].Timestamp)
	assert.Equal(t, int64(2000), got[1].Timestamp)
	assert.False(t, got[1].Synthetic)
	assert.True(t, got[2].Synthetic)

	assert.Equal(t, 74, got[1].Score)
	assert.Equal(t, 81, got[1].RawScore)
	assert.Equal(t, domain.TierEarlyReady, got[1].Tier)
	assert.True(t, got[1].ColdTape)
	assert.InDelta(t, 0.8, got[1].Components.VolumeMomentum, 0.0001)
	assert.InDelta(t, 1.0, got[1].Components.Catalyst, 0.0001)
}

func TestScoreSnapshotStore_ReinsertCollapses(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewScoreSnapshotStore(conn)

	snap := &domain.ScoreSnapshot{Symbol: "ABC", Timestamp: 1000, Score: 60, RawScore: 60, Tier: domain.TierMonitor}
	require.NoError(t, store.InsertBulk(ctx, []*domain.ScoreSnapshot{snap}))
	require.NoError(t, store.InsertBulk(ctx, []*domain.ScoreSnapshot{snap}))

	got, err := store.GetBySymbol(ctx, "ABC", 0, 5000)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestScoreSnapshotStore_InvalidInput(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewScoreSnapshotStore(conn)
	err := store.InsertBulk(context.Background(), []*domain.ScoreSnapshot{{Timestamp: 1}})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	assert.NoError(t, store.InsertBulk(context.Background(), nil))
}
