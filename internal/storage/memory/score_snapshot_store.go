package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"squeeze-discovery/internal/domain"
	"squeeze-discovery/internal/idhash"
	"squeeze-discovery/internal/storage"
)

// ScoreSnapshotStore is an in-memory implementation of storage.ScoreSnapshotStore.
type ScoreSnapshotStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ScoreSnapshot // keyed by snapshot id
}

// NewScoreSnapshotStore creates a new in-memory score snapshot store.
func NewScoreSnapshotStore() *ScoreSnapshotStore {
	return &ScoreSnapshotStore{
		data: make(map[string]*domain.ScoreSnapshot),
	}
}

var _ storage.ScoreSnapshotStore = (*ScoreSnapshotStore)(nil)

// InsertBulk adds snapshots; rows with an existing snapshot id are skipped.
func (s *ScoreSnapshotStore) InsertBulk(_ context.Context, snapshots []*domain.ScoreSnapshot) error {
	for _, snap := range snapshots {
		if snap == nil || snap.Symbol == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, snap := range snapshots {
		id := idhash.ComputeSnapshotID(snap.Symbol, snap.Timestamp, snap.Synthetic)
		if _, exists := s.data[id]; exists {
			continue
		}
		snapCopy := *snap
		snapCopy.Symbol = strings.ToUpper(snap.Symbol)
		s.data[id] = &snapCopy
	}
	return nil
}

// GetBySymbol retrieves snapshots for a symbol within [start, end], ordered by timestamp ASC.
func (s *ScoreSnapshotStore) GetBySymbol(_ context.Context, symbol string, start, end int64) ([]*domain.ScoreSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbol = strings.ToUpper(symbol)
	var result []*domain.ScoreSnapshot
	for _, snap := range s.data {
		if snap.Symbol == symbol && snap.Timestamp >= start && snap.Timestamp <= end {
			snapCopy := *snap
			result = append(result, &snapCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp < result[j].Timestamp
		}
		return !result[i].Synthetic && result[j].Synthetic
	})
	return result, nil
}
