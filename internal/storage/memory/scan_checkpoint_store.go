package memory

import (
	"context"
	"encoding/json"
	"sync"

	"squeeze-discovery/internal/storage"
)

// ScanCheckpointStore is an in-memory implementation of storage.ScanCheckpointStore.
type ScanCheckpointStore struct {
	mu sync.RWMutex
	cp *storage.ScanCheckpoint
}

// NewScanCheckpointStore creates a new in-memory scan checkpoint store.
func NewScanCheckpointStore() *ScanCheckpointStore {
	return &ScanCheckpointStore{}
}

var _ storage.ScanCheckpointStore = (*ScanCheckpointStore)(nil)

// GetLastGood returns the last saved checkpoint.
func (s *ScanCheckpointStore) GetLastGood(_ context.Context) (*storage.ScanCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cp == nil {
		return nil, storage.ErrNotFound
	}
	return copyCheckpoint(s.cp), nil
}

// SaveLastGood replaces the saved checkpoint.
func (s *ScanCheckpointStore) SaveLastGood(_ context.Context, cp *storage.ScanCheckpoint) error {
	if cp == nil || cp.RunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cp = copyCheckpoint(cp)
	return nil
}

func copyCheckpoint(cp *storage.ScanCheckpoint) *storage.ScanCheckpoint {
	c := *cp
	c.Items = make([]json.RawMessage, len(cp.Items))
	for i, item := range cp.Items {
		c.Items[i] = append(json.RawMessage(nil), item...)
	}
	return &c
}
