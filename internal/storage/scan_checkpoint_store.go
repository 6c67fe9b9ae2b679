package storage

import (
	"context"
	"encoding/json"
	"time"
)

// ScanCheckpoint is the last successful external scan artifact.
type ScanCheckpoint struct {
	RunID      string
	SnapshotTS string
	Items      []json.RawMessage
	SavedAt    time.Time
}

// ScanCheckpointStore persists the last good scan so the universe source chain
// can fall back to it after a restart.
type ScanCheckpointStore interface {
	// GetLastGood returns the last saved checkpoint.
	// Returns ErrNotFound if nothing has been saved yet.
	GetLastGood(ctx context.Context) (*ScanCheckpoint, error)

	// SaveLastGood replaces the saved checkpoint.
	SaveLastGood(ctx context.Context, cp *ScanCheckpoint) error
}
